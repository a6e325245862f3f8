package directory

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Patient is the read-only patient context borrowed from the directory.
type Patient struct {
	ID                string
	Name              string
	DOB               string
	Age               int
	Language          string
	ChronicConditions string // JSON array stored as text
	CaregiverID       string // empty when no caregiver is linked
}

// Minor reports whether appointment actions for this patient require a
// consenting caregiver.
func (p Patient) Minor() bool { return p.Age < 18 }

type Caregiver struct {
	ID            string
	Name          string
	Relationship  string
	ConsentOnFile bool
}

type Appointment struct {
	ID            int64
	PatientID     string
	At            time.Time
	Type          string
	Doctor        string
	Status        string
	Urgency       string // "low", "medium", "high"
	CanReschedule bool
	PlanID        string
}

// Slot is an open booking slot offered as a reschedule alternative.
type Slot struct {
	At       time.Time
	Doctor   string
	Type     string
	Location string
	Modality string // "in_person" or "video"
}

type Prescription struct {
	PatientID string
	DrugName  string
	Condition string
	Dosage    string
}

// DrugInfo is one row of the drug knowledge table.
type DrugInfo struct {
	Name              string
	Class             string
	CommonSideEffects string
	MissedDoseAdvice  string
	Interactions      string
	FoodAdvice        string
	Contraindications string
}

// SymptomReport is one logged symptom occurrence.
type SymptomReport struct {
	PatientID string
	Symptom   string // normalized
	Severity  *int
	At        time.Time
}

// SymptomTrend aggregates one symptom over a window for caregiver digests.
type SymptomTrend struct {
	Symptom     string
	Count       int
	AvgSeverity float64
}

// Adherence summarizes medication dose logs over a window.
type Adherence struct {
	Taken  int
	Missed int
}
