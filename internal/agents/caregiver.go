package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/carelink/aftercare/internal/directory"
	"github.com/carelink/aftercare/internal/orchestrator"
)

// CaregiverStore is the directory slice the caregiver agent reads.
type CaregiverStore interface {
	GetPatient(ctx context.Context, id string) (directory.Patient, error)
	GetCaregiver(ctx context.Context, id string) (directory.Caregiver, error)
	CaregiverPatients(ctx context.Context, caregiverID string) ([]directory.Patient, error)
	SymptomTrends(ctx context.Context, patientID string, days int) ([]directory.SymptomTrend, error)
	MedicationAdherence(ctx context.Context, patientID string, days int) (directory.Adherence, error)
	NextAppointment(ctx context.Context, patientID string) (directory.Appointment, error)
}

const digestWindowDays = 7

// Digest is a consent-gated weekly summary of one patient for a caregiver.
type Digest struct {
	PatientID   string                  `json:"patient_id"`
	PatientName string                  `json:"patient_name"`
	Risk        string                  `json:"risk"`
	Trends      []directory.SymptomTrend `json:"trends,omitempty"`
	Adherence   directory.Adherence     `json:"adherence"`
	NextVisit   string                  `json:"next_visit,omitempty"`
}

// Caregiver produces consent-gated patient digests for family caregivers.
type Caregiver struct {
	store  CaregiverStore
	logger *slog.Logger
}

func NewCaregiver(store CaregiverStore, logger *slog.Logger) *Caregiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Caregiver{store: store, logger: logger}
}

func (c *Caregiver) Handle(ctx context.Context, t *orchestrator.Turn) (orchestrator.Result, error) {
	if t.PatientID == "" {
		return orchestrator.Result{Response: askForPatientID}, nil
	}

	d, err := c.DigestFor(ctx, t.PatientID)
	if errors.Is(err, directory.ErrNotFound) {
		return orchestrator.Result{
			Response: fmt.Sprintf("I couldn't find a patient record for ID %s. "+
				"Please double-check the number.", t.PatientID),
		}, nil
	}
	if errors.Is(err, ErrMissingConsent) {
		return orchestrator.Result{
			Response: "I'm not able to share this patient's health information: there is no " +
				"caregiver consent on file for this record. The patient can add consent " +
				"by contacting the clinic.",
			Context: map[string]any{"blocked": "missing_consent"},
		}, nil
	}
	if err != nil {
		return orchestrator.Result{}, err
	}

	return orchestrator.Result{
		Response: renderDigest(d),
		Risk:     d.Risk,
		Context:  map[string]any{"digest_risk": d.Risk},
	}, nil
}

// DigestFor builds the digest for one patient, enforcing the consent gate.
func (c *Caregiver) DigestFor(ctx context.Context, patientID string) (Digest, error) {
	patient, err := c.store.GetPatient(ctx, patientID)
	if err != nil {
		return Digest{}, err
	}
	if patient.CaregiverID == "" {
		return Digest{}, ErrMissingConsent
	}
	cg, err := c.store.GetCaregiver(ctx, patient.CaregiverID)
	if err != nil {
		return Digest{}, fmt.Errorf("looking up caregiver: %w", err)
	}
	if !cg.ConsentOnFile {
		return Digest{}, ErrMissingConsent
	}
	return c.buildDigest(ctx, patient)
}

func (c *Caregiver) buildDigest(ctx context.Context, patient directory.Patient) (Digest, error) {
	trends, err := c.store.SymptomTrends(ctx, patient.ID, digestWindowDays)
	if err != nil {
		return Digest{}, fmt.Errorf("loading symptom trends: %w", err)
	}
	adherence, err := c.store.MedicationAdherence(ctx, patient.ID, digestWindowDays)
	if err != nil {
		return Digest{}, fmt.Errorf("loading adherence: %w", err)
	}

	d := Digest{
		PatientID:   patient.ID,
		PatientName: patient.Name,
		Trends:      trends,
		Adherence:   adherence,
		Risk:        digestRisk(trends, adherence),
	}

	appt, err := c.store.NextAppointment(ctx, patient.ID)
	if err == nil {
		d.NextVisit = fmt.Sprintf("%s with %s on %s", appt.Type, appt.Doctor,
			appt.At.Format("Monday, January 2"))
	} else if !errors.Is(err, directory.ErrNotFound) {
		return Digest{}, fmt.Errorf("loading next appointment: %w", err)
	}
	return d, nil
}

// DigestAll builds digests for every consented patient of a caregiver,
// fetching them concurrently.
func (c *Caregiver) DigestAll(ctx context.Context, caregiverID string) ([]Digest, error) {
	cg, err := c.store.GetCaregiver(ctx, caregiverID)
	if err != nil {
		return nil, err
	}
	if !cg.ConsentOnFile {
		return nil, ErrMissingConsent
	}
	patients, err := c.store.CaregiverPatients(ctx, caregiverID)
	if err != nil {
		return nil, fmt.Errorf("listing patients: %w", err)
	}

	digests := make([]Digest, len(patients))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range patients {
		i, p := i, p
		g.Go(func() error {
			d, err := c.buildDigest(ctx, p)
			if err != nil {
				return fmt.Errorf("digest for %s: %w", p.ID, err)
			}
			digests[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return digests, nil
}

// digestRisk scores the week: high average severity or several missed doses
// flags the patient for outreach.
func digestRisk(trends []directory.SymptomTrend, adherence directory.Adherence) string {
	var maxAvg float64
	for _, t := range trends {
		if t.AvgSeverity > maxAvg {
			maxAvg = t.AvgSeverity
		}
	}
	switch {
	case maxAvg >= 7 || adherence.Missed >= 3:
		return "HIGH"
	case maxAvg >= 4 || adherence.Missed >= 1:
		return "MODERATE"
	default:
		return "LOW"
	}
}

func renderDigest(d Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Weekly summary for %s (past %d days):\n", d.PatientName, digestWindowDays)

	if len(d.Trends) == 0 {
		b.WriteString("- No symptoms reported.\n")
	} else {
		for _, t := range d.Trends {
			if t.AvgSeverity > 0 {
				fmt.Fprintf(&b, "- %s reported %d time(s), average severity %.1f/10.\n",
					capitalize(t.Symptom), t.Count, t.AvgSeverity)
			} else {
				fmt.Fprintf(&b, "- %s reported %d time(s).\n", capitalize(t.Symptom), t.Count)
			}
		}
	}

	fmt.Fprintf(&b, "- Medications: %d dose(s) taken, %d missed.\n", d.Adherence.Taken, d.Adherence.Missed)
	if d.NextVisit != "" {
		fmt.Fprintf(&b, "- Next visit: %s.\n", d.NextVisit)
	}

	switch d.Risk {
	case "HIGH":
		b.WriteString("Overall: needs attention. The care team has been flagged to reach out.")
	case "MODERATE":
		b.WriteString("Overall: worth keeping an eye on. Encourage them to report any new symptoms.")
	default:
		b.WriteString("Overall: on track.")
	}
	return b.String()
}
