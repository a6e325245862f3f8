package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/carelink/aftercare/internal/directory"
	"github.com/carelink/aftercare/internal/orchestrator"
	"github.com/carelink/aftercare/internal/policy"
	"github.com/carelink/aftercare/internal/triage"
)

// AppointmentStore is the directory slice the appointment agent reads.
type AppointmentStore interface {
	GetPatient(ctx context.Context, id string) (directory.Patient, error)
	GetCaregiver(ctx context.Context, id string) (directory.Caregiver, error)
	NextAppointment(ctx context.Context, patientID string) (directory.Appointment, error)
	AlternativeSlots(ctx context.Context, apptType string, limit int) ([]directory.Slot, error)
}

// Appointment handles booking, confirming, rescheduling, and cancelling.
// A scheduling message that also reports symptoms is triaged first; anything
// above GREEN defers the scheduling flow.
type Appointment struct {
	store      AppointmentStore
	classifier *triage.Classifier
	rule       policy.Rule
	now        func() time.Time
	logger     *slog.Logger
}

func NewAppointment(store AppointmentStore, classifier *triage.Classifier, policies policy.Set, logger *slog.Logger) *Appointment {
	rule, _ := policies.For("appointment")
	if logger == nil {
		logger = slog.Default()
	}
	return &Appointment{store: store, classifier: classifier, rule: rule, now: time.Now, logger: logger}
}

type apptAction string

const (
	actionCancel     apptAction = "cancel"
	actionReschedule apptAction = "reschedule"
	actionConfirm    apptAction = "confirm"
	actionInfo       apptAction = "info"
)

func detectAction(text string) apptAction {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "cancel"):
		return actionCancel
	case strings.Contains(lower, "reschedule") || strings.Contains(lower, "move") ||
		strings.Contains(lower, "change") || strings.Contains(lower, "different"):
		return actionReschedule
	case strings.Contains(lower, "confirm"):
		return actionConfirm
	default:
		return actionInfo
	}
}

func (a *Appointment) Handle(ctx context.Context, t *orchestrator.Turn) (orchestrator.Result, error) {
	if a.classifier != nil {
		verdict := a.classifier.Evaluate(ctx, triage.Input{Text: t.Input, PatientID: t.PatientID})
		if verdict.Tier != triage.TierGreen {
			res := orchestrator.Result{
				Risk: string(verdict.Tier),
				Context: map[string]any{
					"rule_id":   verdict.RuleID,
					"rationale": verdict.Rationale,
					"deferred":  "scheduling",
				},
			}
			if verdict.Tier == triage.TierRed {
				res.Response = redResponse
			} else {
				res.Response = orangeResponse +
					" We can sort out the appointment once a nurse has checked in with you."
			}
			return res, nil
		}
	}

	if t.PatientID == "" {
		return orchestrator.Result{Response: askForPatientID}, nil
	}

	patient, err := a.store.GetPatient(ctx, t.PatientID)
	if errors.Is(err, directory.ErrNotFound) {
		return orchestrator.Result{
			Response: fmt.Sprintf("I couldn't find a patient record for ID %s. "+
				"Please double-check the number, or contact the clinic front desk.", t.PatientID),
		}, nil
	}
	if err != nil {
		return orchestrator.Result{}, fmt.Errorf("looking up patient: %w", err)
	}

	action := detectAction(t.Input)
	res := orchestrator.Result{Context: map[string]any{"action": string(action)}}

	// Minors self-serve scheduling only with caregiver consent on file.
	if a.rule.MinorConsentRequired && patient.Minor() {
		if !a.caregiverConsent(ctx, patient) {
			res.Response = "Because this record belongs to a patient under 18, scheduling " +
				"changes need a parent or guardian with consent on file. " +
				"Please have them contact the clinic, or call the front desk for help."
			res.Context["blocked"] = "minor_without_consent"
			return res, nil
		}
	}

	appt, err := a.store.NextAppointment(ctx, patient.ID)
	if errors.Is(err, directory.ErrNotFound) {
		res.Response = fmt.Sprintf("%s, you have no upcoming appointments on file. "+
			"Would you like me to pass a booking request to the clinic?", patient.Name)
		return res, nil
	}
	if err != nil {
		return orchestrator.Result{}, fmt.Errorf("looking up appointment: %w", err)
	}
	res.Context["appointment_id"] = appt.ID

	switch action {
	case actionConfirm, actionInfo:
		res.Response = fmt.Sprintf("Your next appointment is a %s with %s on %s. "+
			"Reply if you need to make a change.",
			appt.Type, appt.Doctor, appt.At.Format("Monday, January 2 at 3:04 PM"))
		return res, nil

	case actionCancel, actionReschedule:
		if blocked, reason := a.changeBlocked(appt); blocked {
			res.Response = fmt.Sprintf("Your %s with %s on %s can't be changed here: %s "+
				"I've asked clinic staff to reach out to you.",
				appt.Type, appt.Doctor, appt.At.Format("January 2 at 3:04 PM"), reason)
			res.Context["blocked"] = "staff_review"
			return res, nil
		}
		if action == actionCancel {
			res.Response = fmt.Sprintf("I've noted your request to cancel the %s with %s on %s. "+
				"The clinic will confirm the cancellation shortly.",
				appt.Type, appt.Doctor, appt.At.Format("January 2 at 3:04 PM"))
			return res, nil
		}
		return a.offerAlternatives(ctx, appt, res)
	}
	return res, nil
}

func (a *Appointment) caregiverConsent(ctx context.Context, p directory.Patient) bool {
	if p.CaregiverID == "" {
		return false
	}
	cg, err := a.store.GetCaregiver(ctx, p.CaregiverID)
	if err != nil {
		a.logger.Warn("caregiver lookup failed", "caregiver", p.CaregiverID, "error", err)
		return false
	}
	return cg.ConsentOnFile
}

// changeBlocked applies the self-service gates: high urgency visits, flagged
// appointments, and anything inside the reschedule cutoff go to staff.
func (a *Appointment) changeBlocked(appt directory.Appointment) (bool, string) {
	if appt.Urgency == "high" {
		return true, "high-urgency visits are managed directly by the care team."
	}
	if !appt.CanReschedule {
		return true, "this visit type must be changed by clinic staff."
	}
	if a.rule.RescheduleCutoffHours > 0 {
		cutoff := time.Duration(a.rule.RescheduleCutoffHours) * time.Hour
		if until := appt.At.Sub(a.now()); until >= 0 && until < cutoff {
			return true, fmt.Sprintf("it is within %d hours of the visit.", a.rule.RescheduleCutoffHours)
		}
	}
	return false, ""
}

func (a *Appointment) offerAlternatives(ctx context.Context, appt directory.Appointment, res orchestrator.Result) (orchestrator.Result, error) {
	limit := a.rule.AlternativeSlotCount
	if limit <= 0 {
		limit = 3
	}
	slots, err := a.store.AlternativeSlots(ctx, appt.Type, limit)
	if err != nil {
		return orchestrator.Result{}, fmt.Errorf("finding alternative slots: %w", err)
	}
	if len(slots) == 0 {
		res.Response = "I don't see any open alternative slots right now. " +
			"The clinic will contact you with options."
		return res, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here are the next available %s slots:\n", appt.Type)
	for i, sl := range slots {
		modality := sl.Modality
		if modality == "telehealth" && !a.rule.TelehealthAllowed {
			modality = "in_person"
		}
		fmt.Fprintf(&b, "%d. %s with %s (%s)\n", i+1, sl.At.Format("Monday, January 2 at 3:04 PM"), sl.Doctor, modality)
	}
	b.WriteString("Reply with the number that works for you and the clinic will confirm it.")

	if a.rule.RequiresReferral(appt.PlanID) && appt.Type == "Specialist Consult" {
		b.WriteString("\nNote: your insurance plan requires a referral on file before a specialist visit.")
		res.Context["referral_required"] = true
	}

	res.Response = b.String()
	res.Context["slots_offered"] = len(slots)
	return res, nil
}
