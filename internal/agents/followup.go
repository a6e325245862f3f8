package agents

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/carelink/aftercare/internal/directory"
	"github.com/carelink/aftercare/internal/gateway"
	"github.com/carelink/aftercare/internal/orchestrator"
	"github.com/carelink/aftercare/internal/triage"
)

// FollowupStore persists symptom reports and recalls the recent ones.
type FollowupStore interface {
	AddSymptomReport(ctx context.Context, r directory.SymptomReport) error
	RecentSymptoms(ctx context.Context, patientID string, days int) ([]directory.SymptomReport, error)
}

// Followup triages symptom reports and responds by tier.
type Followup struct {
	classifier *triage.Classifier
	store      FollowupStore
	completer  Completer
	logger     *slog.Logger
}

func NewFollowup(classifier *triage.Classifier, store FollowupStore, completer Completer, logger *slog.Logger) *Followup {
	if logger == nil {
		logger = slog.Default()
	}
	return &Followup{classifier: classifier, store: store, completer: completer, logger: logger}
}

const symptomExtractTimeout = 5 * time.Second

const symptomExtractPrompt = `You extract symptoms from patient aftercare messages.
Answer with a single JSON object and nothing else: {"symptoms": ["..."]}.
Use short lowercase symptom names. An empty list is fine.`

const (
	redResponse = "Based on what you've described, please seek emergency care now. " +
		"Call 911 or go to the nearest emergency department. " +
		"I'm flagging this for the clinical team immediately."

	orangeResponse = "Thank you for telling me. This needs a clinician's attention today: " +
		"a nurse from the care team will call you back within a few hours. " +
		"If anything gets worse in the meantime, call 911."

	greenResponse = "Thanks for the update. Nothing you've described looks urgent right now. " +
		"I've noted it for your care team. Keep an eye on how you feel, " +
		"and reach out again if anything changes or worsens."
)

func (f *Followup) Handle(ctx context.Context, t *orchestrator.Turn) (orchestrator.Result, error) {
	in := triage.Input{
		Text:      t.Input,
		PatientID: t.PatientID,
		Symptoms:  f.extractSymptoms(ctx, t.Input),
	}
	verdict := f.classifier.Evaluate(ctx, in)
	symptom := triage.PrimarySymptom(in)
	others := f.otherRecentSymptoms(ctx, t.PatientID, symptom)

	// Persist after evaluation so a report only counts as a recurrence of the
	// ones before it.
	if t.PatientID != "" && f.store != nil && symptom != "" {
		report := directory.SymptomReport{
			PatientID: t.PatientID,
			Symptom:   symptom,
			Severity:  verdict.Severity,
		}
		if err := f.store.AddSymptomReport(ctx, report); err != nil {
			f.logger.Warn("failed to persist symptom report",
				"patient", t.PatientID, "symptom", symptom, "error", err)
		}
	}

	res := orchestrator.Result{
		Risk: string(verdict.Tier),
		Context: map[string]any{
			"rule_id":   verdict.RuleID,
			"rationale": verdict.Rationale,
		},
	}
	if symptom != "" {
		res.Context["symptom"] = symptom
	}
	if verdict.Escalated {
		res.Context["escalated"] = true
		res.Context["prior_reports"] = verdict.PriorReports
	}

	switch verdict.Tier {
	case triage.TierRed:
		res.Response = redResponse
	case triage.TierOrange:
		res.Response = orangeResponse
	default:
		res.Response = greenResponse
	}

	if len(others) > 0 && verdict.Tier != triage.TierRed {
		res.Response += " For context, I also have these earlier reports from this week on file: " +
			strings.Join(others, ", ") + "."
		res.Context["recent_symptoms"] = others
	}
	return res, nil
}

// extractSymptoms asks the gateway to pull symptom names out of the message.
// On any failure it returns nil and the keyword phrase tables take over.
func (f *Followup) extractSymptoms(ctx context.Context, text string) []string {
	if f.completer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, symptomExtractTimeout)
	defer cancel()

	raw, err := f.completer.Complete(ctx, gateway.Request{
		Messages: []gateway.Message{
			{Role: "system", Content: symptomExtractPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0,
		MaxTokens:   128,
	})
	if err != nil {
		f.logger.Warn("symptom extraction unavailable, using keywords", "error", err)
		return nil
	}

	var parsed struct {
		Symptoms []string `json:"symptoms"`
	}
	cleaned := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), "`"))
	cleaned = strings.TrimPrefix(cleaned, "json")
	if jsonErr := json.Unmarshal([]byte(cleaned), &parsed); jsonErr != nil {
		f.logger.Warn("model returned unusable symptoms, using keywords", "raw", raw)
		return nil
	}
	var out []string
	for _, s := range parsed.Symptoms {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// otherRecentSymptoms lists distinct symptoms from the trailing week,
// excluding the one being reported now. Best effort only.
func (f *Followup) otherRecentSymptoms(ctx context.Context, patientID, current string) []string {
	if patientID == "" || f.store == nil {
		return nil
	}
	reports, err := f.store.RecentSymptoms(ctx, patientID, 7)
	if err != nil {
		f.logger.Warn("failed to load recent symptoms", "patient", patientID, "error", err)
		return nil
	}
	seen := map[string]bool{current: true}
	var out []string
	for _, r := range reports {
		if seen[r.Symptom] {
			continue
		}
		seen[r.Symptom] = true
		out = append(out, r.Symptom)
	}
	return out
}
