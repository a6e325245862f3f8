package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/carelink/aftercare/internal/directory"
	"github.com/carelink/aftercare/internal/gateway"
	"github.com/carelink/aftercare/internal/orchestrator"
)

// MedicationStore is the directory slice the medication agent reads.
type MedicationStore interface {
	Prescriptions(ctx context.Context, patientID string) ([]directory.Prescription, error)
	DrugInfo(ctx context.Context, drugName string) (directory.DrugInfo, error)
	ListDrugs(ctx context.Context) ([]string, error)
}

// medIntent is the kind of medication question being asked.
type medIntent string

const (
	medMissedDose       medIntent = "missed_dose"
	medDoubleDose       medIntent = "double_dose"
	medSideEffect       medIntent = "side_effect"
	medInteractionCheck medIntent = "interaction_check"
	medInstruction      medIntent = "instruction"
	medContraindication medIntent = "contraindication"
	medGeneral          medIntent = "general"
)

func (m medIntent) valid() bool {
	switch m {
	case medMissedDose, medDoubleDose, medSideEffect, medInteractionCheck,
		medInstruction, medContraindication, medGeneral:
		return true
	}
	return false
}

// Risk by question kind: a double dose is an urgent safety issue, missed
// doses and interaction checks warrant same-day clinical review.
func (m medIntent) risk() string {
	switch m {
	case medDoubleDose:
		return "RED"
	case medMissedDose, medInteractionCheck:
		return "ORANGE"
	}
	return ""
}

const medClassifyTimeout = 3 * time.Second

const medClassifierPrompt = `Classify a patient's medication question into exactly one kind:
missed_dose, double_dose, side_effect, interaction_check, instruction, contraindication, general.

Answer with a single JSON object and nothing else:
{"kind": "<one of the kinds above>"}`

// Medication answers drug questions from the knowledge table and the
// patient's prescriptions. It works with or without a patient ID.
type Medication struct {
	store     MedicationStore
	completer Completer
	logger    *slog.Logger
}

func NewMedication(store MedicationStore, completer Completer, logger *slog.Logger) *Medication {
	if logger == nil {
		logger = slog.Default()
	}
	return &Medication{store: store, completer: completer, logger: logger}
}

func (m *Medication) Handle(ctx context.Context, t *orchestrator.Turn) (orchestrator.Result, error) {
	kind := m.classify(ctx, t.Input)

	drug, err := m.resolveDrug(ctx, t.Input, t.PatientID)
	if err != nil {
		return orchestrator.Result{}, err
	}

	res := orchestrator.Result{
		Risk:    kind.risk(),
		Context: map[string]any{"question_kind": string(kind)},
	}
	if drug != nil {
		res.Context["drug"] = drug.Name
	}
	res.Response = m.answer(kind, drug)
	return res, nil
}

// classify asks the gateway for the question kind and falls back to keywords.
func (m *Medication) classify(ctx context.Context, text string) medIntent {
	if m.completer != nil {
		ctx, cancel := context.WithTimeout(ctx, medClassifyTimeout)
		defer cancel()
		raw, err := m.completer.Complete(ctx, gateway.Request{
			Messages: []gateway.Message{
				{Role: "system", Content: medClassifierPrompt},
				{Role: "user", Content: text},
			},
			Temperature: 0,
			MaxTokens:   32,
		})
		if err == nil {
			var parsed struct {
				Kind string `json:"kind"`
			}
			cleaned := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), "`"))
			cleaned = strings.TrimPrefix(cleaned, "json")
			if jsonErr := json.Unmarshal([]byte(cleaned), &parsed); jsonErr == nil {
				if kind := medIntent(strings.ToLower(parsed.Kind)); kind.valid() {
					return kind
				}
			}
			m.logger.Warn("model returned unusable question kind, using keywords", "raw", raw)
		} else {
			m.logger.Warn("model classification unavailable, using keywords", "error", err)
		}
	}
	return classifyMedKeywords(text)
}

func classifyMedKeywords(text string) medIntent {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "twice") || strings.Contains(lower, "double dose") ||
		strings.Contains(lower, "two doses") || strings.Contains(lower, "extra dose"):
		return medDoubleDose
	case strings.Contains(lower, "missed") || strings.Contains(lower, "forgot") ||
		strings.Contains(lower, "skipped"):
		return medMissedDose
	case strings.Contains(lower, "interact") || strings.Contains(lower, "together") ||
		strings.Contains(lower, "combine") || strings.Contains(lower, "mix"):
		return medInteractionCheck
	case strings.Contains(lower, "side effect") || strings.Contains(lower, "makes me feel") ||
		strings.Contains(lower, "reaction"):
		return medSideEffect
	case strings.Contains(lower, "should i take") || strings.Contains(lower, "safe for me") ||
		strings.Contains(lower, "contraindicat") || strings.Contains(lower, "pregnan"):
		return medContraindication
	case strings.Contains(lower, "how do i take") || strings.Contains(lower, "with food") ||
		strings.Contains(lower, "when should i take") || strings.Contains(lower, "how to take"):
		return medInstruction
	default:
		return medGeneral
	}
}

// resolveDrug finds which drug the message is about: a known drug named in
// the text wins; otherwise a patient with a single prescription implies it.
func (m *Medication) resolveDrug(ctx context.Context, text, patientID string) (*directory.DrugInfo, error) {
	lower := strings.ToLower(text)

	names, err := m.store.ListDrugs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing drugs: %w", err)
	}
	for _, name := range names {
		if strings.Contains(lower, name) {
			info, err := m.store.DrugInfo(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("looking up drug %s: %w", name, err)
			}
			return &info, nil
		}
	}

	if patientID == "" {
		return nil, nil
	}
	rxs, err := m.store.Prescriptions(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing prescriptions: %w", err)
	}
	if len(rxs) != 1 {
		return nil, nil
	}
	info, err := m.store.DrugInfo(ctx, rxs[0].DrugName)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up drug %s: %w", rxs[0].DrugName, err)
	}
	return &info, nil
}

func (m *Medication) answer(kind medIntent, drug *directory.DrugInfo) string {
	if kind == medDoubleDose {
		msg := "Do not take another dose to make up for it, and do not take any extra doses. "
		if drug != nil {
			msg = fmt.Sprintf("Since you may have taken a double dose of %s: do not take any more today. ", drug.Name)
		}
		return msg + "A clinician needs to review this right away. The care team has been alerted, " +
			"and if you feel unwell now, call 911."
	}

	if drug == nil {
		return "I can help with medication questions, but I need to know which medication you mean. " +
			"Could you tell me its name, or share your 8-digit patient ID so I can check your prescriptions?"
	}

	switch kind {
	case medMissedDose:
		return fmt.Sprintf("For a missed dose of %s: %s A nurse will follow up with you today to make sure you're back on track.",
			drug.Name, drug.MissedDoseAdvice)
	case medSideEffect:
		return fmt.Sprintf("Common side effects of %s include %s. If what you're feeling is severe or doesn't ease up, let the care team know.",
			drug.Name, drug.CommonSideEffects)
	case medInteractionCheck:
		return fmt.Sprintf("%s has serious interactions with %s. A pharmacist or nurse will review your question today before you combine anything.",
			capitalize(drug.Name), drug.Interactions)
	case medInstruction:
		return fmt.Sprintf("For %s: %s", drug.Name, drug.FoodAdvice)
	case medContraindication:
		return fmt.Sprintf("%s should be avoided with: %s. If any of these apply to you, tell your care team before the next dose.",
			capitalize(drug.Name), drug.Contraindications)
	default:
		return fmt.Sprintf("%s is a %s. Common side effects include %s. %s Is there something specific you'd like to know?",
			capitalize(drug.Name), drug.Class, drug.CommonSideEffects, drug.FoodAdvice)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
