package agents

import (
	"context"
	"log/slog"
	"time"

	"github.com/carelink/aftercare/internal/gateway"
	"github.com/carelink/aftercare/internal/orchestrator"
)

const helpTimeout = 5 * time.Second

const helpPrompt = `Answer the patient's question about what this service can do, in two or three friendly sentences.

You can help with:
- appointments: confirming, rescheduling, or cancelling clinic visits
- symptoms: reporting how recovery is going so the care team can triage
- medications: doses, missed doses, side effects, and interactions
- caregivers: weekly summaries for family members with consent on file

You cannot give medical advice or diagnoses. Serious symptoms always go to the care team.`

const helpFallback = `I'm the aftercare assistant for your clinic. I can help you confirm or change appointments, ` +
	`report symptoms so the care team can follow up, answer questions about your medications, ` +
	`and share weekly summaries with a caregiver who has consent on file. ` +
	`What would you like to do? If you have your 8-digit patient ID handy, that helps me find your record.`

// Help answers general questions about the service, drafting with the
// gateway when one is reachable and falling back to static text.
type Help struct {
	completer Completer
	logger    *slog.Logger
}

func NewHelp(completer Completer, logger *slog.Logger) *Help {
	if logger == nil {
		logger = slog.Default()
	}
	return &Help{completer: completer, logger: logger}
}

func (h *Help) Handle(ctx context.Context, t *orchestrator.Turn) (orchestrator.Result, error) {
	if h.completer != nil && t.Input != "" {
		ctx, cancel := context.WithTimeout(ctx, helpTimeout)
		defer cancel()
		resp, err := h.completer.Complete(ctx, gateway.Request{
			Messages: []gateway.Message{
				{Role: "system", Content: helpPrompt},
				{Role: "user", Content: t.Input},
			},
			Temperature: 0.3,
			MaxTokens:   200,
		})
		if err == nil && resp != "" {
			return orchestrator.Result{Response: resp}, nil
		}
		if err != nil {
			h.logger.Debug("help draft unavailable, using static text", "error", err)
		}
	}
	return orchestrator.Result{Response: helpFallback}, nil
}
