// Package orchestrator runs the turn pipeline: route the message, hand it to
// the domain agent, and log the outcome. Each turn makes exactly one pass and
// produces exactly one audit record, including when the handler fails.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/aftercare/internal/audit"
	"github.com/carelink/aftercare/internal/router"
)

// Handler is a domain agent. Handlers read the turn and return a result; they
// must not write the turn themselves.
type Handler interface {
	Handle(ctx context.Context, t *Turn) (Result, error)
}

// Classifier is the slice of the router the orchestrator needs.
type Classifier interface {
	Classify(ctx context.Context, text, knownPatientID string) router.Decision
}

// Auditor records completed turns.
type Auditor interface {
	Append(r audit.Record) error
}

const apologyResponse = "I'm sorry, I wasn't able to handle that request just now. " +
	"Please try again, or call the clinic directly if this is urgent."

var allIntents = []router.Intent{
	router.IntentAppointment,
	router.IntentFollowup,
	router.IntentMedication,
	router.IntentCaregiver,
	router.IntentHelp,
}

// Orchestrator wires the router, the domain handlers, and the audit log.
type Orchestrator struct {
	classifier Classifier
	handlers   map[router.Intent]Handler
	auditor    Auditor
	logger     *slog.Logger
}

// New builds an orchestrator. The handler map must cover every intent so no
// routed turn can be left without a destination.
func New(classifier Classifier, handlers map[router.Intent]Handler, auditor Auditor, logger *slog.Logger) (*Orchestrator, error) {
	if classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("auditor is required")
	}
	for _, intent := range allIntents {
		if handlers[intent] == nil {
			return nil, fmt.Errorf("no handler for intent %q", intent)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		classifier: classifier,
		handlers:   handlers,
		auditor:    auditor,
		logger:     logger,
	}, nil
}

// Process runs a single message through the pipeline and returns the finished
// turn. The returned turn always carries a response, even when the handler
// failed.
func (o *Orchestrator) Process(ctx context.Context, in Input) *Turn {
	t := &Turn{
		ID:         uuid.NewString(),
		SessionID:  in.SessionID,
		ReceivedAt: time.Now().UTC(),
		Input:      in.Text,
		State:      StateStart,
	}

	t.Decision = o.classifier.Classify(ctx, in.Text, in.KnownPatientID)
	t.PatientID = t.Decision.PatientID
	t.State = StateRouted

	res, err := o.handlers[t.Decision.Intent].Handle(ctx, t)
	if err != nil {
		o.logger.Error("handler failed",
			"turn", t.ID, "intent", t.Decision.Intent, "error", err)
		res = Result{
			Response: apologyResponse,
			Context:  map[string]any{"handler_error": err.Error()},
		}
	}
	t.Response = res.Response
	t.Risk = res.Risk
	t.Context = res.Context
	t.State = StateHandled

	o.auditor.Append(audit.Record{
		ID:        t.ID,
		Timestamp: t.ReceivedAt,
		Agent:     string(t.Decision.Intent),
		PatientID: t.PatientID,
		Input:     t.Input,
		Intent:    string(t.Decision.Intent),
		Risk:      t.Risk,
		Response:  t.Response,
		Context:   t.Context,
	})
	t.State = StateLogged

	o.logger.Info("turn complete",
		"turn", t.ID,
		"intent", t.Decision.Intent,
		"patient", t.PatientID,
		"risk", t.Risk,
		"fallback", t.Decision.Fallback,
	)
	t.State = StateDone
	return t
}
