// Package router classifies an incoming patient message into one of the care
// domains and extracts the patient identifier. Classification asks the
// completion gateway first and falls back to keyword matching when no
// provider answers in time.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/carelink/aftercare/internal/gateway"
)

// Intent is one of the supported care domains.
type Intent string

const (
	IntentAppointment Intent = "appointment"
	IntentFollowup    Intent = "followup"
	IntentMedication  Intent = "medication"
	IntentCaregiver   Intent = "caregiver"
	IntentHelp        Intent = "help"
)

// Valid reports whether the intent is a member of the closed set.
func (i Intent) Valid() bool {
	switch i {
	case IntentAppointment, IntentFollowup, IntentMedication, IntentCaregiver, IntentHelp:
		return true
	}
	return false
}

// Decision is the routing result for a single message.
type Decision struct {
	Intent    Intent `json:"intent"`
	PatientID string `json:"patient_id,omitempty"`
	// Fallback is true when keyword matching produced the intent instead of
	// a model.
	Fallback bool `json:"fallback,omitempty"`
}

// Completer is the slice of the gateway the router needs.
type Completer interface {
	Complete(ctx context.Context, req gateway.Request) (string, error)
}

const classifyTimeout = 3 * time.Second

// Eight consecutive digits anywhere in the message.
var patientIDRe = regexp.MustCompile(`\b\d{8}\b`)

// Router classifies patient messages.
type Router struct {
	completer Completer
	logger    *slog.Logger
}

func New(completer Completer, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{completer: completer, logger: logger}
}

// Classify routes text to a care domain. knownPatientID carries an identifier
// already established for the conversation; an ID found in the text wins.
func (r *Router) Classify(ctx context.Context, text, knownPatientID string) Decision {
	d := Decision{PatientID: knownPatientID}
	if m := patientIDRe.FindString(text); m != "" {
		d.PatientID = m
	}

	// A model answer of help usually means it could not place the message,
	// so keywords get a second look before the turn lands in the help agent.
	if intent, ok := r.classifyWithModel(ctx, text); ok && intent != IntentHelp {
		d.Intent = intent
		return d
	}

	d.Intent = classifyByKeywords(text)
	d.Fallback = true
	return d
}

func (r *Router) classifyWithModel(ctx context.Context, text string) (Intent, bool) {
	if r.completer == nil {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	raw, err := r.completer.Complete(ctx, gateway.Request{
		Messages: []gateway.Message{
			{Role: "system", Content: classifierPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0,
		MaxTokens:   32,
	})
	if err != nil {
		r.logger.Warn("model classification unavailable, using keywords", "error", err)
		return "", false
	}

	intent, err := parseIntent(raw)
	if err != nil {
		r.logger.Warn("model returned unusable intent, using keywords", "error", err, "raw", raw)
		return "", false
	}
	return intent, true
}

// parseIntent accepts either the requested JSON object or a bare intent word,
// since smaller models sometimes drop the JSON wrapper.
func parseIntent(raw string) (Intent, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var parsed struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil && parsed.Intent != "" {
		raw = parsed.Intent
	}

	intent := Intent(strings.ToLower(strings.Trim(raw, `"'.`)))
	if !intent.Valid() {
		return "", &UnknownIntentError{Raw: raw}
	}
	return intent, nil
}

// UnknownIntentError reports a model answer outside the closed intent set.
type UnknownIntentError struct {
	Raw string
}

func (e *UnknownIntentError) Error() string {
	raw := e.Raw
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return fmt.Sprintf("unknown intent %q", raw)
}
