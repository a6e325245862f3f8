// Package agents holds the domain handlers the orchestrator dispatches to:
// appointment scheduling, symptom follow-up, medication questions, caregiver
// digests, and general help.
package agents

import (
	"context"
	"errors"

	"github.com/carelink/aftercare/internal/gateway"
)

// ErrMissingConsent is returned when a caregiver asks about a patient without
// consent on file.
var ErrMissingConsent = errors.New("no caregiver consent on file")

// Completer is the slice of the gateway the agents use for drafting text.
type Completer interface {
	Complete(ctx context.Context, req gateway.Request) (string, error)
}

const askForPatientID = "I can help with that, but I first need your 8-digit patient ID. " +
	"Could you share it with me?"
