package orchestrator

import (
	"time"

	"github.com/carelink/aftercare/internal/router"
)

// State tracks a turn through the pipeline. Every turn moves forward only:
// Start, Routed, Handled, Logged, Done.
type State string

const (
	StateStart   State = "start"
	StateRouted  State = "routed"
	StateHandled State = "handled"
	StateLogged  State = "logged"
	StateDone    State = "done"
)

// Input is one inbound patient message. KnownPatientID comes from the
// caller's session; an ID found in the text overrides it. SessionID only
// groups turns of one conversation in the output, turns stay independent.
type Input struct {
	Text           string
	KnownPatientID string
	SessionID      string
}

// Turn is one patient message moving through the pipeline.
type Turn struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	Input      string          `json:"input"`
	PatientID  string          `json:"patient_id,omitempty"`
	Decision   router.Decision `json:"decision"`
	State      State           `json:"state"`
	Response   string          `json:"response"`
	Risk       string          `json:"risk,omitempty"`
	Context    map[string]any  `json:"context,omitempty"`
}

// Result is what a domain handler produces for a turn.
type Result struct {
	Response string
	Risk     string
	Context  map[string]any
}
