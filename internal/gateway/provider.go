package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-agnostic completion request. The gateway prepends
// the safety preamble before handing it to a provider.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Provider abstracts one external completion service. Implementations are
// constructed with their credentials and model at startup and must be safe
// for concurrent use.
type Provider interface {
	Name() string

	// Available reports whether the provider can be attempted at all,
	// which for the built-in providers means a credential is present.
	Available() bool

	// Complete sends the request and returns the assistant's text.
	Complete(ctx context.Context, req Request) (string, error)
}

// Transcriber is implemented by providers that support speech-to-text.
// It exists for external I/O adapters; the turn pipeline never calls it.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// ProviderSpec configures one provider slot in the fallback chain.
// Priority is the position in the chain; lower runs first.
type ProviderSpec struct {
	Name     string
	Priority int
	Model    string
	APIKey   string
}

// ErrNoProvider is returned when every provider in the chain has been
// skipped or has failed. Callers must fall back to their rule-based logic.
var ErrNoProvider = errors.New("no completion provider available")

// ErrTranscriptionUnsupported is returned by providers without a
// speech-to-text endpoint.
var ErrTranscriptionUnsupported = errors.New("transcription not supported by this provider")

// ProviderError wraps a single provider failure with enough detail for the
// chain to log it and move on.
type ProviderError struct {
	Provider string
	Status   int  // HTTP status, 0 when the request never completed
	Timeout  bool // the per-attempt deadline expired
	Err      error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: attempt timed out", e.Provider)
	case e.Status != 0:
		return fmt.Sprintf("%s: unexpected status %d: %v", e.Provider, e.Status, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }
