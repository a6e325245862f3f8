package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"
)

// safetyPreamble is injected as the leading system message of every
// request sent to any provider. Cross-cutting invariant, not
// provider-specific.
const safetyPreamble = `You are a healthcare assistant for post-discharge patient triage and follow-up.
You are not a licensed clinician.
Always include clear safety language.
Never provide diagnosis, prescriptions, or treatment plans.
Direct emergency cases to emergency care immediately.`

const defaultAttemptTimeout = 15 * time.Second

// Failure describes one provider attempt that did not produce a response.
type Failure struct {
	Provider string
	Err      error
	At       time.Time
}

// Gateway fans a completion request down an ordered provider chain,
// returning the first success. It never retries a single provider; a
// failed attempt advances the chain.
type Gateway struct {
	providers []Provider
	timeout   time.Duration
	failures  chan Failure
	logger    *slog.Logger
}

// New builds a Gateway from the given specs, ordered by Priority.
// Providers without credentials stay in the chain and are skipped at call
// time via Available.
func New(specs []ProviderSpec, timeout time.Duration) (*Gateway, error) {
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}

	ordered := make([]ProviderSpec, len(specs))
	copy(ordered, specs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	var providers []Provider
	for _, s := range ordered {
		switch s.Name {
		case "openai":
			providers = append(providers, NewOpenAIProvider(s.APIKey, s.Model))
		case "anthropic":
			providers = append(providers, NewAnthropicProvider(s.APIKey, s.Model))
		case "gemini":
			providers = append(providers, NewGeminiProvider(s.APIKey, s.Model))
		default:
			return nil, fmt.Errorf("unknown provider %q", s.Name)
		}
	}

	return &Gateway{
		providers: providers,
		timeout:   timeout,
		failures:  make(chan Failure, 64),
		logger:    slog.Default(),
	}, nil
}

// NewWithProviders builds a Gateway over pre-constructed providers in the
// given order. Used by tests and adapters.
func NewWithProviders(providers []Provider, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	return &Gateway{
		providers: providers,
		timeout:   timeout,
		failures:  make(chan Failure, 64),
		logger:    slog.Default(),
	}
}

// Failures exposes the provider failure channel. The channel is buffered;
// when no one drains it, new failures are dropped rather than blocking a
// turn.
func (g *Gateway) Failures() <-chan Failure {
	return g.failures
}

// Complete walks the provider chain in priority order and returns the
// first successful completion. Unavailable providers are skipped; a
// failing provider is reported on the failure channel and the chain
// advances. When the chain is exhausted, ErrNoProvider is returned and
// the caller must use its rule-based behavior.
func (g *Gateway) Complete(ctx context.Context, req Request) (string, error) {
	full := Request{
		Messages:    make([]Message, 0, len(req.Messages)+1),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	full.Messages = append(full.Messages, Message{Role: "system", Content: safetyPreamble})
	full.Messages = append(full.Messages, req.Messages...)

	attempted := false
	for _, p := range g.providers {
		if !p.Available() {
			continue
		}
		attempted = true

		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		text, err := p.Complete(attemptCtx, full)
		cancel()

		if err == nil {
			return text, nil
		}

		g.reportFailure(p.Name(), err)

		if ctx.Err() != nil {
			// The caller's deadline is gone; attempting the rest of
			// the chain would fail the same way.
			return "", fmt.Errorf("%w: %w", ErrNoProvider, ctx.Err())
		}
	}

	if !attempted {
		return "", ErrNoProvider
	}
	return "", fmt.Errorf("%w: all providers failed", ErrNoProvider)
}

// Transcribe walks the chain looking for a provider that supports
// speech-to-text and returns the first successful transcript. Exposed for
// external audio adapters only.
func (g *Gateway) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	for _, p := range g.providers {
		if !p.Available() {
			continue
		}
		tr, ok := p.(Transcriber)
		if !ok {
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		text, err := tr.Transcribe(attemptCtx, audio, filename)
		cancel()

		if err == nil {
			return text, nil
		}
		if errors.Is(err, ErrTranscriptionUnsupported) {
			continue
		}
		g.reportFailure(p.Name(), err)

		// The audio reader is consumed; there is nothing left to send
		// to the next provider.
		return "", fmt.Errorf("%w: transcription failed", ErrNoProvider)
	}
	return "", ErrNoProvider
}

func (g *Gateway) reportFailure(provider string, err error) {
	g.logger.Warn("provider attempt failed", "provider", provider, "error", err)
	select {
	case g.failures <- Failure{Provider: provider, Err: err, At: time.Now().UTC()}:
	default:
	}
}
