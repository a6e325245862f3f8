package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	geminiBaseURL        = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultTimeout = 60 * time.Second
)

// GeminiProvider talks to the Google generative language endpoint.
// The conversation is flattened into a single prompt since the endpoint
// has no separate system role.
type GeminiProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewGeminiProvider(apiKey, model string) *GeminiProvider {
	return &GeminiProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: geminiBaseURL,
		httpClient: &http.Client{
			Timeout: geminiDefaultTimeout,
		},
	}
}

// SetBaseURL points the client at a custom base URL (for testing).
func (p *GeminiProvider) SetBaseURL(u string) {
	p.baseURL = strings.TrimRight(u, "/")
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Available() bool { return p.apiKey != "" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (p *GeminiProvider) Complete(ctx context.Context, req Request) (string, error) {
	var sb strings.Builder
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			fmt.Fprintf(&sb, "System: %s\n\n", m.Content)
		case "assistant":
			fmt.Fprintf(&sb, "Assistant: %s\n\n", m.Content)
		default:
			fmt.Fprintf(&sb, "User: %s\n\n", m.Content)
		}
	}

	var body geminiRequest
	body.Contents = []geminiContent{{
		Role:  "user",
		Parts: []geminiPart{{Text: strings.TrimSpace(sb.String())}},
	}}
	body.GenerationConfig.Temperature = req.Temperature

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, p.model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", &ProviderError{Provider: p.Name(), Timeout: ctx.Err() == context.DeadlineExceeded, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &ProviderError{
			Provider: p.Name(),
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("%s", strings.TrimSpace(string(respBody))),
		}
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", &ProviderError{Provider: p.Name(), Err: fmt.Errorf("empty candidates")}
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}
