// Package ingest turns clinic policy documents (PDF, HTML, plain text) into
// the policy rule JSON the core loads at startup. It runs from the CLI, never
// inside the turn pipeline.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/carelink/aftercare/internal/gateway"
	"github.com/carelink/aftercare/internal/policy"
)

// Completer is the slice of the gateway used for drafting rules.
type Completer interface {
	Complete(ctx context.Context, req gateway.Request) (string, error)
}

const draftTimeout = 30 * time.Second

const draftPrompt = `You convert clinic policy documents into structured agent policies.

Agents: appointment, followup, medication, caregiver, help.

From the document below, produce policy rules. Answer with a single JSON array and nothing else, where each element is:
{"agent": "<agent>", "scope": ["..."], "restrictions": ["..."], "escalate_on": ["..."], "triage_required": <bool>}

scope lists the actions the agent may perform, restrictions what it must never do.`

// Extractor reads policy documents and drafts policy rules from them.
type Extractor struct {
	completer Completer
	logger    *slog.Logger
}

func NewExtractor(completer Completer, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{completer: completer, logger: logger}
}

// ExtractText pulls plain text out of a document based on its extension.
// PDF and HTML get real extraction, everything else is read as UTF-8 text.
func ExtractText(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(path)
	case ".html", ".htm":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		return ExtractHTML(data)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		return string(data), nil
	}
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extracting page %d of %s: %w", i, path, err)
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// ExtractHTML strips tags and returns the visible text, skipping script and
// style bodies.
func ExtractHTML(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String(), nil
}

// DraftRules converts document text into policy rules, asking the gateway
// first and falling back to section-heading heuristics offline.
func (e *Extractor) DraftRules(ctx context.Context, text string) ([]policy.Rule, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("document is empty")
	}

	if e.completer != nil {
		rules, err := e.draftWithModel(ctx, text)
		if err == nil {
			return rules, nil
		}
		e.logger.Warn("model drafting unavailable, using heading heuristics", "error", err)
	}
	return draftFromHeadings(text), nil
}

func (e *Extractor) draftWithModel(ctx context.Context, text string) ([]policy.Rule, error) {
	ctx, cancel := context.WithTimeout(ctx, draftTimeout)
	defer cancel()

	raw, err := e.completer.Complete(ctx, gateway.Request{
		Messages: []gateway.Message{
			{Role: "system", Content: draftPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0,
		MaxTokens:   2048,
	})
	if err != nil {
		return nil, err
	}

	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var rules []policy.Rule
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &rules); err != nil {
		return nil, fmt.Errorf("parsing drafted rules: %w", err)
	}
	if err := (policy.Set{Version: "draft", Rules: rules}).Validate(); err != nil {
		return nil, fmt.Errorf("drafted rules invalid: %w", err)
	}
	return rules, nil
}

// Section headings that map onto agents when no model is reachable.
var headingAgents = map[string]string{
	"appointment": "appointment",
	"scheduling":  "appointment",
	"triage":      "followup",
	"symptom":     "followup",
	"follow-up":   "followup",
	"followup":    "followup",
	"medication":  "medication",
	"pharmacy":    "medication",
	"caregiver":   "caregiver",
	"consent":     "caregiver",
}

// draftFromHeadings scans for section headings and sorts the bullet lines
// under each into scope and restrictions for the matching agent.
func draftFromHeadings(text string) []policy.Rule {
	var (
		ordered []*policy.Rule
		current *policy.Rule
	)
	byAgent := make(map[string]*policy.Rule)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if agent := headingFor(line); agent != "" {
			if r, ok := byAgent[agent]; ok {
				current = r
			} else {
				current = &policy.Rule{Agent: agent}
				ordered = append(ordered, current)
				byAgent[agent] = current
			}
			continue
		}

		if current != nil && isBullet(line) {
			item := strings.TrimSpace(strings.TrimLeft(line, "-*•0123456789. "))
			// Permission-shaped bullets describe the agent's scope, the rest
			// are restrictions.
			lower := strings.ToLower(item)
			if strings.HasPrefix(lower, "may ") || strings.HasPrefix(lower, "can ") ||
				strings.HasPrefix(lower, "allowed to ") {
				current.Scope = append(current.Scope, item)
			} else {
				current.Restrictions = append(current.Restrictions, item)
			}
		}
	}

	rules := make([]policy.Rule, len(ordered))
	for i, r := range ordered {
		rules[i] = *r
	}
	return rules
}

// headingFor treats short lines mentioning a known section keyword as
// headings.
func headingFor(line string) string {
	if len(line) > 60 || isBullet(line) {
		return ""
	}
	lower := strings.ToLower(line)
	for keyword, agent := range headingAgents {
		if strings.Contains(lower, keyword) {
			return agent
		}
	}
	return ""
}

func isBullet(line string) bool {
	return strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") ||
		strings.HasPrefix(line, "•") || startsWithNumber(line)
}

func startsWithNumber(line string) bool {
	if line == "" {
		return false
	}
	if line[0] < '0' || line[0] > '9' {
		return false
	}
	return strings.Contains(line[:min(4, len(line))], ".")
}
