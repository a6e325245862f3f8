package triage

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const historyTimeout = 2 * time.Second

// SymptomHistory looks up prior reports of a symptom for the recurrence
// escalation. Implemented by the patient directory.
type SymptomHistory interface {
	SymptomReportCount(ctx context.Context, patientID, symptom string, days int) (int, error)
}

// Input carries one evaluation request. Vitals left nil are parsed from
// Text; explicitly provided values win over parsed ones.
type Input struct {
	Text      string
	PatientID string
	Symptoms  []string // normalized symptom phrases, optional

	Severity    *int
	TempF       *float64
	Glucose     *float64
}

// Verdict is the outcome of one evaluation. RuleID and Rationale are
// always set; downstream explanation text derives from them.
type Verdict struct {
	Tier      Tier     `json:"tier"`
	RuleID    string   `json:"rule_id"`
	Rationale string   `json:"rationale"`

	Severity *int     `json:"severity,omitempty"`
	TempF    *float64 `json:"temp_f,omitempty"`
	Glucose  *float64 `json:"glucose,omitempty"`

	Escalated    bool `json:"escalated,omitempty"`
	PriorReports int  `json:"prior_reports,omitempty"`
}

// Classifier evaluates free text plus optional structured vitals against
// the rule table. Deterministic and fully offline; the optional history
// lookup only ever raises a verdict, never lowers it.
type Classifier struct {
	rules      []Rule
	history    SymptomHistory
	windowDays int
	logger     *slog.Logger
}

// NewClassifier builds a Classifier over the given rule set. history may
// be nil, disabling recurrence escalation. windowDays <= 0 defaults to 7.
func NewClassifier(rs RuleSet, history SymptomHistory, windowDays int) *Classifier {
	if windowDays <= 0 {
		windowDays = 7
	}
	return &Classifier{
		rules:      rs.ordered(),
		history:    history,
		windowDays: windowDays,
		logger:     slog.Default(),
	}
}

// Evaluate returns the verdict for one report. The highest-tier matching
// rule wins; RED short-circuits. A GREEN or ORANGE base verdict escalates
// by exactly one tier when the same normalized symptom was already
// reported in the trailing window; RED is already maximal.
func (c *Classifier) Evaluate(ctx context.Context, in Input) Verdict {
	text := strings.ToLower(in.Text)
	if len(in.Symptoms) > 0 {
		text += " " + strings.ToLower(strings.Join(in.Symptoms, " "))
	}

	severity := in.Severity
	if severity == nil {
		severity = ParseSeverity(text)
	}
	tempF := in.TempF
	if tempF == nil {
		tempF = ParseTemperature(text)
	}
	glucose := in.Glucose
	if glucose == nil {
		glucose = ParseGlucose(text)
	}

	v := Verdict{
		Tier:      TierGreen,
		RuleID:    "no_flags",
		Rationale: "no red or orange predicates matched",
		Severity:  severity,
		TempF:     tempF,
		Glucose:   glucose,
	}

	for _, r := range c.rules {
		if c.matches(r, text, severity, tempF, glucose) {
			v.Tier = r.Tier
			v.RuleID = r.ID
			v.Rationale = r.Rationale
			break
		}
	}

	if v.Tier != TierRed {
		c.escalateOnRecurrence(ctx, &v, in)
	}

	return v
}

func (c *Classifier) matches(r Rule, text string, severity *int, tempF, glucose *float64) bool {
	if len(r.Keywords) > 0 {
		found := false
		for _, kw := range r.Keywords {
			if strings.Contains(text, kw) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if r.Metric != "" {
		var val *float64
		switch r.Metric {
		case MetricSeverity:
			if severity != nil {
				sv := float64(*severity)
				val = &sv
			}
		case MetricTemperature:
			val = tempF
		case MetricGlucose:
			val = glucose
		}
		if val == nil {
			return false
		}
		if r.Min != nil && *val < *r.Min {
			return false
		}
		if r.Max != nil && *val > *r.Max {
			return false
		}
	}

	return true
}

func (c *Classifier) escalateOnRecurrence(ctx context.Context, v *Verdict, in Input) {
	if c.history == nil || in.PatientID == "" {
		return
	}

	symptom := PrimarySymptom(in)
	if symptom == "" {
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()

	prior, err := c.history.SymptomReportCount(lookupCtx, in.PatientID, symptom, c.windowDays)
	if err != nil {
		// A broken history lookup must not block the verdict.
		c.logger.Warn("symptom history lookup failed", "patient_id", in.PatientID, "symptom", symptom, "error", err)
		return
	}

	// The current report plus at least one prior in the window means the
	// symptom was reported twice or more in 7 days.
	if prior < 1 {
		return
	}

	v.Escalated = true
	v.PriorReports = prior
	v.Tier = v.Tier.Escalate()
	v.Rationale = fmt.Sprintf("%s; escalated one tier: %s reported %d time(s) in the last %d days",
		v.Rationale, symptom, prior, c.windowDays)
}

// PrimarySymptom picks the symptom used for the recurrence lookup: the
// first extracted symptom when available, otherwise the first known
// symptom phrase found in the text.
func PrimarySymptom(in Input) string {
	if len(in.Symptoms) > 0 {
		return NormalizeSymptom(in.Symptoms[0])
	}
	text := strings.ToLower(in.Text)
	for _, phrase := range symptomPhrases {
		if strings.Contains(text, phrase) {
			return NormalizeSymptom(phrase)
		}
	}
	return ""
}

// symptomPhrases is ordered longest-first so multi-word phrases win over
// their substrings.
var symptomPhrases = []string{
	"tightness in my chest", "shortness of breath", "trouble breathing",
	"pain in my chest", "chest tightness", "slurred speech",
	"short of breath", "chest pain", "lightheaded", "dizziness",
	"breathless", "headache", "swelling", "weakness", "numbness",
	"redness", "fatigue", "nausea", "fainted", "syncope", "fever",
	"dizzy", "cough", "tired", "pain", "ache",
}

// canonicalSymptoms folds phrase variants into one normalized name so
// recurrence counting treats them as the same symptom.
var canonicalSymptoms = map[string]string{
	"tightness in my chest": "chest tightness",
	"tightness in chest":    "chest tightness",
	"pain in my chest":      "chest pain",
	"short of breath":       "shortness of breath",
	"trouble breathing":     "shortness of breath",
	"breathless":            "shortness of breath",
	"dizzy":                 "dizziness",
	"lightheaded":           "dizziness",
	"light-headed":          "dizziness",
	"tired":                 "fatigue",
	"fainted":               "syncope",
	"passed out":            "syncope",
	"ache":                  "pain",
}

// NormalizeSymptom lowercases a symptom phrase and folds known variants
// into their canonical form.
func NormalizeSymptom(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if canon, ok := canonicalSymptoms[s]; ok {
		return canon
	}
	return s
}

var (
	severityScaleRe = regexp.MustCompile(`\b(\d{1,2})\s*(?:/\s*10|out\s+of\s+10)\b`)
	severityWordRe  = regexp.MustCompile(`\b(?:severity|pain(?:\s+level)?)\s*(?:of|is|at)?\s*(\d{1,2})\b`)
	temperatureRe   = regexp.MustCompile(`\b(?:fever|temperature|temp)\D{0,12}?(\d{2,3}(?:\.\d+)?)`)
	degreesRe       = regexp.MustCompile(`\b(\d{2,3}(?:\.\d+)?)\s*(?:°\s*f|degrees(?:\s+fahrenheit)?|f)\b`)
	glucoseRe       = regexp.MustCompile(`\b(?:glucose|blood\s+sugar|sugar)\D{0,12}?(\d{2,3})\b`)
)

// ParseSeverity extracts a 0-10 pain severity from "7/10", "7 out of 10",
// or "severity of 7" style text. Returns nil when absent or out of scale.
func ParseSeverity(text string) *int {
	for _, re := range []*regexp.Regexp{severityScaleRe, severityWordRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil && v >= 0 && v <= 10 {
				return &v
			}
		}
	}
	return nil
}

// ParseTemperature extracts a Fahrenheit temperature from "fever of 101",
// "temp 101.5", or "101.5°F" style text. Values outside 90-110F are
// rejected as not body temperatures.
func ParseTemperature(text string) *float64 {
	for _, re := range []*regexp.Regexp{temperatureRe, degreesRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 90 && v <= 110 {
				return &v
			}
		}
	}
	return nil
}

// ParseGlucose extracts a blood glucose reading near a glucose keyword.
// Values outside 40-600 are rejected.
func ParseGlucose(text string) *float64 {
	if m := glucoseRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 40 && v <= 600 {
			return &v
		}
	}
	return nil
}
