package triage

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Tier is the clinical urgency classification. RED outranks ORANGE
// outranks GREEN; evaluation short-circuits on the first RED match.
type Tier string

const (
	TierRed    Tier = "RED"
	TierOrange Tier = "ORANGE"
	TierGreen  Tier = "GREEN"
)

var tierRank = map[Tier]int{
	TierGreen:  0,
	TierOrange: 1,
	TierRed:    2,
}

// Rank returns the tier's position in the total ordering.
func (t Tier) Rank() int { return tierRank[t] }

// Escalate returns the next tier up, capped at RED.
func (t Tier) Escalate() Tier {
	switch t {
	case TierGreen:
		return TierOrange
	default:
		return TierRed
	}
}

func (t Tier) valid() bool {
	_, ok := tierRank[t]
	return ok
}

// Metric names a numeric input a rule can test.
const (
	MetricSeverity    = "severity"
	MetricTemperature = "temperature"
	MetricGlucose     = "glucose"
)

// Rule is one predicate in the triage table. A rule matches when every
// declared condition holds: each keyword-list rule needs at least one
// keyword in the text, each metric rule needs the metric present and
// inside [Min, Max].
type Rule struct {
	ID        string   `json:"id"`
	Tier      Tier     `json:"tier"`
	Keywords  []string `json:"keywords,omitempty"`
	Metric    string   `json:"metric,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Rationale string   `json:"rationale"`
}

// RuleSet is a versioned, ordered triage table. Sort guarantees RED
// predicates evaluate before ORANGE regardless of file order.
type RuleSet struct {
	Version string `json:"version"`
	Rules   []Rule `json:"rules"`
}

func f(v float64) *float64 { return &v }

// DefaultRules returns the built-in triage table.
func DefaultRules() RuleSet {
	return RuleSet{
		Version: "1",
		Rules: []Rule{
			{
				ID:   "chest_pain",
				Tier: TierRed,
				Keywords: []string{
					"chest pain", "pain in my chest", "chest tightness",
					"tightness in my chest", "tightness in chest",
				},
				Rationale: "chest pain or tightness reported",
			},
			{
				ID:   "breathing_difficulty",
				Tier: TierRed,
				Keywords: []string{
					"shortness of breath", "short of breath", "trouble breathing",
					"difficulty breathing", "can't breathe", "cannot breathe", "breathless",
				},
				Rationale: "breathing difficulty reported",
			},
			{
				ID:   "neuro_deficit",
				Tier: TierRed,
				Keywords: []string{
					"numbness", "slurred speech", "sudden weakness", "face drooping",
				},
				Rationale: "possible neurological deficit",
			},
			{
				ID:        "syncope",
				Tier:      TierRed,
				Keywords:  []string{"fainted", "fainting", "passed out", "syncope"},
				Rationale: "loss of consciousness reported",
			},
			{
				ID:   "wound_dehiscence",
				Tier: TierRed,
				Keywords: []string{
					"incision opening", "wound opening", "dehiscence",
					"yellow drainage", "green drainage", "greenish fluid", "pus",
				},
				Rationale: "surgical wound may be opening or infected",
			},
			{
				ID:        "severe_pain",
				Tier:      TierRed,
				Metric:    MetricSeverity,
				Min:       f(8),
				Rationale: "pain severity at or above 8 of 10",
			},
			{
				ID:        "fever_high",
				Tier:      TierRed,
				Metric:    MetricTemperature,
				Min:       f(101.5),
				Rationale: "temperature at or above 101.5F",
			},
			{
				ID:        "moderate_pain",
				Tier:      TierOrange,
				Metric:    MetricSeverity,
				Min:       f(5),
				Max:       f(7),
				Rationale: "pain severity between 5 and 7 of 10",
			},
			{
				ID:        "fever_low",
				Tier:      TierOrange,
				Metric:    MetricTemperature,
				Min:       f(99.5),
				Max:       f(101.4),
				Rationale: "low-grade fever between 99.5F and 101.4F",
			},
			{
				ID:        "hyperglycemia",
				Tier:      TierOrange,
				Metric:    MetricGlucose,
				Min:       f(300.1),
				Rationale: "blood glucose above 300",
			},
			{
				ID:        "dizziness",
				Tier:      TierOrange,
				Keywords:  []string{"dizzy", "dizziness", "lightheaded", "light-headed"},
				Rationale: "dizziness reported",
			},
			{
				ID:        "wound_redness",
				Tier:      TierOrange,
				Keywords:  []string{"redness around", "incision is red", "wound redness", "mild redness"},
				Rationale: "mild wound redness reported",
			},
		},
	}
}

// LoadRules reads a rule table from a JSON file and validates it.
func LoadRules(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("reading rules file: %w", err)
	}
	var rs RuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("parsing rules file: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// Validate checks every rule has an ID, a valid tier, a rationale, and at
// least one predicate.
func (rs RuleSet) Validate() error {
	if len(rs.Rules) == 0 {
		return fmt.Errorf("rule set has no rules")
	}
	seen := make(map[string]bool, len(rs.Rules))
	for i, r := range rs.Rules {
		if r.ID == "" {
			return fmt.Errorf("rule %d has no id", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if !r.Tier.valid() {
			return fmt.Errorf("rule %q has invalid tier %q", r.ID, r.Tier)
		}
		if r.Rationale == "" {
			return fmt.Errorf("rule %q has no rationale", r.ID)
		}
		if len(r.Keywords) == 0 && r.Metric == "" {
			return fmt.Errorf("rule %q has no predicate", r.ID)
		}
		switch r.Metric {
		case "", MetricSeverity, MetricTemperature, MetricGlucose:
		default:
			return fmt.Errorf("rule %q has unknown metric %q", r.ID, r.Metric)
		}
		if r.Metric != "" && r.Min == nil && r.Max == nil {
			return fmt.Errorf("rule %q has metric %q without bounds", r.ID, r.Metric)
		}
	}
	return nil
}

// ordered returns the rules sorted highest tier first, original order
// preserved within a tier.
func (rs RuleSet) ordered() []Rule {
	out := make([]Rule, len(rs.Rules))
	copy(out, rs.Rules)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Tier.Rank() > out[j].Tier.Rank()
	})
	return out
}
