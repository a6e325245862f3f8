// Package policy holds the per-agent care policies: response restrictions,
// escalation triggers, and scheduling constraints. Policies ship with built-in
// defaults and can be replaced by a JSON file imported from clinic documents.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Rule is the policy for a single agent. Scheduling fields only apply to the
// appointment agent; other agents leave them zero.
type Rule struct {
	Agent          string   `json:"agent"`
	Scope          []string `json:"scope,omitempty"`
	Restrictions   []string `json:"restrictions,omitempty"`
	EscalateOn     []string `json:"escalate_on,omitempty"`
	TriageRequired bool     `json:"triage_required,omitempty"`

	ReferralRequiredPlans []string `json:"referral_required_plans,omitempty"`
	TelehealthAllowed     bool     `json:"telehealth_allowed,omitempty"`
	RescheduleCutoffHours int      `json:"reschedule_cutoff_hours,omitempty"`
	AlternativeSlotCount  int      `json:"alternative_slot_count,omitempty"`
	MinorConsentRequired  bool     `json:"minor_consent_required,omitempty"`
}

// RequiresReferral reports whether the given insurance plan needs a referral
// before specialist scheduling.
func (r Rule) RequiresReferral(planID string) bool {
	for _, p := range r.ReferralRequiredPlans {
		if p == planID {
			return true
		}
	}
	return false
}

// Set is a versioned collection of agent policies.
type Set struct {
	Version string `json:"version"`
	Rules   []Rule `json:"rules"`
}

// For returns the rule for the named agent.
func (s Set) For(agent string) (Rule, bool) {
	for _, r := range s.Rules {
		if r.Agent == agent {
			return r, true
		}
	}
	return Rule{}, false
}

// Validate checks that agents are unique and named.
func (s Set) Validate() error {
	seen := make(map[string]bool, len(s.Rules))
	for i, r := range s.Rules {
		if r.Agent == "" {
			return fmt.Errorf("rule %d: missing agent", i)
		}
		if seen[r.Agent] {
			return fmt.Errorf("duplicate policy for agent %q", r.Agent)
		}
		seen[r.Agent] = true
	}
	return nil
}

// Default returns the built-in policy set.
func Default() Set {
	return Set{
		Version: "builtin",
		Rules: []Rule{
			{
				Agent: "appointment",
				Scope: []string{"schedule", "reschedule", "cancel", "confirm"},
				Restrictions: []string{
					"never confirm a reschedule inside the cutoff window for surgical follow-ups",
					"route high urgency appointments to clinic staff",
				},
				EscalateOn:            []string{"high_urgency", "surgery_cutoff"},
				ReferralRequiredPlans: []string{"HMO_A"},
				TelehealthAllowed:     true,
				RescheduleCutoffHours: 48,
				AlternativeSlotCount:  3,
				MinorConsentRequired:  true,
			},
			{
				Agent: "followup",
				Scope: []string{"symptom_triage", "recovery_check"},
				Restrictions: []string{
					"never downgrade a red flag",
					"never diagnose",
				},
				EscalateOn:     []string{"red", "orange_recurrence"},
				TriageRequired: true,
			},
			{
				Agent: "medication",
				Scope: []string{"dose_questions", "missed_dose", "side_effects", "refill_status"},
				Restrictions: []string{
					"never advise a double dose",
					"never change a prescribed regimen",
				},
				EscalateOn:     []string{"double_dose", "serious_interaction"},
				TriageRequired: true,
			},
			{
				Agent: "caregiver",
				Scope: []string{"status_digest"},
				Restrictions: []string{
					"share patient status only with consent on file",
				},
				EscalateOn: []string{"high_risk_digest"},
			},
			{
				Agent: "help",
				Scope: []string{"general_information"},
				Restrictions: []string{
					"no medical advice, direct clinical questions to the care team",
				},
			},
		},
	}
}

// Load reads a policy set from path. An empty path or a missing file falls
// back to the built-in defaults.
func Load(path string) (Set, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Set{}, fmt.Errorf("reading policy file: %w", err)
	}
	var s Set
	if err := json.Unmarshal(data, &s); err != nil {
		return Set{}, fmt.Errorf("parsing policy file %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Set{}, fmt.Errorf("invalid policy file %s: %w", path, err)
	}
	return s, nil
}

// Save writes the policy set to path as indented JSON.
func (s Set) Save(path string) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating policy directory: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Merge overlays imported rules onto the set: rules for an existing agent
// replace it, new agents are appended.
func (s Set) Merge(rules []Rule) Set {
	merged := Set{Version: s.Version, Rules: append([]Rule(nil), s.Rules...)}
	for _, r := range rules {
		replaced := false
		for i, existing := range merged.Rules {
			if existing.Agent == r.Agent {
				merged.Rules[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			merged.Rules = append(merged.Rules, r)
		}
	}
	return merged
}
