package triage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultRulesAreValid(t *testing.T) {
	if err := DefaultRules().Validate(); err != nil {
		t.Fatalf("built-in rules should validate, got %v", err)
	}
}

func TestTierEscalate(t *testing.T) {
	tests := []struct {
		in, want Tier
	}{
		{TierGreen, TierOrange},
		{TierOrange, TierRed},
		{TierRed, TierRed},
	}
	for _, tt := range tests {
		if got := tt.in.Escalate(); got != tt.want {
			t.Errorf("%s.Escalate() = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestOrderedPutsRedFirst(t *testing.T) {
	rs := RuleSet{Rules: []Rule{
		{ID: "a", Tier: TierGreen, Keywords: []string{"x"}, Rationale: "r"},
		{ID: "b", Tier: TierRed, Keywords: []string{"y"}, Rationale: "r"},
		{ID: "c", Tier: TierOrange, Keywords: []string{"z"}, Rationale: "r"},
		{ID: "d", Tier: TierRed, Keywords: []string{"w"}, Rationale: "r"},
	}}

	got := rs.ordered()
	wantIDs := []string{"b", "d", "c", "a"}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Errorf("ordered()[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestValidateRejectsBadRules(t *testing.T) {
	valid := Rule{ID: "ok", Tier: TierOrange, Keywords: []string{"k"}, Rationale: "r"}

	tests := []struct {
		name string
		rule Rule
	}{
		{"missing id", Rule{Tier: TierRed, Keywords: []string{"k"}, Rationale: "r"}},
		{"invalid tier", Rule{ID: "x", Tier: "PURPLE", Keywords: []string{"k"}, Rationale: "r"}},
		{"missing rationale", Rule{ID: "x", Tier: TierRed, Keywords: []string{"k"}}},
		{"no predicate", Rule{ID: "x", Tier: TierRed, Rationale: "r"}},
		{"unknown metric", Rule{ID: "x", Tier: TierRed, Metric: "pulse", Min: f(100), Rationale: "r"}},
		{"metric without bounds", Rule{ID: "x", Tier: TierRed, Metric: MetricSeverity, Rationale: "r"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := RuleSet{Rules: []Rule{valid, tt.rule}}
			if err := rs.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateRejectsDuplicateIDs(t *testing.T) {
	rs := RuleSet{Rules: []Rule{
		{ID: "dup", Tier: TierRed, Keywords: []string{"a"}, Rationale: "r"},
		{ID: "dup", Tier: TierOrange, Keywords: []string{"b"}, Rationale: "r"},
	}}
	if err := rs.Validate(); err == nil {
		t.Error("expected duplicate id to be rejected")
	}
}

func TestValidateRejectsEmptySet(t *testing.T) {
	if err := (RuleSet{}).Validate(); err == nil {
		t.Error("expected empty rule set to be rejected")
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")

	doc := `{
		"version": "2",
		"rules": [
			{"id": "custom_red", "tier": "RED", "keywords": ["collapse"], "rationale": "collapse reported"},
			{"id": "custom_orange", "tier": "ORANGE", "metric": "temperature", "min": 100, "rationale": "custom fever band"}
		]
	}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	rs, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if rs.Version != "2" {
		t.Errorf("version = %q, want 2", rs.Version)
	}
	if len(rs.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rs.Rules))
	}
	if rs.Rules[1].Min == nil || *rs.Rules[1].Min != 100 {
		t.Errorf("min bound not parsed: %+v", rs.Rules[1])
	}
}

func TestLoadRulesRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadRules(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRules(bad); err == nil {
		t.Error("expected error for malformed JSON")
	}

	invalid := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(invalid, []byte(`{"rules":[{"id":"x","tier":"RED","rationale":"r"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRules(invalid); err == nil {
		t.Error("expected error for rule without predicate")
	}
}
