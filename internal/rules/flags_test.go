package rules

import (
	"context"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestFlagEngineCreation(t *testing.T) {
	engine, err := NewFlagEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadFlagRule(t *testing.T) {
	engine, _ := NewFlagEngine(5)
	defer engine.Close()

	rule := &domain.FlagRule{
		ID:         "flag-001",
		Name:       "High leverage",
		Expression: "leverage_ratio > 0.9",
		Severity:   domain.SeverityWarn,
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidFlagRule(t *testing.T) {
	engine, _ := NewFlagEngine(5)
	defer engine.Close()

	cases := []struct {
		name string
		expr string
	}{
		{"syntax error", "this is not valid CEL !!!"},
		{"non-bool result", "leverage_ratio * 2.0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := &domain.FlagRule{ID: "bad", Name: "Bad", Expression: tc.expr, Enabled: true}
			if err := engine.LoadRule(rule); err == nil {
				t.Error("expected error for invalid expression")
			}
		})
	}
}

func TestEvaluateFlags(t *testing.T) {
	engine, _ := NewFlagEngine(5)
	defer engine.Close()

	rules := []*domain.FlagRule{
		{
			ID:          "flag-leverage",
			Name:        "Extreme leverage",
			Description: "borrowed close to deposited total",
			Expression:  "leverage_ratio > 0.9",
			Severity:    domain.SeverityCritical,
			Enabled:     true,
		},
		{
			ID:         "flag-flash",
			Name:       "Flash loan pattern",
			Expression: "flash_loan_like > 0.2 && transaction_count >= 5",
			Severity:   domain.SeverityWarn,
			Enabled:    true,
		},
		{
			ID:         "flag-disabled",
			Name:       "Disabled rule",
			Expression: "true",
			Severity:   domain.SeverityInfo,
			Enabled:    false,
		},
	}
	if err := engine.LoadRules(rules); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	if engine.RulesCount() != 2 {
		t.Fatalf("disabled rules must not load, got %d", engine.RulesCount())
	}

	ctx := context.Background()

	v := &domain.FeatureVector{
		Account:               "acct-1",
		TransactionCount:      12,
		LeverageRatio:         1.1,
		FlashLoanLikeBehavior: 0.1,
	}

	flags := engine.Evaluate(ctx, v)
	if len(flags) != 1 {
		t.Fatalf("expected 1 flag, got %d", len(flags))
	}
	if flags[0].RuleID != "flag-leverage" {
		t.Errorf("expected flag-leverage, got %s", flags[0].RuleID)
	}
	if flags[0].Severity != domain.SeverityCritical {
		t.Errorf("expected critical severity, got %s", flags[0].Severity)
	}

	// Both rules match once the flash ratio crosses its threshold.
	v.FlashLoanLikeBehavior = 0.5
	flags = engine.Evaluate(ctx, v)
	if len(flags) != 2 {
		t.Errorf("expected 2 flags, got %d", len(flags))
	}
}

func TestReloadFlagRules(t *testing.T) {
	engine, _ := NewFlagEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.FlagRule{ID: "old", Name: "Old", Expression: "true", Enabled: true})

	err := engine.ReloadRules([]*domain.FlagRule{
		{ID: "new-1", Name: "New 1", Expression: "liquidation_ratio > 0.0", Enabled: true},
		{ID: "new-2", Name: "New 2", Expression: "behavior_volatility > 2.0", Enabled: true},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if engine.RulesCount() != 2 {
		t.Errorf("expected 2 rules after reload, got %d", engine.RulesCount())
	}
	for _, r := range engine.GetLoadedRules() {
		if r.ID == "old" {
			t.Error("reload must drop previously loaded rules")
		}
	}
}

func TestValidateRule(t *testing.T) {
	engine, _ := NewFlagEngine(5)
	defer engine.Close()

	ok := &domain.FlagRule{ID: "v1", Expression: "collateral_ratio < 1.0"}
	if err := engine.ValidateRule(ok); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Error("validation must not load the rule")
	}

	if err := engine.ValidateRule(nil); err == nil {
		t.Error("expected error for nil rule")
	}
}
