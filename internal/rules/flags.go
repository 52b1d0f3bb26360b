// Package rules provides the CEL-Go based flag rule engine.
//
// Flag rules are analyst-defined boolean expressions over an account's
// feature vector. Matched rules attach advisory flags to the score result;
// they never participate in the weighted score itself.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// FlagEngine is the CEL-based flag rule evaluation engine.
type FlagEngine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledFlag
	maxWorkers    int
}

// CompiledFlag holds a pre-compiled CEL program.
type CompiledFlag struct {
	Rule    *domain.FlagRule
	Program cel.Program
}

// NewFlagEngine creates a new flag rule engine.
func NewFlagEngine(maxWorkers int) (*FlagEngine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// CEL environment exposing the feature vector fields
	env, err := cel.NewEnv(
		cel.Variable("account", cel.StringType),
		cel.Variable("transaction_count", cel.IntType),
		cel.Variable("unique_asset_count", cel.IntType),
		cel.Variable("activity_days", cel.DoubleType),
		cel.Variable("liquidation_ratio", cel.DoubleType),
		cel.Variable("repayment_ratio", cel.DoubleType),
		cel.Variable("collateral_ratio", cel.DoubleType),
		cel.Variable("withdrawal_ratio", cel.DoubleType),
		cel.Variable("leverage_ratio", cel.DoubleType),
		cel.Variable("average_transaction_size", cel.DoubleType),
		cel.Variable("transaction_frequency", cel.DoubleType),
		cel.Variable("behavior_volatility", cel.DoubleType),
		cel.Variable("flash_loan_like", cel.DoubleType),
		cel.Variable("consistent_repayment", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &FlagEngine{
		env:           env,
		compiledRules: make(map[string]*CompiledFlag),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded rules.
func (e *FlagEngine) ValidateRule(rule *domain.FlagRule) error {
	if rule == nil {
		return fmt.Errorf("flag rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *FlagEngine) LoadRule(rule *domain.FlagRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiledRules[rule.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *FlagEngine) LoadRules(rules []*domain.FlagRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *FlagEngine) ReloadRules(rules []*domain.FlagRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledFlag)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		newRules[rule.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// Evaluate runs every loaded rule against a feature vector and returns the
// matched flags. Rules run in parallel under a bounded semaphore; evaluation
// errors drop the rule from the result rather than failing the batch.
func (e *FlagEngine) Evaluate(ctx context.Context, v *domain.FeatureVector) []domain.FlagResult {
	e.mu.RLock()
	rules := make([]*CompiledFlag, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	activation := map[string]any{
		"account":                  v.Account,
		"transaction_count":        int64(v.TransactionCount),
		"unique_asset_count":       int64(v.UniqueAssetCount),
		"activity_days":            v.ActivityDurationDays,
		"liquidation_ratio":        v.LiquidationRatio,
		"repayment_ratio":          v.RepaymentRatio,
		"collateral_ratio":         v.CollateralRatio,
		"withdrawal_ratio":         v.WithdrawalRatio,
		"leverage_ratio":           v.LeverageRatio,
		"average_transaction_size": v.AverageTransactionSize,
		"transaction_frequency":    v.TransactionFrequency,
		"behavior_volatility":      v.BehaviorVolatility,
		"flash_loan_like":          v.FlashLoanLikeBehavior,
		"consistent_repayment":     v.ConsistentRepayment,
	}

	matched := make([]domain.FlagResult, len(rules))
	hit := make([]bool, len(rules))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledFlag) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			out, _, err := r.Program.Eval(activation)
			if err != nil {
				return
			}
			if b, ok := out.(types.Bool); ok && bool(b) {
				matched[idx] = domain.FlagResult{
					RuleID:   r.Rule.ID,
					Name:     r.Rule.Name,
					Severity: r.Rule.Severity,
					Reason:   r.Rule.Description,
				}
				hit[idx] = true
			}
		}(i, rule)
	}

	wg.Wait()

	results := make([]domain.FlagResult, 0, len(rules))
	for i := range rules {
		if hit[i] {
			results = append(results, matched[i])
		}
	}
	return results
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *FlagEngine) GetLoadedRules() []*domain.FlagRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.FlagRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Rule)
	}
	return rules
}

// RulesCount returns the number of loaded rules.
func (e *FlagEngine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// Close cleans up the engine.
func (e *FlagEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledFlag)
	return nil
}

func (e *FlagEngine) compileRule(rule *domain.FlagRule) (*CompiledFlag, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile flag rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("flag rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for flag rule %s: %w", rule.ID, err)
	}

	return &CompiledFlag{
		Rule:    rule,
		Program: program,
	}, nil
}
