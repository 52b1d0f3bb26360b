package domain

import (
	"math"
	"time"
)

// Behavior names for the score breakdown.
const (
	BehaviorConsistentRepayment    = "consistent_repayment"
	BehaviorLongTermDeposits       = "long_term_deposits"
	BehaviorHealthyCollateralRatio = "healthy_collateral_ratio"
	BehaviorRegularActivity        = "regular_activity"
	BehaviorDiverseAssets          = "diverse_assets"
	BehaviorLiquidationFrequency   = "liquidation_frequency"
	BehaviorErraticBehavior        = "erratic_behavior"
	BehaviorFlashLoanLike          = "flash_loan_like"
	BehaviorExtremeLeverage        = "extreme_leverage"
	BehaviorProtocolStress         = "protocol_stress"
)

// ScoreResult is the final output for one scored account: a bounded integer
// health score plus the named behavior sub-scores that produced it. Results
// are never mutated after creation.
type ScoreResult struct {
	ID      string `json:"id"`
	Account string `json:"account"`

	// Score is the bounded health score in [0,100]; higher is healthier.
	Score int `json:"score"`

	// BehaviorScores maps behavior name to its sub-score in [-1,1].
	BehaviorScores map[string]float64 `json:"behaviorScores"`

	// Flags are advisory annotations from analyst-defined flag rules.
	// They never feed the weighted score.
	Flags []FlagResult `json:"flags,omitempty"`

	ComputedAt time.Time `json:"computedAt"`
}

// ScoringConfig holds the weights and thresholds of the scoring model.
// It is passed explicitly to the scorer so alternate weight sets can be
// tested without global state.
type ScoringConfig struct {
	// Weights maps behavior name to its signed weight. Negative weights
	// mark adverse behaviors.
	Weights map[string]float64 `json:"weights"`

	// MinScorableEvents is the minimum transaction count for an account
	// to qualify for scoring.
	MinScorableEvents int `json:"minScorableEvents"`

	// FlashLoanWindow bounds the borrow-to-repay scan.
	FlashLoanWindow time.Duration `json:"flashLoanWindow"`

	// FlashLoanTolerance is the relative magnitude tolerance for a repay
	// to match a borrow (0.10 = within 10%).
	FlashLoanTolerance float64 `json:"flashLoanTolerance"`

	// LeverageGrace is the leverage ratio below which no leverage penalty
	// applies.
	LeverageGrace float64 `json:"leverageGrace"`

	// Absolute thresholds for the protocol_stress composite.
	StressFlashLoanThreshold  float64 `json:"stressFlashLoanThreshold"`
	StressVolatilityThreshold float64 `json:"stressVolatilityThreshold"`
	StressLeverageThreshold   float64 `json:"stressLeverageThreshold"`
	StressFrequencyThreshold  float64 `json:"stressFrequencyThreshold"`
	StressTxSizeThreshold     float64 `json:"stressTxSizeThreshold"`
}

// DefaultScoringConfig returns the standard scoring model.
func DefaultScoringConfig() *ScoringConfig {
	return &ScoringConfig{
		Weights: map[string]float64{
			BehaviorConsistentRepayment:    15,
			BehaviorLongTermDeposits:       15,
			BehaviorHealthyCollateralRatio: 20,
			BehaviorRegularActivity:        10,
			BehaviorDiverseAssets:          10,
			BehaviorLiquidationFrequency:   -25,
			BehaviorErraticBehavior:        -15,
			BehaviorFlashLoanLike:          -20,
			BehaviorExtremeLeverage:        -15,
			BehaviorProtocolStress:         -10,
		},
		MinScorableEvents:         5,
		FlashLoanWindow:           time.Hour,
		FlashLoanTolerance:        0.10,
		LeverageGrace:             0.8,
		StressFlashLoanThreshold:  0.2,
		StressVolatilityThreshold: 2.0,
		StressLeverageThreshold:   0.9,
		StressFrequencyThreshold:  10,
		StressTxSizeThreshold:     100000,
	}
}

// TotalWeight returns the sum of absolute weights (155 for defaults).
func (c *ScoringConfig) TotalWeight() float64 {
	var total float64
	for _, w := range c.Weights {
		total += math.Abs(w)
	}
	return total
}
