// Package scoring maps feature vectors to bounded, explainable health scores.
package scoring

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Scorer combines a feature vector with population stats into a ScoreResult
// using a fixed weighted model. Population stats are injected per call; the
// scorer never recomputes them, which keeps the batch dependency explicit.
type Scorer struct {
	cfg *domain.ScoringConfig
}

// New creates a scorer. A nil config falls back to the default model.
func New(cfg *domain.ScoringConfig) *Scorer {
	if cfg == nil {
		cfg = domain.DefaultScoringConfig()
	}
	return &Scorer{cfg: cfg}
}

// Config returns the scoring configuration in use.
func (s *Scorer) Config() *domain.ScoringConfig {
	return s.cfg
}

// Score computes the ten behavior sub-scores and the final bounded score for
// one account. Every sub-score is clamped to [-1,1] before weighting; the
// final score is clamped to [0,100] and rounded to an integer.
func (s *Scorer) Score(v *domain.FeatureVector, stats domain.PopulationStats) *domain.ScoreResult {
	behaviors := map[string]float64{
		domain.BehaviorConsistentRepayment: normalizeAndScore(v.ConsistentRepayment, stats.ConsistentRepayment, true),
		domain.BehaviorLongTermDeposits:    normalizeAndScore(v.ActivityDurationDays, stats.ActivityDurationDays, true),

		domain.BehaviorHealthyCollateralRatio: collateralBand(v.CollateralRatio),

		// The transform is applied to the value before lookup while the
		// stats stay on the raw feature; this asymmetry is part of the
		// scoring model and changing it would alter rankings.
		domain.BehaviorRegularActivity: normalizeAndScore(1-v.BehaviorVolatility, stats.BehaviorVolatility, true),

		domain.BehaviorDiverseAssets:        normalizeAndScore(float64(v.UniqueAssetCount), stats.UniqueAssetCount, true),
		domain.BehaviorLiquidationFrequency: normalizeAndScore(v.LiquidationRatio, stats.LiquidationRatio, false),
		domain.BehaviorErraticBehavior:      normalizeAndScore(v.BehaviorVolatility, stats.BehaviorVolatility, false),
		domain.BehaviorFlashLoanLike:        normalizeAndScore(v.FlashLoanLikeBehavior, stats.FlashLoanLikeBehavior, false),

		// Same asymmetry as regular_activity: shifted value, raw stats.
		domain.BehaviorExtremeLeverage: normalizeAndScore(math.Max(0, v.LeverageRatio-s.cfg.LeverageGrace), stats.LeverageRatio, false),

		domain.BehaviorProtocolStress: s.protocolStress(v),
	}

	var weighted float64
	for name, weight := range s.cfg.Weights {
		score := clampUnit(behaviors[name])
		behaviors[name] = score
		weighted += score * weight
	}

	normalized := ((weighted / s.cfg.TotalWeight()) + 1) / 2 * 100
	final := int(math.Round(math.Min(100, math.Max(0, normalized))))

	return &domain.ScoreResult{
		ID:             uuid.New().String(),
		Account:        v.Account,
		Score:          final,
		BehaviorScores: behaviors,
		ComputedAt:     time.Now().UTC(),
	}
}

// normalizeAndScore min-max normalizes value against the population range
// and maps it to [-1,1]. A degenerate range (min==max, including the empty
// batch) scores every account at the neutral midpoint.
func normalizeAndScore(value float64, r domain.FeatureRange, higherIsBetter bool) float64 {
	span := r.Max - r.Min

	normalized := 0.5
	if span != 0 {
		normalized = (value - r.Min) / span
		normalized = math.Min(1, math.Max(0, normalized))
	}

	if higherIsBetter {
		return normalized*2 - 1
	}
	return 1 - normalized*2
}

// collateralBand is the piecewise deterministic sub-score for the collateral
// ratio; it is absolute, not population-relative. Under-collateralization is
// maximally bad, a 2-3x ratio ideal, beyond 5x merely neutral (capital
// inefficiency rather than risk).
func collateralBand(ratio float64) float64 {
	switch {
	case ratio < 1.0:
		return -1
	case ratio > 5.0:
		return 0
	case ratio >= 2.0 && ratio <= 3.0:
		return 1
	case ratio < 2.0:
		// (1.0, 2.0): linear ramp from -1 up to 1
		return -1 + (ratio-1.0)*2
	default:
		// (3.0, 5.0]: linear decay from 1 down to 0
		return 1 - (ratio-3.0)/2
	}
}

// protocolStress sums fixed behavioral signatures, capped at 1. Thresholds
// are absolute so stress triggers on the same signature in every cohort.
func (s *Scorer) protocolStress(v *domain.FeatureVector) float64 {
	var stress float64
	if v.FlashLoanLikeBehavior > s.cfg.StressFlashLoanThreshold {
		stress += 0.5
	}
	if v.BehaviorVolatility > s.cfg.StressVolatilityThreshold {
		stress += 0.3
	}
	if v.LeverageRatio > s.cfg.StressLeverageThreshold {
		stress += 0.4
	}
	if v.TransactionFrequency > s.cfg.StressFrequencyThreshold && v.AverageTransactionSize > s.cfg.StressTxSizeThreshold {
		stress += 0.6
	}
	return math.Min(stress, 1)
}

func clampUnit(x float64) float64 {
	return math.Min(1, math.Max(-1, x))
}
