package features

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ComputeStats scans every feature vector in a batch once and records the
// per-feature min/max used for population-relative normalization.
// An empty batch returns the zero value (min=max=0 everywhere), which
// downstream normalization treats as fully degenerate.
func ComputeStats(vectors map[string]*domain.FeatureVector) domain.PopulationStats {
	var stats domain.PopulationStats
	first := true

	for _, v := range vectors {
		if first {
			stats = domain.PopulationStats{
				ConsistentRepayment:   seed(v.ConsistentRepayment),
				ActivityDurationDays:  seed(v.ActivityDurationDays),
				BehaviorVolatility:    seed(v.BehaviorVolatility),
				UniqueAssetCount:      seed(float64(v.UniqueAssetCount)),
				LiquidationRatio:      seed(v.LiquidationRatio),
				FlashLoanLikeBehavior: seed(v.FlashLoanLikeBehavior),
				LeverageRatio:         seed(v.LeverageRatio),
			}
			first = false
			continue
		}

		widen(&stats.ConsistentRepayment, v.ConsistentRepayment)
		widen(&stats.ActivityDurationDays, v.ActivityDurationDays)
		widen(&stats.BehaviorVolatility, v.BehaviorVolatility)
		widen(&stats.UniqueAssetCount, float64(v.UniqueAssetCount))
		widen(&stats.LiquidationRatio, v.LiquidationRatio)
		widen(&stats.FlashLoanLikeBehavior, v.FlashLoanLikeBehavior)
		widen(&stats.LeverageRatio, v.LeverageRatio)
	}

	return stats
}

func seed(v float64) domain.FeatureRange {
	return domain.FeatureRange{Min: v, Max: v}
}

func widen(r *domain.FeatureRange, v float64) {
	if v < r.Min {
		r.Min = v
	}
	if v > r.Max {
		r.Max = v
	}
}
