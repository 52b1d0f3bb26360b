// Package features derives behavioral feature vectors from account summaries.
package features

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine derives feature vectors using the thresholds of a scoring config.
type Engine struct {
	cfg *domain.ScoringConfig
}

// NewEngine creates a feature engine. A nil config falls back to defaults.
func NewEngine(cfg *domain.ScoringConfig) *Engine {
	if cfg == nil {
		cfg = domain.DefaultScoringConfig()
	}
	return &Engine{cfg: cfg}
}

// Derive computes the feature vector for one account summary.
// Accounts below the minimum transaction count carry too little signal and
// are skipped; the second return value reports whether the account qualifies.
func (e *Engine) Derive(s *domain.AccountSummary) (*domain.FeatureVector, bool) {
	if s == nil || s.TransactionCount() < e.cfg.MinScorableEvents {
		return nil, false
	}

	txCount := float64(s.TransactionCount())
	durationDays := s.ActivityDurationDays()

	var totalAmount float64
	for _, ev := range s.Events {
		totalAmount += ev.Amount
	}

	v := &domain.FeatureVector{
		Account:              s.Account,
		TransactionCount:     s.TransactionCount(),
		UniqueAssetCount:     s.UniqueAssetCount(),
		ActivityDurationDays: durationDays,

		LiquidationRatio: float64(s.LiquidationCount) / txCount,
		RepaymentRatio:   s.TotalRepaid / math.Max(s.TotalBorrowed, 1),
		CollateralRatio:  s.TotalDeposited / math.Max(s.TotalBorrowed, 1),
		WithdrawalRatio:  s.TotalWithdrawn / math.Max(s.TotalDeposited, 1),
		LeverageRatio:    s.TotalBorrowed / math.Max(s.TotalDeposited, 1),

		AverageTransactionSize: totalAmount / txCount,
		TransactionFrequency:   txCount / math.Max(durationDays, 1),

		BehaviorVolatility:    behaviorVolatility(s.Events),
		FlashLoanLikeBehavior: e.flashLoanLikeBehavior(s.Events),
	}
	v.ConsistentRepayment = consistentRepayment(s.Events, s.TotalBorrowed)

	return v, true
}

// DeriveAll maps Derive over a summary batch, dropping accounts that do not
// qualify.
func (e *Engine) DeriveAll(summaries map[string]*domain.AccountSummary) map[string]*domain.FeatureVector {
	vectors := make(map[string]*domain.FeatureVector, len(summaries))
	for account, s := range summaries {
		if v, ok := e.Derive(s); ok {
			vectors[account] = v
		}
	}
	return vectors
}

// behaviorVolatility is the coefficient of variation of inter-event time
// gaps in hours over the chronological log. Fewer than 3 events give no gap
// distribution to speak of; a zero mean gap (all events at one instant) is
// treated as zero volatility rather than a degenerate division.
func behaviorVolatility(events []domain.Event) float64 {
	if len(events) < 3 {
		return 0
	}

	gaps := make([]float64, 0, len(events)-1)
	for i := 1; i < len(events); i++ {
		gaps = append(gaps, events[i].Timestamp.Sub(events[i-1].Timestamp).Hours())
	}

	mean := stat.Mean(gaps, nil)
	if mean == 0 {
		return 0
	}
	return stat.StdDev(gaps, nil) / mean
}

// flashLoanLikeBehavior counts borrow events answered by a near-equal repay
// of the same asset inside the configured window. Each borrow matches at
// most once and the forward scan stops as soon as the window is exceeded.
func (e *Engine) flashLoanLikeBehavior(events []domain.Event) float64 {
	if len(events) == 0 {
		return 0
	}

	matches := 0
	for i, ev := range events {
		if ev.Action != domain.ActionBorrow {
			continue
		}
		for j := i + 1; j < len(events); j++ {
			if events[j].Timestamp.Sub(ev.Timestamp) > e.cfg.FlashLoanWindow {
				break
			}
			if events[j].Action != domain.ActionRepay || events[j].Asset != ev.Asset {
				continue
			}
			if math.Abs(events[j].Amount-ev.Amount) <= e.cfg.FlashLoanTolerance*ev.Amount {
				matches++
				break
			}
		}
	}

	return float64(matches) / float64(len(events))
}

// consistentRepayment replays per-asset open-borrow balances over the
// chronological log. A repay reduces the matching asset's balance (floored
// at 0); fully closing a balance counts as a repaid borrow. The final value
// scales the closed-borrow fraction by how much of the borrowed total is
// still outstanding. Never borrowing is trivially consistent.
func consistentRepayment(events []domain.Event, totalBorrowed float64) float64 {
	if totalBorrowed == 0 {
		return 1
	}

	open := make(map[string]float64)
	borrowEvents := 0
	repaidBorrows := 0

	for _, ev := range events {
		switch ev.Action {
		case domain.ActionBorrow:
			open[ev.Asset] += ev.Amount
			borrowEvents++
		case domain.ActionRepay:
			before := open[ev.Asset]
			if before == 0 {
				continue
			}
			after := before - ev.Amount
			if after <= 0 {
				after = 0
				repaidBorrows++
			}
			open[ev.Asset] = after
		}
	}

	var remaining float64
	for _, bal := range open {
		remaining += bal
	}

	closedFraction := float64(repaidBorrows) / math.Max(float64(borrowEvents), 1)
	return closedFraction * (1 - remaining/math.Max(totalBorrowed, 1))
}
