// Package aggregate folds raw ledger events into per-account summaries.
package aggregate

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Fold builds one AccountSummary per account from an arbitrary-order event
// sequence. Totals, asset sets and first/last activity are order-invariant;
// the per-account transaction log is chronologically sorted as an explicit
// post-pass, with input order breaking timestamp ties.
//
// Events with unrecognized actions are appended to the log and count toward
// the transaction count, but never toward totals.
func Fold(events []domain.Event) map[string]*domain.AccountSummary {
	summaries := make(map[string]*domain.AccountSummary)

	for _, ev := range events {
		s, ok := summaries[ev.Account]
		if !ok {
			s = &domain.AccountSummary{
				Account:       ev.Account,
				Assets:        make(map[string]struct{}),
				FirstActivity: ev.Timestamp,
				LastActivity:  ev.Timestamp,
			}
			summaries[ev.Account] = s
		}

		s.Events = append(s.Events, ev)
		if ev.Asset != "" {
			s.Assets[ev.Asset] = struct{}{}
		}
		if ev.Timestamp.Before(s.FirstActivity) {
			s.FirstActivity = ev.Timestamp
		}
		if ev.Timestamp.After(s.LastActivity) {
			s.LastActivity = ev.Timestamp
		}

		switch ev.Action {
		case domain.ActionDeposit:
			s.TotalDeposited += ev.Amount
		case domain.ActionBorrow:
			s.TotalBorrowed += ev.Amount
		case domain.ActionRepay:
			s.TotalRepaid += ev.Amount
		case domain.ActionWithdraw:
			s.TotalWithdrawn += ev.Amount
		case domain.ActionLiquidation:
			s.LiquidationCount++
		}
	}

	// Chronological post-pass; SliceStable preserves input order for equal
	// timestamps.
	for _, s := range summaries {
		sort.SliceStable(s.Events, func(i, j int) bool {
			return s.Events[i].Timestamp.Before(s.Events[j].Timestamp)
		})
	}

	return summaries
}

// Merge combines two partial summaries for the same account into dst.
// Totals sum, asset sets union and activity bounds take min/max, so merging
// is commutative and associative across shards. The merged log is re-sorted
// chronologically.
func Merge(dst, src *domain.AccountSummary) *domain.AccountSummary {
	if dst == nil {
		return src
	}
	if src == nil {
		return dst
	}

	dst.Events = append(dst.Events, src.Events...)
	for asset := range src.Assets {
		dst.Assets[asset] = struct{}{}
	}

	dst.TotalDeposited += src.TotalDeposited
	dst.TotalBorrowed += src.TotalBorrowed
	dst.TotalRepaid += src.TotalRepaid
	dst.TotalWithdrawn += src.TotalWithdrawn
	dst.LiquidationCount += src.LiquidationCount

	if src.FirstActivity.Before(dst.FirstActivity) {
		dst.FirstActivity = src.FirstActivity
	}
	if src.LastActivity.After(dst.LastActivity) {
		dst.LastActivity = src.LastActivity
	}

	sort.SliceStable(dst.Events, func(i, j int) bool {
		return dst.Events[i].Timestamp.Before(dst.Events[j].Timestamp)
	})

	return dst
}

// MergeAll merges per-shard summary maps into one map, for callers that
// partition the fold across goroutines.
func MergeAll(shards ...map[string]*domain.AccountSummary) map[string]*domain.AccountSummary {
	merged := make(map[string]*domain.AccountSummary)
	for _, shard := range shards {
		for account, s := range shard {
			if existing, ok := merged[account]; ok {
				merged[account] = Merge(existing, s)
			} else {
				merged[account] = s
			}
		}
	}
	return merged
}
