package features

import (
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/aggregate"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func baseTime() time.Time {
	return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
}

func deriveFrom(t *testing.T, events []domain.Event) *domain.FeatureVector {
	t.Helper()
	engine := NewEngine(nil)
	summaries := aggregate.Fold(events)
	if len(summaries) != 1 {
		t.Fatalf("expected 1 account, got %d", len(summaries))
	}
	for _, s := range summaries {
		v, ok := engine.Derive(s)
		if !ok {
			t.Fatal("account unexpectedly below scoring minimum")
		}
		return v
	}
	return nil
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDeriveSkipsSmallAccounts(t *testing.T) {
	engine := NewEngine(nil)
	t0 := baseTime()
	events := []domain.Event{
		{Account: "tiny", Timestamp: t0, Action: domain.ActionDeposit, Asset: "USDC", Amount: 100},
		{Account: "tiny", Timestamp: t0.Add(time.Hour), Action: domain.ActionDeposit, Asset: "USDC", Amount: 100},
	}
	summaries := aggregate.Fold(events)
	if _, ok := engine.Derive(summaries["tiny"]); ok {
		t.Error("accounts with fewer than 5 events must be skipped")
	}
}

func TestDepositOnlyAccount(t *testing.T) {
	t0 := baseTime()
	events := make([]domain.Event, 0, 5)
	for i := 0; i < 5; i++ {
		events = append(events, domain.Event{
			Account:   "whale",
			Timestamp: t0.Add(time.Duration(i) * 24 * time.Hour),
			Action:    domain.ActionDeposit,
			Asset:     "USDC",
			Amount:    100,
		})
	}

	v := deriveFrom(t, events)

	// Borrow total floored to 1 in the denominator.
	if !almostEqual(v.CollateralRatio, 500) {
		t.Errorf("expected collateralRatio 500, got %.4f", v.CollateralRatio)
	}
	if v.LeverageRatio != 0 {
		t.Errorf("expected leverageRatio 0, got %.4f", v.LeverageRatio)
	}
	if v.ConsistentRepayment != 1 {
		t.Errorf("never borrowed must be trivially consistent, got %.4f", v.ConsistentRepayment)
	}
	if !almostEqual(v.AverageTransactionSize, 100) {
		t.Errorf("expected averageTransactionSize 100, got %.4f", v.AverageTransactionSize)
	}
	if !almostEqual(v.ActivityDurationDays, 4) {
		t.Errorf("expected 4 activity days, got %.4f", v.ActivityDurationDays)
	}
	if !almostEqual(v.TransactionFrequency, 5.0/4.0) {
		t.Errorf("expected frequency 1.25, got %.4f", v.TransactionFrequency)
	}
	// Evenly spaced events have zero gap variance.
	if v.BehaviorVolatility != 0 {
		t.Errorf("expected 0 volatility for even spacing, got %.4f", v.BehaviorVolatility)
	}
}

func TestZeroMeanGapVolatility(t *testing.T) {
	t0 := baseTime()
	events := make([]domain.Event, 0, 5)
	for i := 0; i < 5; i++ {
		events = append(events, domain.Event{
			Account: "burst", Timestamp: t0, Action: domain.ActionDeposit, Asset: "USDC", Amount: 10,
		})
	}

	v := deriveFrom(t, events)
	if v.BehaviorVolatility != 0 {
		t.Errorf("zero-mean gaps must yield 0 volatility, got %.4f", v.BehaviorVolatility)
	}
	if math.IsNaN(v.BehaviorVolatility) || math.IsInf(v.BehaviorVolatility, 0) {
		t.Error("volatility must never be NaN or Inf")
	}
}

func TestFlashLoanLikeBehavior(t *testing.T) {
	t0 := baseTime()
	events := make([]domain.Event, 0, 10)
	for i := 0; i < 5; i++ {
		cycle := t0.Add(time.Duration(i) * 6 * time.Hour)
		events = append(events,
			domain.Event{Account: "fl", Timestamp: cycle, Action: domain.ActionBorrow, Asset: "USDC", Amount: 100},
			domain.Event{Account: "fl", Timestamp: cycle.Add(30 * time.Minute), Action: domain.ActionRepay, Asset: "USDC", Amount: 98},
		)
	}

	v := deriveFrom(t, events)

	// All 5 borrows matched within the window and the 10% tolerance.
	if !almostEqual(v.FlashLoanLikeBehavior, 0.5) {
		t.Errorf("expected flashLoanLikeBehavior 5/10=0.5, got %.4f", v.FlashLoanLikeBehavior)
	}
}

func TestFlashLoanWindowAndTolerance(t *testing.T) {
	t0 := baseTime()
	cases := []struct {
		name   string
		repay  domain.Event
		expect float64
	}{
		{
			name:   "outside window",
			repay:  domain.Event{Account: "a", Timestamp: t0.Add(2 * time.Hour), Action: domain.ActionRepay, Asset: "USDC", Amount: 100},
			expect: 0,
		},
		{
			name:   "outside tolerance",
			repay:  domain.Event{Account: "a", Timestamp: t0.Add(30 * time.Minute), Action: domain.ActionRepay, Asset: "USDC", Amount: 80},
			expect: 0,
		},
		{
			name:   "different asset",
			repay:  domain.Event{Account: "a", Timestamp: t0.Add(30 * time.Minute), Action: domain.ActionRepay, Asset: "DAI", Amount: 100},
			expect: 0,
		},
		{
			name:   "match at exact tolerance",
			repay:  domain.Event{Account: "a", Timestamp: t0.Add(30 * time.Minute), Action: domain.ActionRepay, Asset: "USDC", Amount: 90},
			expect: 1.0 / 5.0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events := []domain.Event{
				{Account: "a", Timestamp: t0, Action: domain.ActionBorrow, Asset: "USDC", Amount: 100},
				tc.repay,
				{Account: "a", Timestamp: t0.Add(3 * time.Hour), Action: domain.ActionDeposit, Asset: "USDC", Amount: 1},
				{Account: "a", Timestamp: t0.Add(4 * time.Hour), Action: domain.ActionDeposit, Asset: "USDC", Amount: 1},
				{Account: "a", Timestamp: t0.Add(5 * time.Hour), Action: domain.ActionDeposit, Asset: "USDC", Amount: 1},
			}
			v := deriveFrom(t, events)
			if !almostEqual(v.FlashLoanLikeBehavior, tc.expect) {
				t.Errorf("expected %.4f, got %.4f", tc.expect, v.FlashLoanLikeBehavior)
			}
		})
	}
}

func TestConsistentRepaymentFullCycle(t *testing.T) {
	t0 := baseTime()
	events := []domain.Event{
		{Account: "b", Timestamp: t0, Action: domain.ActionDeposit, Asset: "USDC", Amount: 1000},
		{Account: "b", Timestamp: t0.Add(1 * time.Hour), Action: domain.ActionBorrow, Asset: "ETH", Amount: 200},
		{Account: "b", Timestamp: t0.Add(48 * time.Hour), Action: domain.ActionRepay, Asset: "ETH", Amount: 200},
		{Account: "b", Timestamp: t0.Add(72 * time.Hour), Action: domain.ActionBorrow, Asset: "DAI", Amount: 100},
		{Account: "b", Timestamp: t0.Add(96 * time.Hour), Action: domain.ActionRepay, Asset: "DAI", Amount: 100},
	}

	v := deriveFrom(t, events)

	// Both borrows closed, nothing outstanding.
	if !almostEqual(v.ConsistentRepayment, 1) {
		t.Errorf("expected consistentRepayment 1, got %.4f", v.ConsistentRepayment)
	}
	if !almostEqual(v.RepaymentRatio, 1) {
		t.Errorf("expected repaymentRatio 1, got %.4f", v.RepaymentRatio)
	}
}

func TestConsistentRepaymentOpenBalance(t *testing.T) {
	t0 := baseTime()
	events := []domain.Event{
		{Account: "c", Timestamp: t0, Action: domain.ActionDeposit, Asset: "USDC", Amount: 1000},
		{Account: "c", Timestamp: t0.Add(1 * time.Hour), Action: domain.ActionBorrow, Asset: "ETH", Amount: 200},
		{Account: "c", Timestamp: t0.Add(2 * time.Hour), Action: domain.ActionRepay, Asset: "ETH", Amount: 50},
		{Account: "c", Timestamp: t0.Add(3 * time.Hour), Action: domain.ActionBorrow, Asset: "DAI", Amount: 100},
		{Account: "c", Timestamp: t0.Add(4 * time.Hour), Action: domain.ActionRepay, Asset: "DAI", Amount: 100},
	}

	v := deriveFrom(t, events)

	// One of two borrows closed; 150 of 300 borrowed still open.
	want := (1.0 / 2.0) * (1 - 150.0/300.0)
	if !almostEqual(v.ConsistentRepayment, want) {
		t.Errorf("expected consistentRepayment %.4f, got %.4f", want, v.ConsistentRepayment)
	}
}

func TestLiquidationAndWithdrawalRatios(t *testing.T) {
	t0 := baseTime()
	events := []domain.Event{
		{Account: "d", Timestamp: t0, Action: domain.ActionDeposit, Asset: "USDC", Amount: 400},
		{Account: "d", Timestamp: t0.Add(1 * time.Hour), Action: domain.ActionBorrow, Asset: "ETH", Amount: 100},
		{Account: "d", Timestamp: t0.Add(2 * time.Hour), Action: domain.ActionWithdraw, Asset: "USDC", Amount: 100},
		{Account: "d", Timestamp: t0.Add(3 * time.Hour), Action: domain.ActionLiquidation, Asset: "ETH", Amount: 50},
		{Account: "d", Timestamp: t0.Add(4 * time.Hour), Action: domain.ActionLiquidation, Asset: "ETH", Amount: 25},
	}

	v := deriveFrom(t, events)

	if !almostEqual(v.LiquidationRatio, 2.0/5.0) {
		t.Errorf("expected liquidationRatio 0.4, got %.4f", v.LiquidationRatio)
	}
	if !almostEqual(v.WithdrawalRatio, 0.25) {
		t.Errorf("expected withdrawalRatio 0.25, got %.4f", v.WithdrawalRatio)
	}
	if !almostEqual(v.LeverageRatio, 0.25) {
		t.Errorf("expected leverageRatio 0.25, got %.4f", v.LeverageRatio)
	}
}

func TestComputeStatsEmptyBatch(t *testing.T) {
	stats := ComputeStats(nil)
	zero := domain.FeatureRange{}
	if stats.LeverageRatio != zero || stats.BehaviorVolatility != zero {
		t.Error("empty batch must yield min=max=0 for every feature")
	}
}

func TestComputeStatsRanges(t *testing.T) {
	vectors := map[string]*domain.FeatureVector{
		"a": {LeverageRatio: 0.2, UniqueAssetCount: 1, BehaviorVolatility: 0.5},
		"b": {LeverageRatio: 1.4, UniqueAssetCount: 4, BehaviorVolatility: 0.1},
		"c": {LeverageRatio: 0.9, UniqueAssetCount: 2, BehaviorVolatility: 2.5},
	}

	stats := ComputeStats(vectors)

	if stats.LeverageRatio.Min != 0.2 || stats.LeverageRatio.Max != 1.4 {
		t.Errorf("leverage range wrong: %+v", stats.LeverageRatio)
	}
	if stats.UniqueAssetCount.Min != 1 || stats.UniqueAssetCount.Max != 4 {
		t.Errorf("asset count range wrong: %+v", stats.UniqueAssetCount)
	}
	if stats.BehaviorVolatility.Min != 0.1 || stats.BehaviorVolatility.Max != 2.5 {
		t.Errorf("volatility range wrong: %+v", stats.BehaviorVolatility)
	}
}
