// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"time"
)

// Action is the kind of ledger action an event records.
type Action string

// Recognized ledger actions.
const (
	ActionDeposit     Action = "deposit"
	ActionBorrow      Action = "borrow"
	ActionRepay       Action = "repay"
	ActionWithdraw    Action = "withdraw"
	ActionLiquidation Action = "liquidation"
)

// Known reports whether the action is one of the recognized kinds.
// Unknown actions still count toward an account's transaction log but
// never toward running totals.
func (a Action) Known() bool {
	switch a {
	case ActionDeposit, ActionBorrow, ActionRepay, ActionWithdraw, ActionLiquidation:
		return true
	}
	return false
}

// Event is one immutable ledger action for an account.
type Event struct {
	Account   string    `json:"account"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Asset     string    `json:"asset"`
	Amount    float64   `json:"amount"`
}

// AccountSummary is the per-account aggregation of a batch of events.
// It is built by the aggregate package during a fold and frozen afterwards;
// the Events slice is kept in chronological order (input order breaks ties).
type AccountSummary struct {
	Account string `json:"account"`

	// Chronological transaction log for the account.
	Events []Event `json:"events"`

	// Distinct asset symbols seen across the log.
	Assets map[string]struct{} `json:"-"`

	// Running totals over recognized actions.
	TotalDeposited float64 `json:"totalDeposited"`
	TotalBorrowed  float64 `json:"totalBorrowed"`
	TotalRepaid    float64 `json:"totalRepaid"`
	TotalWithdrawn float64 `json:"totalWithdrawn"`

	LiquidationCount int `json:"liquidationCount"`

	FirstActivity time.Time `json:"firstActivity"`
	LastActivity  time.Time `json:"lastActivity"`
}

// TransactionCount returns the number of events in the account's log,
// including events with unrecognized actions.
func (s *AccountSummary) TransactionCount() int {
	return len(s.Events)
}

// UniqueAssetCount returns the number of distinct asset symbols seen.
func (s *AccountSummary) UniqueAssetCount() int {
	return len(s.Assets)
}

// ActivityDurationDays is the span between first and last activity in days.
// A single event or same-instant events yield 0.
func (s *AccountSummary) ActivityDurationDays() float64 {
	if len(s.Events) < 2 {
		return 0
	}
	span := s.LastActivity.Sub(s.FirstActivity)
	if span <= 0 {
		return 0
	}
	return span.Seconds() / 86400.0
}
