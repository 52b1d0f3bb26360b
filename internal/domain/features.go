package domain

// FeatureVector holds the behavioral features derived from one account's
// summary. It is rebuilt in full on every scoring run; there is no
// incremental update path.
type FeatureVector struct {
	Account string `json:"account"`

	// Passthrough / derived from the summary.
	TransactionCount     int     `json:"transactionCount"`
	UniqueAssetCount     int     `json:"uniqueAssetCount"`
	ActivityDurationDays float64 `json:"activityDurationDays"`

	// Ratios over running totals (denominators floored at 1).
	LiquidationRatio float64 `json:"liquidationRatio"`
	RepaymentRatio   float64 `json:"repaymentRatio"`
	CollateralRatio  float64 `json:"collateralRatio"`
	WithdrawalRatio  float64 `json:"withdrawalRatio"`
	LeverageRatio    float64 `json:"leverageRatio"`

	// Activity shape.
	AverageTransactionSize float64 `json:"averageTransactionSize"`
	TransactionFrequency   float64 `json:"transactionFrequency"`
	BehaviorVolatility     float64 `json:"behaviorVolatility"`

	// Pattern detection.
	FlashLoanLikeBehavior float64 `json:"flashLoanLikeBehavior"`
	ConsistentRepayment   float64 `json:"consistentRepayment"`
}

// FeatureRange is the observed min/max of a feature across a batch.
type FeatureRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// PopulationStats holds per-feature ranges over every feature vector in the
// current batch. Scoring is population-relative, so stats must be recomputed
// whenever batch membership changes; stale stats produce wrong normalization.
// The zero value (min=max=0 for every feature) represents an empty batch and
// makes downstream normalization fully degenerate.
type PopulationStats struct {
	ConsistentRepayment   FeatureRange `json:"consistentRepayment"`
	ActivityDurationDays  FeatureRange `json:"activityDurationDays"`
	BehaviorVolatility    FeatureRange `json:"behaviorVolatility"`
	UniqueAssetCount      FeatureRange `json:"uniqueAssetCount"`
	LiquidationRatio      FeatureRange `json:"liquidationRatio"`
	FlashLoanLikeBehavior FeatureRange `json:"flashLoanLikeBehavior"`
	LeverageRatio         FeatureRange `json:"leverageRatio"`
}
