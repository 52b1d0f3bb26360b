package domain

// FlagRule is an analyst-defined CEL expression evaluated against a feature
// vector. A rule that evaluates to true attaches a flag to the account's
// score result. Flags are explanatory only; the weighted score formula never
// reads them.
type FlagRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// CEL expression over feature variables, must return bool.
	Expression string `json:"expression"`

	// Severity is "info", "warn" or "critical".
	Severity string `json:"severity"`

	Enabled bool `json:"enabled"`
}

// Flag severities.
const (
	SeverityInfo     = "info"
	SeverityWarn     = "warn"
	SeverityCritical = "critical"
)

// FlagResult is one matched flag rule attached to a score result.
type FlagResult struct {
	RuleID   string `json:"ruleId"`
	Name     string `json:"name"`
	Severity string `json:"severity"`
	Reason   string `json:"reason,omitempty"`
}
