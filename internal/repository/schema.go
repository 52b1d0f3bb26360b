package repository

// Schema definitions for Kestrel's database.
// Compatible with both SQLite and PostgreSQL.

const schemaLedgerEvents = `
CREATE TABLE IF NOT EXISTS ledger_events (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    account TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    action TEXT NOT NULL,
    asset TEXT NOT NULL,
    amount REAL NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_events_tenant ON ledger_events(tenant_id);
CREATE INDEX IF NOT EXISTS idx_ledger_events_account ON ledger_events(tenant_id, account);
CREATE INDEX IF NOT EXISTS idx_ledger_events_timestamp ON ledger_events(tenant_id, timestamp);
`

const schemaScoreResults = `
CREATE TABLE IF NOT EXISTS score_results (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    account TEXT NOT NULL,
    score INTEGER NOT NULL,
    behavior_scores TEXT NOT NULL,
    flags TEXT,
    computed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_score_results_tenant ON score_results(tenant_id);
CREATE INDEX IF NOT EXISTS idx_score_results_account ON score_results(tenant_id, account);
CREATE INDEX IF NOT EXISTS idx_score_results_computed ON score_results(tenant_id, computed_at);
`

const schemaFlagRules = `
CREATE TABLE IF NOT EXISTS flag_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    severity TEXT NOT NULL DEFAULT 'info',
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_flag_rules_tenant ON flag_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_flag_rules_enabled ON flag_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaLedgerEvents,
		schemaScoreResults,
		schemaFlagRules,
	}
}
