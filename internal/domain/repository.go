package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Ledger event operations
	SaveEvents(ctx context.Context, tenantID string, events []Event) error
	GetEventsByAccount(ctx context.Context, tenantID string, account string) ([]Event, error)
	ListEvents(ctx context.Context, tenantID string, since time.Time) ([]Event, error)
	CountEvents(ctx context.Context, tenantID string) (int64, error)

	// Score results
	SaveScoreResult(ctx context.Context, tenantID string, result *ScoreResult) error
	GetScoreResult(ctx context.Context, tenantID string, account string) (*ScoreResult, error)
	ListScoreResults(ctx context.Context, tenantID string) ([]*ScoreResult, error)

	// Flag rule operations
	SaveFlagRule(ctx context.Context, tenantID string, rule *FlagRule) error
	GetFlagRule(ctx context.Context, tenantID string, ruleID string) (*FlagRule, error)
	ListFlagRules(ctx context.Context, tenantID string) ([]*FlagRule, error)
	DeleteFlagRule(ctx context.Context, tenantID string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
