// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveEvents stores a batch of ledger events atomically with tenant isolation.
func (r *SQLRepository) SaveEvents(ctx context.Context, tenantID string, events []domain.Event) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO ledger_events (
			id, tenant_id, account, timestamp, action, asset, amount, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, ev := range events {
		if ev.Account == "" {
			return fmt.Errorf("%w: event account is required", ErrInvalidInput)
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(), tenantID,
			ev.Account, ev.Timestamp.UTC(), string(ev.Action), ev.Asset, ev.Amount,
			now,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetEventsByAccount retrieves all events for one account in chronological order.
func (r *SQLRepository) GetEventsByAccount(ctx context.Context, tenantID string, account string) ([]domain.Event, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT account, timestamp, action, asset, amount
		FROM ledger_events
		WHERE tenant_id = ? AND account = ?
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListEvents retrieves all events since the given time in chronological order.
func (r *SQLRepository) ListEvents(ctx context.Context, tenantID string, since time.Time) ([]domain.Event, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT account, timestamp, action, asset, amount
		FROM ledger_events
		WHERE tenant_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// CountEvents returns the number of stored events for a tenant.
func (r *SQLRepository) CountEvents(ctx context.Context, tenantID string) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	var count int64
	query := `SELECT COUNT(*) FROM ledger_events WHERE tenant_id = ?`
	if err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var action string

		if err := rows.Scan(&ev.Account, &ev.Timestamp, &action, &ev.Asset, &ev.Amount); err != nil {
			return nil, err
		}
		ev.Action = domain.Action(action)
		ev.Timestamp = ev.Timestamp.UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SaveScoreResult stores a score result with tenant isolation.
func (r *SQLRepository) SaveScoreResult(ctx context.Context, tenantID string, result *domain.ScoreResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	behaviors, _ := json.Marshal(result.BehaviorScores)
	flags, _ := json.Marshal(result.Flags)

	query := `
		INSERT INTO score_results (
			id, tenant_id, account, score, behavior_scores, flags, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		result.ID, tenantID, result.Account, result.Score,
		string(behaviors), string(flags), result.ComputedAt,
	)
	return err
}

// GetScoreResult retrieves the most recent score result for an account.
func (r *SQLRepository) GetScoreResult(ctx context.Context, tenantID string, account string) (*domain.ScoreResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, account, score, behavior_scores, flags, computed_at
		FROM score_results
		WHERE tenant_id = ? AND account = ?
		ORDER BY computed_at DESC
		LIMIT 1
	`

	var result domain.ScoreResult
	var behaviors, flags string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, account).Scan(
		&result.ID, &result.Account, &result.Score, &behaviors, &flags, &result.ComputedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(behaviors), &result.BehaviorScores)
	if flags != "" {
		json.Unmarshal([]byte(flags), &result.Flags)
	}

	return &result, nil
}

// ListScoreResults retrieves the latest score result per account for a tenant.
func (r *SQLRepository) ListScoreResults(ctx context.Context, tenantID string) ([]*domain.ScoreResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT s.id, s.account, s.score, s.behavior_scores, s.flags, s.computed_at
		FROM score_results s
		JOIN (
			SELECT account, MAX(computed_at) AS latest
			FROM score_results
			WHERE tenant_id = ?
			GROUP BY account
		) m ON s.account = m.account AND s.computed_at = m.latest
		WHERE s.tenant_id = ?
		ORDER BY s.score DESC, s.account ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.ScoreResult
	for rows.Next() {
		var result domain.ScoreResult
		var behaviors, flags string

		if err := rows.Scan(
			&result.ID, &result.Account, &result.Score, &behaviors, &flags, &result.ComputedAt,
		); err != nil {
			return nil, err
		}

		json.Unmarshal([]byte(behaviors), &result.BehaviorScores)
		if flags != "" {
			json.Unmarshal([]byte(flags), &result.Flags)
		}
		results = append(results, &result)
	}

	return results, rows.Err()
}

// SaveFlagRule upserts a flag rule with tenant isolation.
func (r *SQLRepository) SaveFlagRule(ctx context.Context, tenantID string, rule *domain.FlagRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO flag_rules (
			id, tenant_id, name, description, expression, severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Expression, rule.Severity, enabled,
		now, now,
	)
	return err
}

// GetFlagRule retrieves a flag rule with tenant isolation.
func (r *SQLRepository) GetFlagRule(ctx context.Context, tenantID string, ruleID string) (*domain.FlagRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, severity, enabled
		FROM flag_rules
		WHERE tenant_id = ? AND id = ?
	`

	var rule domain.FlagRule
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.Expression, &rule.Severity, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1
	return &rule, nil
}

// ListFlagRules retrieves all enabled flag rules for a tenant.
func (r *SQLRepository) ListFlagRules(ctx context.Context, tenantID string) ([]*domain.FlagRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, severity, enabled
		FROM flag_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.FlagRule
	for rows.Next() {
		var rule domain.FlagRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Expression, &rule.Severity, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeleteFlagRule soft-deletes a flag rule by setting enabled = 0.
func (r *SQLRepository) DeleteFlagRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE flag_rules
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
