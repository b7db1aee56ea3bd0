// Package repository implements Postgres persistence for events, alert
// rules and alerts.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-telemetry/aegis/common/models"
)

// PostgresRepository implements the analytics store on PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// InsertEvent appends one event row. Rows are never updated; redelivered
// messages may produce duplicate rows carrying the same message_id.
func (r *PostgresRepository) InsertEvent(ctx context.Context, env *models.EventEnvelope) error {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO events (message_id, project_id, source, event_type, severity, latency_ms, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.pool.Exec(ctx, query,
		env.MessageID, env.ProjectID, env.Source, env.EventType,
		env.Severity, env.LatencyMS, payload, env.IngestedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

// CountErrorsSince counts a project's ERROR events created at or after since.
func (r *PostgresRepository) CountErrorsSince(ctx context.Context, projectID int64, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM events
		WHERE project_id = $1 AND severity = $2 AND created_at >= $3
	`

	var count int
	err := r.pool.QueryRow(ctx, query, projectID, models.SeverityError, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent errors: %w", err)
	}
	return count, nil
}

// ListRules returns every rule that could apply to a project: global rules
// and the project's own, including disabled rows. Disabled rows are needed
// because a disabled project override suppresses the global rule it shadows.
func (r *PostgresRepository) ListRules(ctx context.Context, projectID int64) ([]models.Rule, error) {
	query := `
		SELECT id, project_id, name, field, operator, value, alert_level, message_template, enabled
		FROM alert_rules
		WHERE project_id IS NULL OR project_id = $1
		ORDER BY project_id NULLS FIRST, id
	`

	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		var rule models.Rule
		if err := rows.Scan(
			&rule.ID, &rule.ProjectID, &rule.Name, &rule.Field, &rule.Operator,
			&rule.Value, &rule.AlertLevel, &rule.MessageTemplate, &rule.Enabled,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}

	return rules, nil
}

// InsertAlert creates an alert row unconditionally and fills in the
// generated ID and timestamp.
func (r *PostgresRepository) InsertAlert(ctx context.Context, alert *models.Alert) error {
	query := `
		INSERT INTO alerts (project_id, rule_name, message, level, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		alert.ProjectID, alert.RuleName, alert.Message, alert.Level,
	).Scan(&alert.ID, &alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	return nil
}

// RaiseIfAbsent creates an alert unless an open alert for the same
// (project, rule) was created within window. The check and insert run in
// one transaction holding an advisory lock scoped to the (project, rule)
// pair, so concurrent consumers cannot both insert; unrelated pairs are
// never serialized. A stale open alert (older than window) does not block
// a new one.
func (r *PostgresRepository) RaiseIfAbsent(ctx context.Context, projectID int64, ruleName, level, message string, window time.Duration) (bool, *models.Alert, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock released automatically at commit/rollback.
	lockQuery := `SELECT pg_advisory_xact_lock(hashtextextended($1::text || ':' || $2, 0))`
	if _, err := tx.Exec(ctx, lockQuery, projectID, ruleName); err != nil {
		return false, nil, fmt.Errorf("failed to take dedup lock: %w", err)
	}

	existsQuery := `
		SELECT id, created_at
		FROM alerts
		WHERE project_id = $1 AND rule_name = $2 AND resolved_at IS NULL AND created_at > NOW() - $3::interval
		ORDER BY created_at DESC
		LIMIT 1
	`

	var existingID int64
	var existingCreated time.Time
	err = tx.QueryRow(ctx, existsQuery, projectID, ruleName, window).Scan(&existingID, &existingCreated)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return false, nil, fmt.Errorf("failed to commit dedup check: %w", err)
		}
		return false, nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, nil, fmt.Errorf("failed to check for open alert: %w", err)
	}

	alert := &models.Alert{
		ProjectID: projectID,
		RuleName:  ruleName,
		Message:   message,
		Level:     level,
	}

	insertQuery := `
		INSERT INTO alerts (project_id, rule_name, message, level, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, insertQuery, projectID, ruleName, message, level).Scan(&alert.ID, &alert.CreatedAt)
	if err != nil {
		return false, nil, fmt.Errorf("failed to insert alert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, nil, fmt.Errorf("failed to commit alert: %w", err)
	}

	return true, alert, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}
