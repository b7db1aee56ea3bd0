// Package keyauth resolves ingestion API keys to project IDs. Keys are
// stored hashed in the shared api_keys table managed by the external
// project/API-key API; this package only reads them.
package keyauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrInvalidKey means the key is unknown.
	ErrInvalidKey = errors.New("invalid API key")

	// ErrRevokedKey means the key exists but has been revoked.
	ErrRevokedKey = errors.New("API key has been revoked")
)

// Resolver maps an API key to the project it ingests for.
type Resolver interface {
	ResolveProject(ctx context.Context, apiKey string) (int64, error)
	Close()
}

// HashKey returns the sha256 hex digest under which keys are stored.
// The hash must be deterministic so the lookup can use the key_hash index.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// PostgresResolver resolves keys against the api_keys table.
type PostgresResolver struct {
	pool *pgxpool.Pool
}

// NewPostgresResolver opens a connection pool and verifies connectivity.
func NewPostgresResolver(ctx context.Context, connString string) (*PostgresResolver, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 10
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresResolver{pool: pool}, nil
}

// ResolveProject implements Resolver.
func (r *PostgresResolver) ResolveProject(ctx context.Context, apiKey string) (int64, error) {
	query := `
		SELECT project_id, revoked_at
		FROM api_keys
		WHERE key_hash = $1
	`

	var projectID int64
	var revokedAt *time.Time
	err := r.pool.QueryRow(ctx, query, HashKey(apiKey)).Scan(&projectID, &revokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInvalidKey
		}
		return 0, fmt.Errorf("failed to look up API key: %w", err)
	}

	if revokedAt != nil {
		return 0, ErrRevokedKey
	}
	return projectID, nil
}

// Close releases the connection pool.
func (r *PostgresResolver) Close() {
	r.pool.Close()
}
