package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores the snapshot blob in a single-row table. Optional:
// it is only wired when DATABASE_URL is set, and it sits between the backup
// channel and the local file in load order.
type PostgresBackend struct {
	db *pgxpool.Pool
}

// NewPostgresBackend connects and makes sure the snapshot table exists.
func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 4
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS campton_snapshots (
			snapshot_id uuid PRIMARY KEY,
			data        bytea NOT NULL,
			created_at  timestamptz NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure snapshot table: %w", err)
	}
	return &PostgresBackend{db: pool}, nil
}

func (p *PostgresBackend) Name() string { return "postgres" }

func (p *PostgresBackend) Close() { p.db.Close() }

// Save inserts the new record and drops every older one, keeping the table
// at a single authoritative row.
func (p *PostgresBackend) Save(ctx context.Context, raw []byte) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	id := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO campton_snapshots (snapshot_id, data)
		VALUES ($1, $2)
	`, id, raw); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM campton_snapshots WHERE snapshot_id <> $1
	`, id); err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *PostgresBackend) Load(ctx context.Context) ([]byte, error) {
	var raw []byte
	err := p.db.QueryRow(ctx, `
		SELECT data
		FROM campton_snapshots
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return raw, nil
}
