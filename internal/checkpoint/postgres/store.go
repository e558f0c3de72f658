// Package postgres provides a PostgreSQL-backed [checkpoint.Store].
//
// Records live in a single block_checkpoints table keyed by
// (file_id, block_index). The block result is stored as JSONB, so a stored
// result can be inspected with plain SQL:
//
//	SELECT block_index, result->>'correctedText'
//	FROM   block_checkpoints
//	WHERE  file_id = 'interview-42'
//	ORDER  BY block_index;
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/scribefix/internal/checkpoint"
	"github.com/MrWong99/scribefix/internal/transcript"
)

var _ checkpoint.Store = (*Store)(nil)

const ddlBlockCheckpoints = `
CREATE TABLE IF NOT EXISTS block_checkpoints (
    file_id      TEXT         NOT NULL,
    block_index  INTEGER      NOT NULL,
    status       TEXT         NOT NULL,
    error        TEXT         NOT NULL DEFAULT '',
    result       JSONB        NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (file_id, block_index)
);

CREATE INDEX IF NOT EXISTS idx_block_checkpoints_status
    ON block_checkpoints (file_id, status);
`

// Migrate creates the checkpoint table if it does not exist. It is
// idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlBlockCheckpoints); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Store is a [checkpoint.Store] backed by a [pgxpool.Pool]. All operations
// are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection, and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("checkpoint postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("checkpoint postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("checkpoint postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// FindBlock implements [checkpoint.Store].
func (s *Store) FindBlock(ctx context.Context, fileID string, blockIndex int) (*checkpoint.Record, error) {
	const q = `
		SELECT file_id, block_index, status, error, result, updated_at
		FROM   block_checkpoints
		WHERE  file_id = $1 AND block_index = $2`

	rows, err := s.pool.Query(ctx, q, fileID, blockIndex)
	if err != nil {
		return nil, fmt.Errorf("checkpoint postgres: find block: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint postgres: find block: %w", err)
	}
	return &rec, nil
}

// UpsertBlock implements [checkpoint.Store].
func (s *Store) UpsertBlock(ctx context.Context, fileID string, blockIndex int, result transcript.BlockResult, status checkpoint.Status, errMsg string) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("checkpoint postgres: marshal result: %w", err)
	}

	const q = `
		INSERT INTO block_checkpoints (file_id, block_index, status, error, result, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (file_id, block_index) DO UPDATE SET
		    status      = EXCLUDED.status,
		    error       = EXCLUDED.error,
		    result      = EXCLUDED.result,
		    updated_at  = now()`

	if _, err := s.pool.Exec(ctx, q, fileID, blockIndex, string(status), errMsg, resultJSON); err != nil {
		return fmt.Errorf("checkpoint postgres: upsert block: %w", err)
	}
	return nil
}

// ListBlocks implements [checkpoint.Store].
func (s *Store) ListBlocks(ctx context.Context, fileID string) ([]checkpoint.Record, error) {
	const q = `
		SELECT file_id, block_index, status, error, result, updated_at
		FROM   block_checkpoints
		WHERE  file_id = $1
		ORDER  BY block_index`

	rows, err := s.pool.Query(ctx, q, fileID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint postgres: list blocks: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("checkpoint postgres: list blocks: %w", err)
	}
	if recs == nil {
		recs = []checkpoint.Record{}
	}
	return recs, nil
}

func scanRecord(row pgx.CollectableRow) (checkpoint.Record, error) {
	var (
		rec        checkpoint.Record
		status     string
		resultJSON []byte
	)
	if err := row.Scan(&rec.FileID, &rec.BlockIndex, &status, &rec.Error, &resultJSON, &rec.UpdatedAt); err != nil {
		return checkpoint.Record{}, err
	}
	rec.Status = checkpoint.Status(status)
	if err := json.Unmarshal(resultJSON, &rec.Result); err != nil {
		return checkpoint.Record{}, fmt.Errorf("unmarshal result: %w", err)
	}
	return rec, nil
}
