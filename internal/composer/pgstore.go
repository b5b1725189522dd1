package composer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perimeter-epitech/area/internal/config"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS composer_drafts (
	id         TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// PgDraftStore is a PostgreSQL-backed DraftStore using pgx/v5.
type PgDraftStore struct {
	pool *pgxpool.Pool
}

// NewPgDraftStore wraps an existing pool.
func NewPgDraftStore(pool *pgxpool.Pool) *PgDraftStore {
	return &PgDraftStore{pool: pool}
}

// OpenPgDraftStore connects to dsn, applies pool limits from cfg, and
// creates the drafts table.
func OpenPgDraftStore(ctx context.Context, dsn string, cfg config.StoreConfig) (*PgDraftStore, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create drafts table: %w", err)
	}
	return NewPgDraftStore(pool), nil
}

// Close releases the pool.
func (s *PgDraftStore) Close() {
	s.pool.Close()
}

func (s *PgDraftStore) Load(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM composer_drafts WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query draft: %w", err)
	}
	return data, nil
}

func (s *PgDraftStore) Save(ctx context.Context, id string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO composer_drafts (id, data, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		id, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert draft: %w", err)
	}
	return nil
}

func (s *PgDraftStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM composer_drafts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

func (s *PgDraftStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
