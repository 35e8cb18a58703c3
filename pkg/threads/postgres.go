package threads

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists mappings in PostgreSQL so replicas share threads.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the threads table.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn cannot be empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS relay_threads (
			session_key TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating relay_threads: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// PutIfAbsent implements Store.
func (s *PostgresStore) PutIfAbsent(ctx context.Context, key SessionKey, id ThreadID) (ThreadID, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO relay_threads (session_key, thread_id)
		VALUES ($1, $2)
		ON CONFLICT (session_key) DO NOTHING`,
		string(key), string(id))
	if err != nil {
		return "", false, fmt.Errorf("inserting thread: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return id, true, nil
	}

	existing, ok, err := s.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, fmt.Errorf("thread for %s vanished after conflict", key)
	}
	return existing, false, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key SessionKey) (ThreadID, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT thread_id FROM relay_threads WHERE session_key = $1`, string(key)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying thread: %w", err)
	}
	return ThreadID(id), true, nil
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM relay_threads`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting threads: %w", err)
	}
	return n, nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging threads db: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
