package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/fundingbot/fundingbot/internal/arb"
	"github.com/fundingbot/fundingbot/internal/perf"
)

// PostgresStore is additive durability alongside the required JSON
// files: UpsertPositions and UpsertPerformance write position and
// performance snapshots to Postgres. The supervisor persists only to
// the JSON files and does not call them; cmd/fundingbot opens the store
// when a database host is configured and closes it at shutdown. Grounded on
// the teacher's internal/db/db.go pool construction and
// orchestrator_state.go's upsert-latest-row pattern.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger

	// breaker, when set via WithBreaker, gates every query through
	// risk.CircuitBreakerManager.Database() so a persistently failing
	// database is rejected fast instead of being queried again.
	breaker *gobreaker.CircuitBreaker
}

// WithBreaker attaches a circuit breaker guarding every pool call and
// returns the same store for chaining.
func (s *PostgresStore) WithBreaker(b *gobreaker.CircuitBreaker) *PostgresStore {
	s.breaker = b
	return s
}

func (s *PostgresStore) guarded(fn func() error) error {
	if s.breaker == nil {
		return fn()
	}
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// NewPostgresStore opens a pool against dsn and ensures the two tables
// this store needs exist.
func NewPostgresStore(ctx context.Context, dsn string, log zerolog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, log: log.With().Str("component", "postgres_store").Logger()}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS arb_positions (
			position_id TEXT PRIMARY KEY,
			is_active BOOLEAN NOT NULL,
			payload JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS arb_performance (
			id SMALLINT PRIMARY KEY DEFAULT 1,
			payload JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	return err
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// UpsertPositions durably mirrors the current full registry snapshot.
func (s *PostgresStore) UpsertPositions(ctx context.Context, positions []arb.ArbitragePosition) error {
	return s.guarded(func() error {
		batch := &pgx.Batch{}
		for _, p := range positions {
			payload, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("marshal position %s: %w", p.PositionID, err)
			}
			batch.Queue(`
				INSERT INTO arb_positions (position_id, is_active, payload, updated_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (position_id) DO UPDATE
				SET is_active = EXCLUDED.is_active, payload = EXCLUDED.payload, updated_at = now()
			`, p.PositionID, p.IsActive, payload)
		}
		br := s.pool.SendBatch(ctx, batch)
		defer br.Close()
		for range positions {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("upsert position batch: %w", err)
			}
		}
		return nil
	})
}

// UpsertPerformance durably mirrors the latest performance snapshot.
func (s *PostgresStore) UpsertPerformance(ctx context.Context, stats perf.Stats) error {
	return s.guarded(func() error {
		payload, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("marshal performance: %w", err)
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO arb_performance (id, payload, updated_at)
			VALUES (1, $1, now())
			ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
		`, payload)
		return err
	})
}
