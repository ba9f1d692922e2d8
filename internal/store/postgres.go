package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/atmx/price-tracker/internal/model"
)

// DefaultTable is the table used when none is configured.
const DefaultTable = "btc_prices"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// One row per second, keyed by timestamp and upserted on conflict.
type PostgresStore struct {
	pool   *pgxpool.Pool
	table  string
	logger zerolog.Logger
}

// PoolOptions tune the pgx connection pool.
type PoolOptions struct {
	DSN             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

// NewPool configures a PostgreSQL connection pool.
func NewPool(ctx context.Context, opts PoolOptions) (*pgxpool.Pool, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = int32(opts.MinConns)
	}
	if opts.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return pool, nil
}

// NewPostgresStore creates a new PostgreSQL-backed store writing to table.
func NewPostgresStore(pool *pgxpool.Pool, table string, logger zerolog.Logger) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresStore{
		pool:   pool,
		table:  pgx.Identifier{table}.Sanitize(),
		logger: logger.With().Str("component", "postgres_store").Logger(),
	}
}

// EnsureSchema creates the samples table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			timestamp TIMESTAMPTZ PRIMARY KEY,
			price     DOUBLE PRECISION NOT NULL
		)`, s.table))
	if err != nil {
		return fmt.Errorf("ensure schema %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, sample model.Sample) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (timestamp, price) VALUES ($1, $2)
		 ON CONFLICT (timestamp) DO UPDATE SET price = EXCLUDED.price`, s.table),
		sample.Time(), sample.Price,
	)
	if err != nil {
		return fmt.Errorf("insert sample %d: %w", sample.Timestamp, err)
	}
	return nil
}

func (s *PostgresStore) FetchAll(ctx context.Context) []model.Sample {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT timestamp, price FROM %s ORDER BY timestamp ASC`, s.table))
	if err != nil {
		s.logger.Error().Err(err).Msg("fetch all samples failed")
		return []model.Sample{}
	}
	defer rows.Close()

	samples, err := scanSamples(rows)
	if err != nil {
		s.logger.Error().Err(err).Msg("scan samples failed")
		return []model.Sample{}
	}
	return samples
}

func (s *PostgresStore) DeleteByTimestamp(ctx context.Context, ts int64) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE timestamp = $1`, s.table), time.Unix(ts, 0).UTC())
	if err != nil {
		return fmt.Errorf("delete sample %d: %w", ts, err)
	}
	s.logger.Debug().
		Int64("rows", tag.RowsAffected()).
		Time("timestamp", time.Unix(ts, 0).UTC()).
		Msg("deleted samples")
	return nil
}

// scanSamples reads pgx rows into Sample slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanSamples(rows pgxRows) ([]model.Sample, error) {
	samples := []model.Sample{}
	for rows.Next() {
		var ts time.Time
		var price float64
		if err := rows.Scan(&ts, &price); err != nil {
			return nil, err
		}
		samples = append(samples, model.Sample{Price: price, Timestamp: ts.Unix()})
	}
	return samples, rows.Err()
}
