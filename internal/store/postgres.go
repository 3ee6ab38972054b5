package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/exiletrade/deal-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the snapshot table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS market_snapshots (
			id              UUID        PRIMARY KEY,
			key             TEXT        NOT NULL,
			mode            TEXT        NOT NULL,
			market_estimate NUMERIC     NOT NULL,
			min_price       NUMERIC     NOT NULL,
			listing_count   INTEGER     NOT NULL DEFAULT 0,
			observed_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_market_snapshots_key_time
			ON market_snapshots(key, observed_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate market_snapshots: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordSnapshot(ctx context.Context, snap *model.MarketSnapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_snapshots (id, key, mode, market_estimate, min_price, listing_count, observed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)`,
		snap.ID, snap.Key, string(snap.Mode),
		snap.MarketEstimate.String(), snap.MinPrice.String(),
		snap.ListingCount, snap.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("record snapshot %s: %w", snap.Key, err)
	}
	return nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, key string, limit int) ([]model.MarketSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, key, mode, market_estimate::TEXT, min_price::TEXT, listing_count, observed_at
		 FROM (
			SELECT * FROM market_snapshots WHERE key = $1
			ORDER BY observed_at DESC LIMIT $2
		 ) recent
		 ORDER BY observed_at`, key, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", key, err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// pgxRows is the subset of pgx.Rows (and *sql.Rows) used for scanning.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanSnapshots(rows pgxRows) ([]model.MarketSnapshot, error) {
	snaps := []model.MarketSnapshot{}
	for rows.Next() {
		var snap model.MarketSnapshot
		var mode, estimateS, minS string

		if err := rows.Scan(&snap.ID, &snap.Key, &mode, &estimateS, &minS,
			&snap.ListingCount, &snap.ObservedAt); err != nil {
			return nil, err
		}

		snap.Mode = model.SearchMode(mode)
		var err error
		if snap.MarketEstimate, err = decimal.NewFromString(estimateS); err != nil {
			return nil, fmt.Errorf("snapshot %s market_estimate: %w", snap.ID, err)
		}
		if snap.MinPrice, err = decimal.NewFromString(minS); err != nil {
			return nil, fmt.Errorf("snapshot %s min_price: %w", snap.ID, err)
		}
		snap.ObservedAt = snap.ObservedAt.UTC()

		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
