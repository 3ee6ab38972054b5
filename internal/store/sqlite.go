package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/exiletrade/deal-engine/internal/model"
)

// SQLiteStore implements Store on a local SQLite file. Uses the pure-Go
// modernc.org/sqlite driver, so no CGO toolchain is needed.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.Exec(p); err != nil {
			slog.Warn("sqlite pragma failed", "pragma", p, "err", err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS market_snapshots (
			id              TEXT    PRIMARY KEY,
			key             TEXT    NOT NULL,
			mode            TEXT    NOT NULL,
			market_estimate TEXT    NOT NULL,
			min_price       TEXT    NOT NULL,
			listing_count   INTEGER NOT NULL DEFAULT 0,
			observed_at     INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_market_snapshots_key_time
			ON market_snapshots(key, observed_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) RecordSnapshot(ctx context.Context, snap *model.MarketSnapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO market_snapshots (id, key, mode, market_estimate, min_price, listing_count, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Key, string(snap.Mode),
		snap.MarketEstimate.String(), snap.MinPrice.String(),
		snap.ListingCount, snap.ObservedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record snapshot %s: %w", snap.Key, err)
	}
	return nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, key string, limit int) ([]model.MarketSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, mode, market_estimate, min_price, listing_count, observed_at
		 FROM (
			SELECT * FROM market_snapshots WHERE key = ?
			ORDER BY observed_at DESC LIMIT ?
		 )
		 ORDER BY observed_at`, key, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", key, err)
	}
	defer rows.Close()

	return scanSnapshots(&millisRows{rows: rows})
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// millisRows adapts observed_at stored as Unix milliseconds to the
// time.Time destination used by scanSnapshots.
type millisRows struct {
	rows *sql.Rows
}

func (m *millisRows) Next() bool { return m.rows.Next() }
func (m *millisRows) Err() error { return m.rows.Err() }

func (m *millisRows) Scan(dest ...interface{}) error {
	last := len(dest) - 1
	ts, ok := dest[last].(*time.Time)
	if !ok {
		return m.rows.Scan(dest...)
	}
	var millis int64
	dest[last] = &millis
	if err := m.rows.Scan(dest...); err != nil {
		return err
	}
	*ts = time.UnixMilli(millis).UTC()
	return nil
}
