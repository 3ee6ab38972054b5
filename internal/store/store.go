// Package store defines the persistence interface for market snapshots.
// Implementations include PostgreSQL, SQLite (single-node deployments),
// in-memory (development and tests) and a Redis read-through cache.
package store

import (
	"context"
	"errors"

	"github.com/exiletrade/deal-engine/internal/model"
)

// DefaultHistoryLimit caps ListSnapshots when the caller passes no limit.
const DefaultHistoryLimit = 100

var ErrInvalidSnapshot = errors.New("store: snapshot requires id and key")

// Store persists one market snapshot per successful listing batch.
type Store interface {
	// RecordSnapshot appends an immutable snapshot.
	RecordSnapshot(ctx context.Context, snap *model.MarketSnapshot) error

	// ListSnapshots returns up to limit snapshots for key, oldest first.
	ListSnapshots(ctx context.Context, key string, limit int) ([]model.MarketSnapshot, error)
}

func validate(snap *model.MarketSnapshot) error {
	if snap == nil || snap.ID == "" || snap.Key == "" {
		return ErrInvalidSnapshot
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultHistoryLimit {
		return DefaultHistoryLimit
	}
	return limit
}
