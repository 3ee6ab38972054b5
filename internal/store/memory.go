package store

import (
	"context"
	"sync"

	"github.com/exiletrade/deal-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]model.MarketSnapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string][]model.MarketSnapshot),
	}
}

func (s *MemoryStore) RecordSnapshot(_ context.Context, snap *model.MarketSnapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Only the newest DefaultHistoryLimit snapshots are ever listed.
	kept := append(s.snapshots[snap.Key], *snap)
	if len(kept) > DefaultHistoryLimit {
		kept = append([]model.MarketSnapshot(nil), kept[len(kept)-DefaultHistoryLimit:]...)
	}
	s.snapshots[snap.Key] = kept
	return nil
}

// ListSnapshots returns the most recent limit snapshots, oldest first.
func (s *MemoryStore) ListSnapshots(_ context.Context, key string, limit int) ([]model.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.snapshots[key]
	limit = normalizeLimit(limit)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]model.MarketSnapshot, len(all))
	copy(out, all)
	return out, nil
}
