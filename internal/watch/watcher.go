// Package watch re-runs one saved search on an interval and alerts on
// listings priced well under their batch market estimate.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/exiletrade/deal-engine/internal/deals"
	"github.com/exiletrade/deal-engine/internal/model"
)

// MaxSeen bounds the dedup set; when exceeded the set starts over.
const MaxSeen = 10000

// Runner executes one deal search.
type Runner interface {
	Run(ctx context.Context, t deals.Target, limit int, rank bool) (*deals.Result, error)
}

// Alerter delivers one deal alert.
type Alerter interface {
	SendDeal(ctx context.Context, key string, deal model.ScoredListing) error
}

// Watcher polls a target and alerts once per listing.
type Watcher struct {
	runner    Runner
	alerter   Alerter
	target    deals.Target
	limit     int
	minMargin float64
	interval  time.Duration
	seen      *seenSet
}

// New creates a watcher for target. minMargin is a percentage.
func New(runner Runner, alerter Alerter, target deals.Target, limit int, minMargin float64, interval time.Duration) *Watcher {
	return &Watcher{
		runner:    runner,
		alerter:   alerter,
		target:    target,
		limit:     limit,
		minMargin: minMargin,
		interval:  interval,
		seen:      newSeenSet(),
	}
}

// Start scans immediately, then on every tick until ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("watcher started",
		"query_id", w.target.Ref.QueryID,
		"interval", w.interval,
		"min_margin", w.minMargin,
	)
	w.safeScan(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("watcher stopped")
			return
		case <-ticker.C:
			w.safeScan(ctx)
		}
	}
}

// safeScan wraps Scan with panic recovery so one bad batch does not stop
// the loop.
func (w *Watcher) safeScan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("watch scan panicked", "panic", fmt.Sprint(r))
		}
	}()

	start := time.Now()
	found, sent, err := w.Scan(ctx)
	if err != nil {
		slog.Warn("watch scan failed", "err", err)
		return
	}
	slog.Info("watch scan complete",
		"found", found,
		"sent", sent,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

// Scan runs one ranked search and alerts on every unseen listing whose
// margin reaches minMargin. A listing is marked seen only after its alert
// was delivered.
func (w *Watcher) Scan(ctx context.Context) (found, sent int, err error) {
	res, err := w.runner.Run(ctx, w.target, w.limit, true)
	if err != nil {
		return 0, 0, err
	}
	found = len(res.Listings)
	key := w.target.SnapshotKey(res.QueryID)

	for _, d := range res.Ranked {
		if d.MarginPct < w.minMargin || d.Listing.ID == "" || w.seen.Contains(d.Listing.ID) {
			continue
		}
		if err := w.alerter.SendDeal(ctx, key, d); err != nil {
			slog.Warn("deal alert failed", "listing_id", d.Listing.ID, "err", err)
			continue
		}
		w.seen.Add(d.Listing.ID)
		sent++
	}
	return found, sent, nil
}

// seenSet is a thread-safe set of alerted listing ids.
type seenSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{seen: make(map[string]struct{})}
}

// Add returns true if id was newly added.
func (s *seenSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[id]; exists {
		return false
	}
	if len(s.seen) >= MaxSeen {
		s.seen = make(map[string]struct{})
	}
	s.seen[id] = struct{}{}
	return true
}

func (s *seenSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[id]
	return exists
}

func (s *seenSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
