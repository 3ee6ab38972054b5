package deals

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/exiletrade/deal-engine/internal/listing"
	"github.com/exiletrade/deal-engine/internal/metrics"
	"github.com/exiletrade/deal-engine/internal/model"
	"github.com/exiletrade/deal-engine/internal/reference"
	"github.com/exiletrade/deal-engine/internal/scoring"
	"github.com/exiletrade/deal-engine/internal/upstream"
)

// Marketplace is the outbound API used by the pipeline.
type Marketplace interface {
	SearchByID(ctx context.Context, ref reference.Reference) (*upstream.SearchResult, error)
	SearchByName(ctx context.Context, realm, league, item, field string) (*upstream.SearchResult, error)
	Fetch(ctx context.Context, ids []string, queryID string) ([]model.RawListingNode, error)
}

// Target is one resolved search: a saved query (by id or by url) or an
// item name.
type Target struct {
	Mode  model.SearchMode
	Ref   reference.Reference // Realm and League are always set
	Item  string              // ModeByName only
	Field string              // upstream.FieldType or upstream.FieldName
}

// SnapshotKey is the history key for this target.
func (t Target) SnapshotKey(queryID string) string {
	if t.Mode == model.ModeByName {
		return "item:" + t.Item
	}
	return queryID
}

// Result is the outcome of one pipeline run.
type Result struct {
	Mode           model.SearchMode
	QueryID        string
	Total          int
	Listings       []model.Listing
	Ranked         []model.ScoredListing // nil unless ranking was requested
	MarketEstimate decimal.NullDecimal
}

// Run searches, fetches at most limit listings, maps them and optionally
// ranks them. Search always completes before fetch starts. Upstream
// failures are returned as *upstream.HTTPError or *upstream.TransportError.
func (s *Service) Run(ctx context.Context, t Target, limit int, rank bool) (*Result, error) {
	var (
		sr  *upstream.SearchResult
		err error
	)
	if t.Mode == model.ModeByName {
		sr, err = s.market.SearchByName(ctx, t.Ref.Realm, t.Ref.League, t.Item, t.Field)
	} else {
		sr, err = s.market.SearchByID(ctx, t.Ref)
	}
	if err != nil {
		return nil, err
	}

	// Saved searches keep the id the caller referenced; only name searches
	// take the id the marketplace assigns.
	queryID := t.Ref.QueryID
	if t.Mode == model.ModeByName || queryID == "" {
		queryID = sr.ID
	}

	res := &Result{
		Mode:     t.Mode,
		QueryID:  queryID,
		Total:    sr.Total,
		Listings: []model.Listing{},
	}

	ids := sr.Result
	if len(ids) > limit {
		ids = ids[:limit]
	}
	if len(ids) == 0 {
		if rank {
			res.Ranked = []model.ScoredListing{}
		}
		return res, nil
	}

	nodes, err := s.market.Fetch(ctx, ids, queryID)
	if err != nil {
		return nil, err
	}

	res.Listings = s.mapper.MapAll(nodes, listing.Batch{
		Mode:    t.Mode,
		Realm:   t.Ref.Realm,
		League:  t.Ref.League,
		QueryID: queryID,
	})
	metrics.ListingsMapped.WithLabelValues(string(t.Mode)).Add(float64(len(res.Listings)))

	prices := chaosPrices(res.Listings)
	if len(prices) > 0 {
		res.MarketEstimate = decimal.NewNullDecimal(scoring.Median(prices))
		s.recordSnapshot(ctx, t.SnapshotKey(queryID), t.Mode, prices)
	}

	if rank {
		res.Ranked = s.scorer.Score(res.Listings)
		metrics.ListingsRanked.Add(float64(len(res.Ranked)))
		s.broadcast(t.SnapshotKey(queryID), t.Mode, res.Ranked)
	}
	return res, nil
}

// recordSnapshot stores the batch estimate. Store failures are logged and
// never fail the request.
func (s *Service) recordSnapshot(ctx context.Context, key string, mode model.SearchMode, prices []decimal.Decimal) {
	if s.store == nil || key == "" {
		return
	}
	snap := &model.MarketSnapshot{
		ID:             uuid.New().String(),
		Key:            key,
		Mode:           mode,
		MarketEstimate: scoring.Median(prices),
		MinPrice:       scoring.Min(prices),
		ListingCount:   len(prices),
		ObservedAt:     s.now().UTC(),
	}
	if err := s.store.RecordSnapshot(ctx, snap); err != nil {
		metrics.SnapshotsRecorded.WithLabelValues("error").Inc()
		slog.Warn("snapshot not recorded", "key", key, "err", err)
		return
	}
	metrics.SnapshotsRecorded.WithLabelValues("ok").Inc()
}

// broadcast pushes deals at or above the alert margin to WebSocket clients.
func (s *Service) broadcast(key string, mode model.SearchMode, ranked []model.ScoredListing) {
	if s.hub == nil {
		return
	}
	for _, d := range ranked {
		if d.MarginPct < s.cfg.AlertMinMargin {
			continue
		}
		s.hub.Broadcast(NewDealMessage(key, mode, d))
	}
}

func chaosPrices(listings []model.Listing) []decimal.Decimal {
	prices := make([]decimal.Decimal, 0, len(listings))
	for _, l := range listings {
		if l.ChaosEquivalent.Valid && l.ChaosEquivalent.Decimal.IsPositive() {
			prices = append(prices, l.ChaosEquivalent.Decimal)
		}
	}
	return prices
}
