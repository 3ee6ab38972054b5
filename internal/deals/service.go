// Package deals provides the HTTP handlers and the search pipeline that
// turn marketplace trade searches into normalized, optionally ranked deals.
//
// All monetary values use shopspring/decimal, never float64 for money.
package deals

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/exiletrade/deal-engine/internal/config"
	"github.com/exiletrade/deal-engine/internal/listing"
	"github.com/exiletrade/deal-engine/internal/model"
	"github.com/exiletrade/deal-engine/internal/reference"
	"github.com/exiletrade/deal-engine/internal/scoring"
	"github.com/exiletrade/deal-engine/internal/store"
	"github.com/exiletrade/deal-engine/internal/upstream"
)

// Service handles deal lookups. It keeps no per-request state; every
// request runs its own search and fetch.
type Service struct {
	cfg    *config.Config
	market Marketplace
	mapper *listing.Mapper
	scorer *scoring.Scorer
	store  store.Store // optional snapshot history
	hub    *WSHub      // optional WebSocket hub for the live feed
	now    func() time.Time
}

// NewService creates a new deal service.
// Pass nil for st or hub to disable snapshot history or broadcasting.
func NewService(cfg *config.Config, market Marketplace, scorer *scoring.Scorer, st store.Store, hub *WSHub) *Service {
	return &Service{
		cfg:    cfg,
		market: market,
		mapper: listing.NewMapper(cfg.DivineToChaos, cfg.TradeBase),
		scorer: scorer,
		store:  st,
		hub:    hub,
		now:    time.Now,
	}
}

// --- Response types ---

// DealsResponse is the JSON body of every deals route, including errors.
type DealsResponse struct {
	Items          []model.Listing       `json:"items"`
	Ranked         []model.ScoredListing `json:"ranked,omitempty"`
	MarketEstimate *decimal.Decimal      `json:"market_estimate,omitempty"`
	Total          int                   `json:"total"`
	QueryID        string                `json:"query_id,omitempty"`
	Mode           model.SearchMode      `json:"mode,omitempty"`
	Error          string                `json:"error,omitempty"`
	Details        string                `json:"details,omitempty"`
}

// HistoryResponse is the JSON body of GET /history.
type HistoryResponse struct {
	ID     string                 `json:"id"`
	Points []model.MarketSnapshot `json:"points"`
}

// HealthResponse echoes the effective configuration.
type HealthResponse struct {
	Status        string    `json:"status"`
	Service       string    `json:"service"`
	Time          time.Time `json:"time"`
	Realm         string    `json:"realm"`
	League        string    `json:"league"`
	DefaultItem   string    `json:"default_item"`
	QueryIDSet    bool      `json:"query_id_set"`
	FetchLimit    int       `json:"fetch_limit"`
	DivineToChaos string    `json:"divine_to_chaos"`
	RankDeals     bool      `json:"rank_deals"`
}

// Error codes placed in the "error" field.
const (
	errMissingParameter = "missing_parameter:"
	errInvalidParameter = "invalid_parameter:"
	errUnresolvable     = "unresolvable_reference"
	errMissingQueryID   = "missing_config:QUERY_ID"
	errStore            = "store_error"
	errInternal         = "internal_error"
)

// --- HTTP Handlers ---

// Health handles GET /health
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Service:       "deal-engine",
		Time:          s.now().UTC(),
		Realm:         s.cfg.Realm,
		League:        s.cfg.League,
		DefaultItem:   s.cfg.DefaultItem,
		QueryIDSet:    s.cfg.QueryID != "",
		FetchLimit:    s.cfg.FetchLimit,
		DivineToChaos: s.cfg.DivineToChaos.String(),
		RankDeals:     s.cfg.RankDeals,
	})
}

// Deals handles GET /deals?item=&limit=&by=&rank=
// Searches by item name; falls back to DEFAULT_ITEM.
func (s *Service) Deals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	item := q.Get("item")
	if item == "" {
		item = s.cfg.DefaultItem
	}
	if item == "" {
		writeError(w, http.StatusBadRequest, errMissingParameter+"item", "pass ?item= or set DEFAULT_ITEM")
		return
	}

	field := q.Get("by")
	switch field {
	case "":
		field = upstream.FieldType
	case upstream.FieldType, upstream.FieldName:
	default:
		writeError(w, http.StatusBadRequest, errInvalidParameter+"by", "by must be type or name")
		return
	}

	limit, rank, ok := s.parseOptions(w, r)
	if !ok {
		return
	}

	s.serve(w, r, Target{
		Mode:  model.ModeByName,
		Ref:   reference.Reference{Realm: s.cfg.Realm, League: s.cfg.League},
		Item:  item,
		Field: field,
	}, limit, rank)
}

// DealsByURL handles GET /deals_by_url?url=&limit=&rank=
// Accepts a pasted trade URL or a bare query id.
func (s *Service) DealsByURL(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeError(w, http.StatusBadRequest, errMissingParameter+"url", "")
		return
	}

	ref, err := reference.Parse(raw, s.cfg.Realm, s.cfg.League)
	if err != nil {
		writeError(w, http.StatusBadRequest, errUnresolvable, err.Error())
		return
	}

	limit, rank, ok := s.parseOptions(w, r)
	if !ok {
		return
	}

	s.serve(w, r, Target{Mode: model.ModeByURL, Ref: *ref}, limit, rank)
}

// DealsFromEnv handles GET /deals_from_env?limit=&rank=
// Runs the saved search configured as QUERY_ID.
func (s *Service) DealsFromEnv(w http.ResponseWriter, r *http.Request) {
	target, ok := s.EnvTarget()
	if !ok {
		writeError(w, http.StatusInternalServerError, errMissingQueryID, "QUERY_ID not set in environment")
		return
	}

	limit, rank, ok := s.parseOptions(w, r)
	if !ok {
		return
	}

	s.serve(w, r, target, limit, rank)
}

// History handles GET /history?id=&limit=
// Returns recorded market snapshots for a query id or "item:<name>".
func (s *Service) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, errMissingParameter+"id", "")
		return
	}

	limit := store.DefaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, errInvalidParameter+"limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	points := []model.MarketSnapshot{}
	if s.store != nil {
		snaps, err := s.store.ListSnapshots(r.Context(), id, limit)
		if err != nil {
			slog.Error("history lookup failed", "id", id, "err", err)
			writeError(w, http.StatusInternalServerError, errStore, "")
			return
		}
		points = append(points, snaps...)
	}

	writeJSON(w, http.StatusOK, HistoryResponse{ID: id, Points: points})
}

// EnvTarget returns the saved search configured as QUERY_ID.
func (s *Service) EnvTarget() (Target, bool) {
	if s.cfg.QueryID == "" {
		return Target{}, false
	}
	return Target{
		Mode: model.ModeByID,
		Ref: reference.Reference{
			Realm:   s.cfg.Realm,
			League:  s.cfg.League,
			QueryID: s.cfg.QueryID,
		},
	}, true
}

// serve runs the pipeline and converts every failure into a JSON body.
func (s *Service) serve(w http.ResponseWriter, r *http.Request, t Target, limit int, rank bool) {
	res, err := s.Run(r.Context(), t, limit, rank)
	if err != nil {
		status, code := classify(err)
		slog.Warn("deal lookup failed",
			"mode", t.Mode,
			"query_id", t.Ref.QueryID,
			"item", t.Item,
			"error", code,
			"err", err,
		)
		details := upstream.Details(err)
		if code == errInternal {
			details = ""
		}
		writeError(w, status, code, details)
		return
	}

	resp := DealsResponse{
		Items:   res.Listings,
		Ranked:  res.Ranked,
		Total:   res.Total,
		QueryID: res.QueryID,
		Mode:    res.Mode,
	}
	if rank && res.MarketEstimate.Valid {
		resp.MarketEstimate = &res.MarketEstimate.Decimal
	}

	slog.Info("deals served",
		"mode", t.Mode,
		"query_id", res.QueryID,
		"items", len(res.Listings),
		"total", res.Total,
		"ranked", rank,
	)
	writeJSON(w, http.StatusOK, resp)
}

// parseOptions reads limit and rank. On failure it writes a 400 and
// returns ok=false.
func (s *Service) parseOptions(w http.ResponseWriter, r *http.Request) (limit int, rank bool, ok bool) {
	q := r.URL.Query()

	limit = s.cfg.FetchLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errInvalidParameter+"limit", "limit must be an integer between 1 and 60")
			return 0, false, false
		}
		limit = n
	}
	limit = max(1, min(limit, config.MaxFetchLimit))

	rank = s.cfg.RankDeals
	if v := q.Get("rank"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errInvalidParameter+"rank", "rank must be a boolean")
			return 0, false, false
		}
		rank = b
	}
	return limit, rank, true
}

// classify maps a pipeline error to an HTTP status and error code.
// Upstream faults never surface as 500.
func classify(err error) (int, string) {
	var httpErr *upstream.HTTPError
	if errors.As(err, &httpErr) {
		return http.StatusBadGateway, upstream.Kind(err)
	}
	var tErr *upstream.TransportError
	if errors.As(err, &tErr) {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return http.StatusGatewayTimeout, upstream.Kind(err)
		}
		return http.StatusBadGateway, upstream.Kind(err)
	}
	return http.StatusInternalServerError, errInternal
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with an empty item list.
func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, DealsResponse{
		Items:   []model.Listing{},
		Error:   code,
		Details: details,
	})
}
