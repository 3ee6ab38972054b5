// Package model defines the core domain types shared across the deal engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SearchMode identifies how a batch of listings was located.
type SearchMode string

const (
	ModeByID   SearchMode = "id"
	ModeByName SearchMode = "name"
	ModeByURL  SearchMode = "url"
)

// RawListingNode is one element of the fetch endpoint's "result" array.
// The marketplace owns this shape; nothing in it is guaranteed present.
type RawListingNode = map[string]any

// Listing is the normalized form of a RawListingNode.
type Listing struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	BaseType        string              `json:"base_type"`
	PriceAmount     decimal.NullDecimal `json:"price_amount"`
	PriceCurrency   string              `json:"price_currency"`
	Price           string              `json:"price"` // "<amount> <currency>" or ""
	ChaosEquivalent decimal.NullDecimal `json:"chaos_equivalent"`
	Seller          string              `json:"seller"`
	ListedAt        *time.Time          `json:"listed_at,omitempty"`
	TradeURL        string              `json:"trade_url"`
}

// ScoredListing is a Listing ranked against its own batch. Scores are only
// comparable within the batch that produced them.
type ScoredListing struct {
	Listing        Listing         `json:"listing"`
	MarketEstimate decimal.Decimal `json:"market_estimate"`
	MarginPct      float64         `json:"margin_pct"`
	Score          float64         `json:"score"`
}

// MarketSnapshot records the market estimate of one successful batch.
// Schema: {key, mode, market_estimate, min_price, listing_count, observed_at}
type MarketSnapshot struct {
	ID             string          `json:"id" db:"id"`
	Key            string          `json:"key" db:"key"` // query id or "item:<name>"
	Mode           SearchMode      `json:"mode" db:"mode"`
	MarketEstimate decimal.Decimal `json:"market_estimate" db:"market_estimate"`
	MinPrice       decimal.Decimal `json:"min_price" db:"min_price"`
	ListingCount   int             `json:"listing_count" db:"listing_count"`
	ObservedAt     time.Time       `json:"observed_at" db:"observed_at"`
}
