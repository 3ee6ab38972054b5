// Package listing maps raw fetch-endpoint nodes into model.Listing.
//
// Map is total: any JSON-like input, including nil, produces a Listing.
// Missing substructure degrades to empty values instead of failing.
package listing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/exiletrade/deal-engine/internal/model"
	"github.com/exiletrade/deal-engine/internal/reference"
)

// Currency codes used by the marketplace price field.
const (
	CurrencyChaos  = "chaos"
	CurrencyDivine = "divine"
)

// Batch describes the search that produced a set of nodes. It decides how
// trade URLs are built.
type Batch struct {
	Mode    model.SearchMode
	Realm   string
	League  string
	QueryID string
}

// Mapper normalizes listings with a fixed exchange rate.
type Mapper struct {
	divineToChaos decimal.Decimal
	tradeBase     string
}

// NewMapper creates a mapper. divineToChaos is the number of chaos orbs
// one divine orb is worth; tradeBase is the public trade site root.
func NewMapper(divineToChaos decimal.Decimal, tradeBase string) *Mapper {
	return &Mapper{divineToChaos: divineToChaos, tradeBase: tradeBase}
}

// Map converts one raw node.
func (m *Mapper) Map(node model.RawListingNode, b Batch) model.Listing {
	item := mapField(node, "item")
	lst := mapField(node, "listing")
	price := mapField(lst, "price")
	account := mapField(lst, "account")

	id := stringField(node, "id")
	typeLine := stringField(item, "typeLine")
	amount := decimalField(price, "amount")
	currency := strings.ToLower(stringField(price, "currency"))

	out := model.Listing{
		ID:              id,
		Name:            firstNonEmpty(stringField(item, "name"), typeLine),
		BaseType:        firstNonEmpty(stringField(item, "baseType"), typeLine),
		PriceAmount:     amount,
		PriceCurrency:   currency,
		ChaosEquivalent: m.chaosEquivalent(amount, currency),
		Seller:          firstNonEmpty(stringField(account, "lastCharacterName"), stringField(account, "name")),
		TradeURL:        m.tradeURL(b, id),
	}
	if amount.Valid && currency != "" {
		out.Price = amount.Decimal.String() + " " + currency
	}
	if ts, err := time.Parse(time.RFC3339, stringField(lst, "indexed")); err == nil {
		ts = ts.UTC()
		out.ListedAt = &ts
	}
	return out
}

// MapAll maps nodes in order. Null entries in the fetch result (listings
// removed between search and fetch) are skipped.
func (m *Mapper) MapAll(nodes []model.RawListingNode, b Batch) []model.Listing {
	out := make([]model.Listing, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		out = append(out, m.Map(n, b))
	}
	return out
}

func (m *Mapper) chaosEquivalent(amount decimal.NullDecimal, currency string) decimal.NullDecimal {
	if !amount.Valid || !amount.Decimal.IsPositive() {
		return decimal.NullDecimal{}
	}
	switch currency {
	case CurrencyChaos:
		return amount
	case CurrencyDivine:
		return decimal.NewNullDecimal(amount.Decimal.Mul(m.divineToChaos))
	default:
		return decimal.NullDecimal{}
	}
}

// tradeURL reuses the query id for id-based batches and embeds the
// listing's own id for name-based ones.
func (m *Mapper) tradeURL(b Batch, listingID string) string {
	target := b.QueryID
	if b.Mode == model.ModeByName {
		target = listingID
	}
	if target == "" || b.Realm == "" || b.League == "" {
		return ""
	}
	return reference.TradeURL(m.tradeBase, b.Realm, b.League, target)
}
