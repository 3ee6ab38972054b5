// Package scoring ranks a batch of listings by how far each undercuts a
// naive market estimate: the median chaos-equivalent price of the batch.
//
// The estimate is computed per call and never cached, so scores are only
// comparable within one batch. Prices stay in shopspring/decimal; margins
// and scores are dimensionless and use float64.
package scoring

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/exiletrade/deal-engine/internal/model"
)

// Weights tunes the composite score.
type Weights struct {
	Margin   float64 // per margin percentage point
	Spread   float64 // per chaos below the estimate
	Velocity float64 // recency bonus for listings at most 5 minutes old
}

// DefaultWeights are W_MARGIN=100, W_SPREAD=0.5, W_VEL=20.
var DefaultWeights = Weights{Margin: 100, Spread: 0.5, Velocity: 20}

var hundred = decimal.NewFromInt(100)

// Scorer ranks listings. It is stateless apart from its weights and clock.
type Scorer struct {
	weights Weights
	now     func() time.Time
}

// NewScorer creates a scorer using the wall clock.
func NewScorer(w Weights) *Scorer {
	return &Scorer{weights: w, now: time.Now}
}

// WithClock returns a copy of the scorer that measures listing age against
// now. Used by tests to pin recency.
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	c := *s
	c.now = now
	return &c
}

// Score ranks the priced listings of a batch, best deal first. Listings
// without a positive chaos-equivalent price are dropped. The result is
// never nil.
func (s *Scorer) Score(listings []model.Listing) []model.ScoredListing {
	priced := make([]model.Listing, 0, len(listings))
	prices := make([]decimal.Decimal, 0, len(listings))
	for _, l := range listings {
		if l.ChaosEquivalent.Valid && l.ChaosEquivalent.Decimal.IsPositive() {
			priced = append(priced, l)
			prices = append(prices, l.ChaosEquivalent.Decimal)
		}
	}
	if len(priced) == 0 {
		return []model.ScoredListing{}
	}

	estimate := Median(prices)
	now := s.now()

	out := make([]model.ScoredListing, len(priced))
	for i, l := range priced {
		price := l.ChaosEquivalent.Decimal
		spread := decimal.Max(decimal.Zero, estimate.Sub(price))

		margin := 0.0
		if estimate.IsPositive() {
			margin = spread.Div(estimate).Mul(hundred).InexactFloat64()
		}

		score := margin*s.weights.Margin +
			spread.InexactFloat64()*s.weights.Spread +
			s.recencyBonus(l.ListedAt, now)

		out[i] = model.ScoredListing{
			Listing:        l,
			MarketEstimate: estimate,
			MarginPct:      margin,
			Score:          score,
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// recencyBonus is a step function of listing age in minutes. Listings with
// no known listing time earn nothing.
func (s *Scorer) recencyBonus(listedAt *time.Time, now time.Time) float64 {
	if listedAt == nil {
		return 0
	}
	age := now.Sub(*listedAt).Minutes()
	switch {
	case age <= 5:
		return s.weights.Velocity
	case age <= 15:
		return s.weights.Velocity - 10
	case age <= 60:
		return s.weights.Velocity - 15
	default:
		return 0
	}
}

// Median returns the median of prices; the mean of the two middle values
// for an even count, zero for none. The input is not modified.
func Median(prices []decimal.Decimal) decimal.Decimal {
	n := len(prices)
	if n == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, n)
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
}

// Min returns the smallest price, zero for none.
func Min(prices []decimal.Decimal) decimal.Decimal {
	if len(prices) == 0 {
		return decimal.Zero
	}
	return decimal.Min(prices[0], prices[1:]...)
}
