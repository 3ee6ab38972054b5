package scoring

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exiletrade/deal-engine/internal/model"
)

var now = time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func priced(id string, chaos float64, age time.Duration) model.Listing {
	ts := now.Add(-age)
	return model.Listing{
		ID:              id,
		ChaosEquivalent: decimal.NewNullDecimal(d(chaos)),
		ListedAt:        &ts,
	}
}

func newTestScorer() *Scorer {
	return NewScorer(DefaultWeights).WithClock(func() time.Time { return now })
}

func TestScore_MedianAndMargin(t *testing.T) {
	out := newTestScorer().Score([]model.Listing{
		priced("a", 30, 2*time.Hour),
		priced("b", 10, 2*time.Hour),
		priced("c", 20, 2*time.Hour),
	})
	require.Len(t, out, 3)

	for _, s := range out {
		assert.True(t, s.MarketEstimate.Equal(d(20)), "estimate %s", s.MarketEstimate)
	}
	assert.Equal(t, "b", out[0].Listing.ID)
	assert.InDelta(t, 50.0, out[0].MarginPct, 1e-9)
	// 50 * 100 + 10 * 0.5, no recency bonus at two hours.
	assert.InDelta(t, 5005.0, out[0].Score, 1e-9)

	for _, s := range out[1:] {
		assert.Zero(t, s.MarginPct, s.Listing.ID)
		assert.Zero(t, s.Score, s.Listing.ID)
	}
}

func TestScore_AllNonPositiveIsEmpty(t *testing.T) {
	out := newTestScorer().Score([]model.Listing{
		priced("a", 0, 0),
		priced("b", -5, 0),
		{ID: "c"}, // no price at all
	})
	require.NotNil(t, out)
	assert.Empty(t, out)

	assert.Empty(t, newTestScorer().Score(nil))
}

func TestScore_ExcludesUnpricedBeforeMedian(t *testing.T) {
	out := newTestScorer().Score([]model.Listing{
		priced("a", 10, time.Hour*3),
		{ID: "unpriced"},
		priced("b", 30, time.Hour*3),
		priced("zero", 0, time.Hour*3),
	})
	require.Len(t, out, 2)
	assert.True(t, out[0].MarketEstimate.Equal(d(20)))
	assert.Equal(t, "a", out[0].Listing.ID)
}

func TestScore_IdenticalPricesRankByRecency(t *testing.T) {
	out := newTestScorer().Score([]model.Listing{
		priced("old", 50, 3*time.Hour),
		priced("hour", 50, 45*time.Minute),
		priced("quarter", 50, 10*time.Minute),
		priced("fresh", 50, 1*time.Minute),
	})
	require.Len(t, out, 4)

	ids := make([]string, len(out))
	for i, s := range out {
		assert.Zero(t, s.MarginPct)
		ids[i] = s.Listing.ID
	}
	assert.Equal(t, []string{"fresh", "quarter", "hour", "old"}, ids)
	assert.Equal(t, 20.0, out[0].Score)
	assert.Equal(t, 10.0, out[1].Score)
	assert.Equal(t, 5.0, out[2].Score)
	assert.Equal(t, 0.0, out[3].Score)
}

func TestScore_StableTies(t *testing.T) {
	out := newTestScorer().Score([]model.Listing{
		priced("first", 10, 2*time.Hour),
		priced("second", 10, 2*time.Hour),
		priced("third", 10, 2*time.Hour),
	})
	require.Len(t, out, 3)
	assert.Equal(t, "first", out[0].Listing.ID)
	assert.Equal(t, "second", out[1].Listing.ID)
	assert.Equal(t, "third", out[2].Listing.ID)
}

func TestScore_UnknownListingTimeGetsNoBonus(t *testing.T) {
	l := priced("a", 10, 0)
	l.ListedAt = nil
	out := newTestScorer().Score([]model.Listing{l})
	require.Len(t, out, 1)
	assert.Zero(t, out[0].Score)
}

func TestScore_RecencyBoundaries(t *testing.T) {
	s := newTestScorer()
	cases := []struct {
		age  time.Duration
		want float64
	}{
		{0, 20},
		{5 * time.Minute, 20},
		{5*time.Minute + time.Second, 10},
		{15 * time.Minute, 10},
		{60 * time.Minute, 5},
		{61 * time.Minute, 0},
	}
	for _, c := range cases {
		ts := now.Add(-c.age)
		assert.Equal(t, c.want, s.recencyBonus(&ts, now), "age %s", c.age)
	}
}

func TestMedian(t *testing.T) {
	assert.True(t, Median(nil).IsZero())
	assert.True(t, Median([]decimal.Decimal{d(7)}).Equal(d(7)))
	assert.True(t, Median([]decimal.Decimal{d(30), d(10), d(20)}).Equal(d(20)))
	assert.True(t, Median([]decimal.Decimal{d(40), d(10), d(30), d(20)}).Equal(d(25)))

	in := []decimal.Decimal{d(3), d(1), d(2)}
	Median(in)
	assert.True(t, in[0].Equal(d(3)), "input must not be reordered")
}

func TestMin(t *testing.T) {
	assert.True(t, Min(nil).IsZero())
	assert.True(t, Min([]decimal.Decimal{d(4), d(2), d(9)}).Equal(d(2)))
}
