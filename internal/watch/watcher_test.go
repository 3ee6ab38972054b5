package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exiletrade/deal-engine/internal/deals"
	"github.com/exiletrade/deal-engine/internal/model"
	"github.com/exiletrade/deal-engine/internal/reference"
)

type stubRunner struct {
	mu    sync.Mutex
	calls int
	res   *deals.Result
	err   error
	panic bool
}

func (r *stubRunner) Run(_ context.Context, t deals.Target, limit int, rank bool) (*deals.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.panic {
		panic("bad batch")
	}
	if !rank {
		return nil, errors.New("watcher must rank")
	}
	return r.res, r.err
}

func (r *stubRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type stubAlerter struct {
	mu     sync.Mutex
	sent   []string
	failOn string
}

func (a *stubAlerter) SendDeal(_ context.Context, key string, d model.ScoredListing) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if d.Listing.ID == a.failOn {
		return errors.New("telegram down")
	}
	a.sent = append(a.sent, key+"/"+d.Listing.ID)
	return nil
}

func scored(id string, margin float64) model.ScoredListing {
	return model.ScoredListing{
		Listing:        model.Listing{ID: id, Name: "Iron Circlet"},
		MarketEstimate: decimal.NewFromInt(100),
		MarginPct:      margin,
		Score:          margin * 100,
	}
}

var target = deals.Target{
	Mode: model.ModeByID,
	Ref:  reference.Reference{Realm: "poe2", League: "Standard", QueryID: "abc123"},
}

func result(ranked ...model.ScoredListing) *deals.Result {
	listings := make([]model.Listing, len(ranked))
	for i, d := range ranked {
		listings[i] = d.Listing
	}
	return &deals.Result{Mode: model.ModeByID, QueryID: "abc123", Listings: listings, Ranked: ranked}
}

func TestScan_AlertsAboveMargin(t *testing.T) {
	runner := &stubRunner{res: result(scored("a", 60), scored("b", 30), scored("c", 10))}
	alerter := &stubAlerter{}
	w := New(runner, alerter, target, 10, 30, time.Minute)

	found, sent, err := w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, found)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{"abc123/a", "abc123/b"}, alerter.sent)
}

func TestScan_DeduplicatesAcrossScans(t *testing.T) {
	runner := &stubRunner{res: result(scored("a", 60))}
	alerter := &stubAlerter{}
	w := New(runner, alerter, target, 10, 30, time.Minute)

	_, sent, err := w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	_, sent, err = w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Len(t, alerter.sent, 1)
}

func TestScan_FailedAlertRetriedNextScan(t *testing.T) {
	runner := &stubRunner{res: result(scored("a", 60))}
	alerter := &stubAlerter{failOn: "a"}
	w := New(runner, alerter, target, 10, 30, time.Minute)

	_, sent, err := w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.False(t, w.seen.Contains("a"))

	alerter.failOn = ""
	_, sent, err = w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestScan_RunError(t *testing.T) {
	runner := &stubRunner{err: errors.New("http_error:429")}
	w := New(runner, &stubAlerter{}, target, 10, 30, time.Minute)

	_, _, err := w.Scan(context.Background())
	assert.Error(t, err)
}

func TestSafeScan_RecoversPanic(t *testing.T) {
	runner := &stubRunner{panic: true}
	w := New(runner, &stubAlerter{}, target, 10, 30, time.Minute)

	assert.NotPanics(t, func() { w.safeScan(context.Background()) })
	assert.Equal(t, 1, runner.Calls())
}

func TestStart_ScansImmediatelyAndStops(t *testing.T) {
	runner := &stubRunner{res: result()}
	w := New(runner, &stubAlerter{}, target, 10, 30, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runner.Calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestSeenSet_ResetsWhenFull(t *testing.T) {
	s := newSeenSet()
	for i := 0; i < MaxSeen; i++ {
		s.Add(fmt.Sprintf("id%d", i))
	}
	assert.Equal(t, MaxSeen, s.Size())
	assert.False(t, s.Add("id0"))

	assert.True(t, s.Add("overflow"))
	assert.Equal(t, 1, s.Size())
}
