package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/air-quality-aggregation/internal/airquality"
	"github.com/i474232898/air-quality-aggregation/internal/directory"
)

type fakeAggregator struct {
	mu    sync.Mutex
	seen  []string
	fail  map[string]bool
	calls int32
}

func (f *fakeAggregator) Aggregate(_ context.Context, req airquality.AggregateRequest) (airquality.CityResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, req.City)
	if f.fail[req.City] {
		return airquality.CityResponse{}, errors.New("upstream down")
	}
	return airquality.CityResponse{City: req.City, Country: req.Country}, nil
}

type countingPruner struct{ calls int32 }

func (p *countingPruner) Prune() int {
	atomic.AddInt32(&p.calls, 1)
	return 2
}

func testDirectory() *directory.Directory {
	return directory.New(
		directory.City{Name: "Delhi", Country: "IN", Locations: []directory.Location{{ID: "1"}}},
		directory.City{Name: "Berlin", Country: "DE", Locations: []directory.Location{{ID: "2"}}},
		directory.City{Name: "Nowhere", Country: "XX"},
	)
}

func TestRunOnceWarmsCitiesAndPrunes(t *testing.T) {
	agg := &fakeAggregator{fail: map[string]bool{"Berlin": true}}
	pruner := &countingPruner{}
	s := New(testDirectory(), time.Minute, agg, pruner)

	warmed := s.RunOnce(context.Background())

	assert.Equal(t, 1, warmed)
	assert.Equal(t, []string{"Berlin", "Delhi"}, agg.seen)
	assert.Equal(t, int32(1), atomic.LoadInt32(&pruner.calls))
}

func TestRunOnceStopsOnCancelledContext(t *testing.T) {
	agg := &fakeAggregator{}
	s := New(testDirectory(), time.Minute, agg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Zero(t, s.RunOnce(ctx))
	assert.Zero(t, atomic.LoadInt32(&agg.calls))
}

func TestStartDisabled(t *testing.T) {
	agg := &fakeAggregator{}
	s := New(testDirectory(), 0, agg, nil)
	require.NoError(t, s.Start())
	s.Stop()
	assert.Zero(t, atomic.LoadInt32(&agg.calls))
}

func TestStartRunsJob(t *testing.T) {
	agg := &fakeAggregator{}
	s := New(testDirectory(), time.Hour, agg, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&agg.calls) >= 2
	}, 2*time.Second, 10*time.Millisecond)
}
