package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/air-quality-aggregation/internal/airquality"
	"github.com/i474232898/air-quality-aggregation/internal/airquality/openaq"
)

var (
	_ airquality.Recorder = (*Metrics)(nil)
	_ openaq.Recorder     = (*Metrics)(nil)
)

func TestAggregateRequestCountsByOutcome(t *testing.T) {
	m := New()
	m.AggregateRequest(airquality.OutcomeComputed)
	m.AggregateRequest(airquality.OutcomeCacheHit)
	m.AggregateRequest(airquality.OutcomeCacheHit)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.aggregateRequests.WithLabelValues("computed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.aggregateRequests.WithLabelValues("cache_hit")))
}

func TestInFlightGauge(t *testing.T) {
	m := New()
	m.InFlightChanged(1)
	m.InFlightChanged(1)
	m.InFlightChanged(-1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inflight))
}

func TestComputationAndUpstream(t *testing.T) {
	m := New()
	m.Computation(2*time.Second, nil)
	m.Computation(time.Second, errors.New("boom"))
	m.UpstreamRequest("200")
	m.UpstreamRequest("429")

	assert.Equal(t, 2, testutil.CollectAndCount(m.computeDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamRequests.WithLabelValues("429")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.UpstreamRequest("200")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `airquality_upstream_requests_total{status="200"} 1`)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}
