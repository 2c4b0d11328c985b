package airquality

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// Request outcomes reported to the Recorder.
const (
	OutcomeCacheHit = "cache_hit"
	OutcomeShared   = "shared"
	OutcomeComputed = "computed"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
)

// Cache stores serialized CityResponse values with a time-to-live.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Recorder receives service-level observations.
type Recorder interface {
	AggregateRequest(outcome string)
	Computation(d time.Duration, err error)
	InFlightChanged(delta int)
}

type nopRecorder struct{}

func (nopRecorder) AggregateRequest(string)          {}
func (nopRecorder) Computation(time.Duration, error) {}
func (nopRecorder) InFlightChanged(int)              {}

// ServiceConfig holds the optional collaborators of a Service.
type ServiceConfig struct {
	// ComputeTimeout bounds a single shared computation (0 = no bound).
	ComputeTimeout time.Duration
	Recorder       Recorder
	Logger         Logger
	Now            func() time.Time
}

// Service serves city aggregates from cache, deduplicates identical
// concurrent requests and computes misses through the Combiner.
type Service struct {
	combiner *Combiner
	cache    Cache
	inflight *InFlight

	computeTimeout time.Duration
	recorder       Recorder
	logger         Logger
	now            func() time.Time
}

// NewService creates a new Service. cache and inflight are owned by the
// caller and may be shared with other components (e.g. a pruning scheduler).
func NewService(cache Cache, inflight *InFlight, combiner *Combiner, cfg ServiceConfig) *Service {
	s := &Service{
		combiner:       combiner,
		cache:          cache,
		inflight:       inflight,
		computeTimeout: cfg.ComputeTimeout,
		recorder:       cfg.Recorder,
		logger:         cfg.Logger,
		now:            cfg.Now,
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.inflight == nil {
		s.inflight = NewInFlight()
	}
	return s
}

// Aggregate returns the PM2.5 aggregate for the request. Errors are either a
// *ValidationError or an *UpstreamError, except for the caller's own context
// error when it stops waiting.
func (s *Service) Aggregate(ctx context.Context, req AggregateRequest) (CityResponse, error) {
	req = req.normalized()
	if err := Validate(req); err != nil {
		s.recorder.AggregateRequest(OutcomeInvalid)
		return CityResponse{}, err
	}

	now := s.now().UTC()
	key := CacheKey(req.City, req.Country, now, req.LocationIDs)

	if resp, ok := s.lookup(ctx, key); ok {
		s.recorder.AggregateRequest(OutcomeCacheHit)
		return resp, nil
	}

	resp, leader, err := s.inflight.Do(ctx, key, func() (CityResponse, error) {
		// A computation for this key may have finished between our lookup and
		// registering this one.
		if cached, ok := s.lookup(context.WithoutCancel(ctx), key); ok {
			return cached, nil
		}
		return s.compute(ctx, key, req, now)
	})
	if err != nil {
		if ctx.Err() != nil && err == ctx.Err() {
			return CityResponse{}, err
		}
		s.recorder.AggregateRequest(OutcomeFailed)
		return CityResponse{}, Classify(err)
	}

	switch {
	case resp.Cached:
		s.recorder.AggregateRequest(OutcomeCacheHit)
	case leader:
		s.recorder.AggregateRequest(OutcomeComputed)
	default:
		s.recorder.AggregateRequest(OutcomeShared)
	}
	return resp, nil
}

// compute runs detached from the caller's cancellation: other callers may be
// waiting on the same result.
func (s *Service) compute(parent context.Context, key string, req AggregateRequest, now time.Time) (CityResponse, error) {
	ctx := context.WithoutCancel(parent)
	if s.computeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.computeTimeout)
		defer cancel()
	}

	s.recorder.InFlightChanged(1)
	defer s.recorder.InFlightChanged(-1)

	start := time.Now()
	refYear := now.Year() - 1
	result, err := s.combiner.Run(ctx, req.LocationIDs, refYear, now)
	s.recorder.Computation(time.Since(start), err)
	if err != nil {
		s.logger.Printf("ERROR: aggregation for %s/%s (%d locations) failed: %v", req.City, req.Country, len(req.LocationIDs), err)
		return CityResponse{}, Classify(err)
	}

	resp := newCityResponse(req, result, s.now().UTC(), uuid.NewString())
	s.store(ctx, key, resp)

	s.logger.Printf("INFO: aggregated %s/%s: current=%d daily=%d annual=%d of %d locations",
		req.City, req.Country, result.Current.Count, result.Daily.Count, result.Annual.Count, result.TotalLocations)
	return resp, nil
}

func (s *Service) lookup(ctx context.Context, key string) (CityResponse, bool) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Printf("ERROR: cache lookup failed for %s: %v", key, err)
		return CityResponse{}, false
	}
	if !ok {
		return CityResponse{}, false
	}

	var resp CityResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		s.logger.Printf("ERROR: cache entry for %s is unreadable: %v", key, err)
		return CityResponse{}, false
	}
	resp.Cached = true
	return resp, true
}

// store is best-effort; a cache failure never fails the request.
func (s *Service) store(ctx context.Context, key string, resp CityResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Printf("ERROR: cache encode failed for %s: %v", key, err)
		return
	}
	if err := s.cache.Set(ctx, key, data, CacheTTL); err != nil {
		s.logger.Printf("ERROR: cache store failed for %s: %v", key, err)
	}
}
