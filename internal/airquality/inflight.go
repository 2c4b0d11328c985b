package airquality

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// InFlight deduplicates concurrent computations that share a cache key. It is
// created once at service start and owned by the Service. An entry exists from
// the moment a computation for its key starts until that computation returns,
// whatever the outcome.
type InFlight struct {
	group singleflight.Group

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewInFlight creates an empty registry.
func NewInFlight() *InFlight {
	return &InFlight{pending: make(map[string]struct{})}
}

// Do runs fn for key unless a computation for key is already pending, in which
// case the caller waits for that computation's result. leader is true for the
// caller whose fn ran. A caller whose ctx ends stops waiting; the computation
// itself keeps running for the other waiters.
func (r *InFlight) Do(ctx context.Context, key string, fn func() (CityResponse, error)) (resp CityResponse, leader bool, err error) {
	ran := false
	ch := r.group.DoChan(key, func() (any, error) {
		ran = true
		r.track(key)
		defer r.untrack(key)
		return fn()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return CityResponse{}, ran, res.Err
		}
		return res.Val.(CityResponse), ran, nil
	case <-ctx.Done():
		return CityResponse{}, false, ctx.Err()
	}
}

// Pending reports whether a computation for key is currently running.
func (r *InFlight) Pending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}

// Len returns the number of running computations.
func (r *InFlight) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *InFlight) track(key string) {
	r.mu.Lock()
	r.pending[key] = struct{}{}
	r.mu.Unlock()
}

func (r *InFlight) untrack(key string) {
	r.mu.Lock()
	delete(r.pending, key)
	r.mu.Unlock()
}
