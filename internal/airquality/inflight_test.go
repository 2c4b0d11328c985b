package airquality

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInFlightEntryRemovedAfterSuccessAndFailure(t *testing.T) {
	r := NewInFlight()

	_, leader, err := r.Do(context.Background(), "ok", func() (CityResponse, error) {
		assert.True(t, r.Pending("ok"))
		return CityResponse{City: "Delhi"}, nil
	})
	require.NoError(t, err)
	assert.True(t, leader)
	assert.False(t, r.Pending("ok"))

	boom := errors.New("boom")
	_, _, err = r.Do(context.Background(), "fail", func() (CityResponse, error) {
		return CityResponse{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, r.Len())
}

func TestInFlightSharesOneRun(t *testing.T) {
	r := NewInFlight()
	release := make(chan struct{})
	started := make(chan struct{})

	var (
		runs int
		mu   sync.Mutex
		once sync.Once
	)
	fn := func() (CityResponse, error) {
		mu.Lock()
		runs++
		mu.Unlock()
		once.Do(func() { close(started) })
		<-release
		return CityResponse{City: "Delhi"}, nil
	}

	var wg sync.WaitGroup
	leaders := make(chan bool, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, leader, err := r.Do(context.Background(), "k", fn)
		assert.NoError(t, err)
		leaders <- leader
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, leader, err := r.Do(context.Background(), "k", fn)
		assert.NoError(t, err)
		assert.Equal(t, "Delhi", resp.City)
		leaders <- leader
	}()

	// Give the second caller time to join the pending computation.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(leaders)

	n := 0
	for l := range leaders {
		if l {
			n++
		}
	}
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, n)
}

func TestInFlightWaiterCancellation(t *testing.T) {
	r := NewInFlight()
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _, _ = r.Do(context.Background(), "k", func() (CityResponse, error) {
			<-release
			return CityResponse{}, nil
		})
	}()
	require.Eventually(t, func() bool { return r.Pending("k") }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, leader, err := r.Do(ctx, "k", func() (CityResponse, error) { return CityResponse{}, nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, leader)
	assert.True(t, r.Pending("k"))

	close(release)
	<-done
	assert.False(t, r.Pending("k"))
}
