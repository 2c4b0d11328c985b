package openaq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
}

var (
	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// maxBodyBytes caps how much of an upstream body we buffer.
const maxBodyBytes = 16 << 20

// response is a fully read upstream response.
type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// doRequestWithResilience executes the HTTP request with retries, exponential backoff,
// and a circuit breaker. Transport failures and 5xx responses are retried; 429 and
// other 4xx responses are returned immediately. A non-nil response is returned
// alongside errRateLimited/errServerError so callers can classify it.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
) (*response, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	var attempt int

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}

		// Ensure the request obeys context cancellation.
		req = req.WithContext(ctx)

		resp, err := executeOnce(cfg.Client, cb, req)

		switch {
		case err == nil:
			return resp, nil
		case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
			// If circuit is open, propagate immediately.
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		case errors.Is(err, errRateLimited):
			return resp, err
		}

		if attempt >= cfg.Backoff.MaxRetries || ctx.Err() != nil {
			return resp, err
		}

		// Backoff with exponential delay.
		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > cfg.Backoff.MaxInterval && cfg.Backoff.MaxInterval > 0 {
			delay = cfg.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			// continue to next attempt
		}

		attempt++
	}
}

// executeOnce runs a single request through the circuit breaker. Only 429 and
// 5xx responses count as breaker failures.
func executeOnce(client *http.Client, cb *gobreaker.CircuitBreaker, req *http.Request) (*response, error) {
	var resp *response
	_, err := cb.Execute(func() (interface{}, error) {
		httpResp, execErr := client.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		defer httpResp.Body.Close()

		body, readErr := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
		if readErr != nil {
			return nil, readErr
		}
		resp = &response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}

		// Handle rate limiting and server errors explicitly.
		if httpResp.StatusCode == http.StatusTooManyRequests {
			return nil, errRateLimited
		}
		if httpResp.StatusCode >= 500 {
			return nil, errServerError
		}
		return nil, nil
	})
	return resp, err
}
