// Package openaq is the transport to the OpenAQ v3 API.
package openaq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/air-quality-aggregation/internal/airquality"
)

// DefaultBaseURL is the public OpenAQ API root.
const DefaultBaseURL = "https://api.openaq.org"

// Recorder receives one observation per upstream exchange. status is the
// HTTP status code, or "error" / "circuit_open" when no response was read.
type Recorder interface {
	UpstreamRequest(status string)
}

// Client implements airquality.Upstream for OpenAQ and can forward raw
// requests for the passthrough proxy.
type Client struct {
	name     string
	apiKey   string
	baseURL  string
	httpCfg  HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
	recorder Recorder
	now      func() time.Time
}

// NewClient creates an OpenAQ client. An empty baseURL selects DefaultBaseURL.
func NewClient(client *http.Client, baseURL, apiKey string, recorder Recorder) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openaq",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
	})

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		name:    "openaq",
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		circuit:  cb,
		recorder: recorder,
		now:      time.Now,
	}
}

// FetchJSON issues a GET for path+query and returns the JSON body. Non-2xx
// answers become *airquality.UpstreamError.
func (c *Client) FetchJSON(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	buildRequest := func() (*http.Request, error) {
		u := c.baseURL + path
		if len(query) > 0 {
			u = fmt.Sprintf("%s?%s", u, query.Encode())
		}
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		c.authorize(req)
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, buildRequest)
	c.record(resp, err)
	if err != nil && resp == nil {
		if errors.Is(err, errCircuitOpen) {
			return nil, &airquality.UpstreamError{Status: http.StatusServiceUnavailable, Message: "upstream temporarily unavailable"}
		}
		return nil, fmt.Errorf("%s %s: %w", c.name, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, airquality.NewUpstreamError(resp.StatusCode, resp.Body, resp.Header, c.now())
	}
	if !json.Valid(resp.Body) {
		return nil, fmt.Errorf("%s %s: response is not valid JSON", c.name, path)
	}
	return json.RawMessage(resp.Body), nil
}

// ForwardResponse is a raw upstream answer for the passthrough proxy.
type ForwardResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forward relays a GET or HEAD request to the upstream with the API key
// attached. The upstream status is passed through; no retries are made.
func (c *Client) Forward(ctx context.Context, method, path, rawQuery, accept string) (*ForwardResponse, error) {
	if accept == "" {
		accept = "application/json"
	}
	u := c.baseURL + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	c.authorize(req)

	resp, err := executeOnce(c.httpCfg.Client, c.circuit, req)
	c.record(resp, err)
	if resp == nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &airquality.UpstreamError{Status: http.StatusServiceUnavailable, Message: "upstream temporarily unavailable"}
		}
		return nil, err
	}
	return &ForwardResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

func (c *Client) record(resp *response, err error) {
	if c.recorder == nil {
		return
	}
	switch {
	case resp != nil:
		c.recorder.UpstreamRequest(strconv.Itoa(resp.StatusCode))
	case errors.Is(err, errCircuitOpen), errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.recorder.UpstreamRequest("circuit_open")
	default:
		c.recorder.UpstreamRequest("error")
	}
}

var _ airquality.Upstream = (*Client)(nil)
