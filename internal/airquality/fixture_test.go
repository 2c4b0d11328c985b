package airquality

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// locFixture describes what the fake upstream knows about one location. The
// PM2.5 sensor of a location shares the location's numeric id.
type locFixture struct {
	latest    *float64
	latestAt  string
	daily     []*float64
	annual    []periodFixture
	sensorErr error
	dailyErr  error
	annualErr error
}

type periodFixture struct {
	from  string
	to    string
	value *float64
	avg   *float64
}

func ptr(v float64) *float64 { return &v }

type fakeUpstream struct {
	locations map[string]locFixture
	delay     time.Duration

	mu      sync.Mutex
	calls   []string
	queries map[string]url.Values
	active  int
	peak    int
}

func newFakeUpstream(locations map[string]locFixture) *fakeUpstream {
	return &fakeUpstream{locations: locations, queries: make(map[string]url.Values)}
}

func (u *fakeUpstream) FetchJSON(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	u.mu.Lock()
	u.calls = append(u.calls, path)
	u.queries[path] = query
	u.active++
	if u.active > u.peak {
		u.peak = u.active
	}
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.active--
		u.mu.Unlock()
	}()

	if u.delay > 0 {
		select {
		case <-time.After(u.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return u.handle(path)
}

func (u *fakeUpstream) handle(path string) (json.RawMessage, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 4 || parts[0] != "v3" {
		return nil, &UpstreamError{Status: http.StatusNotFound, Message: "Not Found"}
	}
	loc, ok := u.locations[parts[2]]
	if !ok {
		return nil, &UpstreamError{Status: http.StatusNotFound, Message: "Not Found"}
	}

	switch parts[1] + "/" + parts[3] {
	case "locations/sensors":
		if loc.sensorErr != nil {
			return nil, loc.sensorErr
		}
		return sensorsJSON(parts[2], loc), nil
	case "sensors/measurements":
		if loc.dailyErr != nil {
			return nil, loc.dailyErr
		}
		return measurementsJSON(loc.daily), nil
	case "sensors/years":
		if loc.annualErr != nil {
			return nil, loc.annualErr
		}
		return yearsJSON(loc.annual), nil
	}
	return nil, &UpstreamError{Status: http.StatusNotFound, Message: "Not Found"}
}

func (u *fakeUpstream) callCount(prefix, suffix string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, c := range u.calls {
		if strings.HasPrefix(c, prefix) && strings.HasSuffix(c, suffix) {
			n++
		}
	}
	return n
}

func (u *fakeUpstream) peakConcurrency() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.peak
}

func (u *fakeUpstream) callLog() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.calls...)
}

func jsonNumber(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%g", *v)
}

func sensorsJSON(id string, loc locFixture) json.RawMessage {
	at := loc.latestAt
	if at == "" {
		at = "2026-10-19T10:00:00Z"
	}
	return json.RawMessage(fmt.Sprintf(`{"results":[
		{"id":9%s,"parameter":{"name":"pm10","displayName":"PM10"},"latest":{"datetime":{"utc":"2026-10-19T11:00:00Z"},"value":99}},
		{"id":%s,"parameter":{"name":"pm25","displayName":"PM2.5"},"latest":{"datetime":{"utc":%q},"value":%s}}
	]}`, id, id, at, jsonNumber(loc.latest)))
}

func measurementsJSON(values []*float64) json.RawMessage {
	items := make([]string, 0, len(values))
	for _, v := range values {
		items = append(items, fmt.Sprintf(`{"value":%s}`, jsonNumber(v)))
	}
	return json.RawMessage(`{"results":[` + strings.Join(items, ",") + `]}`)
}

func yearsJSON(periods []periodFixture) json.RawMessage {
	items := make([]string, 0, len(periods))
	for _, p := range periods {
		items = append(items, fmt.Sprintf(
			`{"value":%s,"period":{"datetimeFrom":{"utc":%q},"datetimeTo":{"utc":%q}},"summary":{"avg":%s}}`,
			jsonNumber(p.value), p.from, p.to, jsonNumber(p.avg)))
	}
	return json.RawMessage(`{"results":[` + strings.Join(items, ",") + `]}`)
}

// mapCache is a minimal Cache for service tests.
type mapCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	setErr  error
	sets    int
	lastTTL time.Duration
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.lastTTL = ttl
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = value
	return nil
}

func (c *mapCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
