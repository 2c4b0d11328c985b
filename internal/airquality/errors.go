package airquality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v5"
)

// ValidationError reports bad, missing or oversized input. It never involves
// an upstream call.
type ValidationError struct {
	Status  int
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// UpstreamError is a classified upstream failure. RetryAfter holds the
// upstream back-off hint in seconds when one was supplied.
type UpstreamError struct {
	Status     int
	Message    string
	RetryAfter null.Int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
}

// RateLimited reports whether the upstream asked us to slow down.
func (e *UpstreamError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

// fatalForBatch reports whether every remaining upstream call would fail the
// same way, so continuing the computation is pointless.
func (e *UpstreamError) fatalForBatch() bool {
	switch e.Status {
	case http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

const maxPlainMessage = 256

// NewUpstreamError classifies a non-success upstream response.
func NewUpstreamError(status int, body []byte, header http.Header, now time.Time) *UpstreamError {
	e := &UpstreamError{
		Status:  status,
		Message: upstreamMessage(status, body),
	}
	if status < 400 || status > 599 {
		e.Status = http.StatusInternalServerError
	}
	if header != nil {
		e.RetryAfter = ParseRetryAfter(header.Get("Retry-After"), now)
	}
	return e
}

func upstreamMessage(status int, body []byte) string {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, field := range []string{"detail", "message", "error"} {
			raw, ok := payload[field]
			if !ok {
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	} else if text := strings.TrimSpace(string(body)); text != "" && len(text) <= maxPlainMessage && !strings.HasPrefix(text, "<") {
		return text
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "upstream request failed"
}

// ParseRetryAfter reads a Retry-After header value given either as delta
// seconds or as an HTTP date.
func ParseRetryAfter(v string, now time.Time) null.Int {
	v = strings.TrimSpace(v)
	if v == "" {
		return null.Int{}
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs < 0 {
			secs = 0
		}
		return null.IntFrom(secs)
	}
	if at, err := http.ParseTime(v); err == nil {
		secs := int64(at.Sub(now).Round(time.Second) / time.Second)
		if secs < 0 {
			secs = 0
		}
		return null.IntFrom(secs)
	}
	return null.Int{}
}

// Classify converts err into either a *ValidationError or an *UpstreamError.
// Failures that carry no status (transport errors, timeouts) default to 500.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue
	}
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "upstream request timed out"
	}
	return &UpstreamError{Status: http.StatusInternalServerError, Message: msg}
}

// StatusCode returns the HTTP-style status carried by a classified error.
func StatusCode(err error) int {
	switch e := Classify(err).(type) {
	case *ValidationError:
		return e.Status
	case *UpstreamError:
		return e.Status
	}
	return http.StatusInternalServerError
}
