package airquality

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v5"
)

const (
	// BatchSize is the number of locations processed as one sequential unit.
	BatchSize = 100
	// BatchConcurrency bounds outstanding location tasks inside a batch.
	BatchConcurrency = 3
	// MaxLocations is the hard cap on location identifiers per request.
	MaxLocations = 2000
	// CacheTTL is how long a computed city result is served from cache.
	CacheTTL = 300 * time.Second
	// BucketSize quantizes wall-clock time for cache keys.
	BucketSize = 5 * time.Minute
	// MeasurementLimit caps raw samples fetched for the 24h window.
	MeasurementLimit = 1000
)

// Window identifies one of the aggregation scopes.
type Window string

const (
	// WindowCurrent is the latest reading reported with the sensor.
	WindowCurrent Window = "current"
	// WindowLast24h is the mean of raw measurements over the past 24 hours.
	WindowLast24h Window = "last24h"
	// WindowLastYear is the pre-aggregated value of the previous calendar year.
	WindowLastYear Window = "lastYear"
)

// LocationID is an opaque monitoring-site identifier. It decodes from either a
// JSON string or a JSON number.
type LocationID string

func (id *LocationID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = LocationID(strings.TrimSpace(s))
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("location id must be a string or number: %w", err)
	}
	*id = LocationID(n.String())
	return nil
}

func (id LocationID) String() string { return string(id) }

// Sensor describes one parameter-specific instrument at a location.
type Sensor struct {
	ID          string
	Parameter   string // short parameter name, e.g. "pm25"
	DisplayName string // e.g. "PM2.5"
	Latest      null.Float
	LatestAt    string // raw upstream timestamp; may be empty or malformed
}

// PartialAggregate is a mean over Count contributing values. Mean is valid
// iff Count > 0.
type PartialAggregate struct {
	Mean  null.Float
	Count int
}

// Summarize builds a PartialAggregate from the valid entries of values.
func Summarize(values []null.Float) PartialAggregate {
	var (
		sum   float64
		count int
	)
	for _, v := range values {
		if !v.Valid {
			continue
		}
		sum += v.Float64
		count++
	}
	if count == 0 {
		return PartialAggregate{}
	}
	return PartialAggregate{Mean: null.FloatFrom(sum / float64(count)), Count: count}
}

// Merge combines two partial aggregates with count-weighted averaging.
func (p PartialAggregate) Merge(o PartialAggregate) PartialAggregate {
	if o.Count == 0 {
		return p
	}
	if p.Count == 0 {
		return o
	}
	total := p.Count + o.Count
	weighted := p.Mean.Float64*float64(p.Count) + o.Mean.Float64*float64(o.Count)
	return PartialAggregate{Mean: null.FloatFrom(weighted / float64(total)), Count: total}
}

// LocationReading is what a single location contributes to its batch.
type LocationReading struct {
	Current null.Float
	Daily   null.Float
	Annual  null.Float
	Updated null.Time
}

// CityResult is the statistically combined outcome across all batches.
type CityResult struct {
	Current        PartialAggregate
	Daily          PartialAggregate
	Annual         PartialAggregate
	TotalLocations int
	LastUpdated    null.Time
	ReferenceYear  int
}

// AggregateRequest is the inbound aggregation request.
type AggregateRequest struct {
	City        string       `json:"city" validate:"required"`
	Country     string       `json:"country" validate:"required"`
	LocationIDs []LocationID `json:"locationIds" validate:"required,min=1,max=2000,dive,required"`
}

func (r AggregateRequest) normalized() AggregateRequest {
	r.City = strings.TrimSpace(r.City)
	r.Country = strings.TrimSpace(r.Country)
	return r
}

// CityResponse is the served (and cached) representation of a CityResult.
type CityResponse struct {
	City           string     `json:"city"`
	Country        string     `json:"country"`
	CurrentMean    null.Float `json:"currentMean"`
	DailyMean      null.Float `json:"dailyMean"`
	AnnualMean     null.Float `json:"annualMean"`
	CurrentCount   int        `json:"currentCount"`
	DailyCount     int        `json:"dailyCount"`
	AnnualCount    int        `json:"annualCount"`
	TotalLocations int        `json:"totalLocations"`
	Updated        null.Time  `json:"updated"`
	LastYear       int        `json:"lastYear"`
	Cached         bool       `json:"cached"`
	ComputedAt     time.Time  `json:"computedAt"`
	ComputationID  string     `json:"computationId"`
}

func newCityResponse(req AggregateRequest, res CityResult, computedAt time.Time, id string) CityResponse {
	return CityResponse{
		City:           req.City,
		Country:        req.Country,
		CurrentMean:    res.Current.Mean,
		DailyMean:      res.Daily.Mean,
		AnnualMean:     res.Annual.Mean,
		CurrentCount:   res.Current.Count,
		DailyCount:     res.Daily.Count,
		AnnualCount:    res.Annual.Count,
		TotalLocations: res.TotalLocations,
		Updated:        res.LastUpdated,
		LastYear:       res.ReferenceYear,
		ComputedAt:     computedAt,
		ComputationID:  id,
	}
}
