package airquality

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/guregu/null/v5"
)

// Upstream is the transport capability for the air-quality data provider.
// Failures are returned as *UpstreamError when the provider answered with a
// non-success status.
type Upstream interface {
	FetchJSON(ctx context.Context, path string, query url.Values) (json.RawMessage, error)
}

// Logger defines the logging behaviour required by the engine.
type Logger interface {
	Printf(format string, v ...any)
}

type upstreamDatetime struct {
	UTC string `json:"utc"`
}

type sensorsPayload struct {
	Results []struct {
		ID        json.Number `json:"id"`
		Parameter struct {
			Name        string `json:"name"`
			DisplayName string `json:"displayName"`
		} `json:"parameter"`
		Latest *struct {
			Datetime upstreamDatetime `json:"datetime"`
			Value    null.Float       `json:"value"`
		} `json:"latest"`
	} `json:"results"`
}

type measurementsPayload struct {
	Results []struct {
		Value null.Float `json:"value"`
	} `json:"results"`
}

type period struct {
	Value  null.Float `json:"value"`
	Period struct {
		Label        string           `json:"label"`
		DatetimeFrom upstreamDatetime `json:"datetimeFrom"`
		DatetimeTo   upstreamDatetime `json:"datetimeTo"`
	} `json:"period"`
	Summary *struct {
		Avg null.Float `json:"avg"`
	} `json:"summary"`
}

type periodsPayload struct {
	Results []period `json:"results"`
}

func (p period) value() null.Float {
	if p.Value.Valid {
		return p.Value
	}
	if p.Summary != nil {
		return p.Summary.Avg
	}
	return null.Float{}
}

func locationSensorsPath(id LocationID) string {
	return "/v3/locations/" + url.PathEscape(id.String()) + "/sensors"
}

func sensorMeasurementsPath(sensorID string) string {
	return "/v3/sensors/" + url.PathEscape(sensorID) + "/measurements"
}

func sensorYearsPath(sensorID string) string {
	return "/v3/sensors/" + url.PathEscape(sensorID) + "/years"
}

func fetchSensors(ctx context.Context, up Upstream, id LocationID) ([]Sensor, error) {
	raw, err := up.FetchJSON(ctx, locationSensorsPath(id), nil)
	if err != nil {
		return nil, err
	}
	var payload sensorsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode sensors for location %s: %w", id, err)
	}

	sensors := make([]Sensor, 0, len(payload.Results))
	for _, r := range payload.Results {
		s := Sensor{
			ID:          r.ID.String(),
			Parameter:   r.Parameter.Name,
			DisplayName: r.Parameter.DisplayName,
		}
		if r.Latest != nil {
			s.Latest = r.Latest.Value
			s.LatestAt = r.Latest.Datetime.UTC
		}
		sensors = append(sensors, s)
	}
	return sensors, nil
}

func fetchMeasurements(ctx context.Context, up Upstream, sensorID string, from, to time.Time) ([]null.Float, error) {
	q := url.Values{}
	q.Set("datetime_from", from.UTC().Format(time.RFC3339))
	q.Set("datetime_to", to.UTC().Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(MeasurementLimit))
	q.Set("sort", "desc")

	raw, err := up.FetchJSON(ctx, sensorMeasurementsPath(sensorID), q)
	if err != nil {
		return nil, err
	}
	var payload measurementsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode measurements for sensor %s: %w", sensorID, err)
	}

	values := make([]null.Float, 0, len(payload.Results))
	for _, r := range payload.Results {
		values = append(values, r.Value)
	}
	return values, nil
}

func fetchYears(ctx context.Context, up Upstream, sensorID string, year int) ([]period, error) {
	q := url.Values{}
	q.Set("datetime_from", fmt.Sprintf("%04d-01-01", year))
	q.Set("datetime_to", fmt.Sprintf("%04d-01-01", year+1))

	raw, err := up.FetchJSON(ctx, sensorYearsPath(sensorID), q)
	if err != nil {
		return nil, err
	}
	var payload periodsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode annual periods for sensor %s: %w", sensorID, err)
	}
	return payload.Results, nil
}
