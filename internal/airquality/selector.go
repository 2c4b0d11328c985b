package airquality

import (
	"sort"
	"time"

	"github.com/i474232898/air-quality-aggregation/internal/common"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp returns the Unix epoch for empty or unparsable input.
func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Unix(0, 0).UTC()
}

// IsPM25 reports whether the sensor measures the PM2.5 parameter.
func IsPM25(s Sensor) bool {
	return common.EqualsAnyFold(s.Parameter, "pm25", "pm2.5") || common.HasAnyFold(s.DisplayName, "pm2.5")
}

// SelectSensor picks the representative PM2.5 sensor of a location: the one
// with a latest value and the most recent observation. ok is false when the
// location has no usable sensor.
func SelectSensor(sensors []Sensor) (Sensor, bool) {
	candidates := make([]Sensor, 0, len(sensors))
	for _, s := range sensors {
		if IsPM25(s) && s.Latest.Valid {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return Sensor{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return parseTimestamp(candidates[i].LatestAt).After(parseTimestamp(candidates[j].LatestAt))
	})
	return candidates[0], true
}
