package airquality

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v5"
)

// WindowAggregator resolves the three aggregation windows for a selected
// sensor. Upstream failures degrade the affected window to null.
type WindowAggregator struct {
	upstream Upstream
	logger   Logger

	// StrictYear disables the first-period fallback for the annual window, so
	// a year with no matching period yields null instead of another year's value.
	StrictYear bool
}

// NewWindowAggregator creates a WindowAggregator on top of an upstream.
func NewWindowAggregator(up Upstream, logger Logger) *WindowAggregator {
	return &WindowAggregator{upstream: up, logger: logger}
}

// Resolve returns the current, 24-hour and annual values for sensor. The
// upstream calls are issued one after the other so a location task holds at
// most one outstanding request.
func (w *WindowAggregator) Resolve(ctx context.Context, sensor Sensor, refYear int, now time.Time) LocationReading {
	reading := LocationReading{Current: sensor.Latest}
	if !sensor.Latest.Valid {
		w.logf("window %s: sensor %s has no latest value", WindowCurrent, sensor.ID)
	}

	daily, err := w.DailyMean(ctx, sensor.ID, now)
	if err != nil {
		w.logf("window %s: sensor %s degraded: %v", WindowLast24h, sensor.ID, err)
	}
	reading.Daily = daily

	annual, err := w.AnnualValue(ctx, sensor.ID, refYear)
	if err != nil {
		w.logf("window %s: sensor %s degraded: %v", WindowLastYear, sensor.ID, err)
	}
	reading.Annual = annual

	return reading
}

// DailyMean averages raw samples in [now-24h, now].
func (w *WindowAggregator) DailyMean(ctx context.Context, sensorID string, now time.Time) (null.Float, error) {
	values, err := fetchMeasurements(ctx, w.upstream, sensorID, now.Add(-24*time.Hour), now)
	if err != nil {
		return null.Float{}, err
	}
	return Summarize(values).Mean, nil
}

// AnnualValue reads the pre-aggregated value for refYear.
func (w *WindowAggregator) AnnualValue(ctx context.Context, sensorID string, refYear int) (null.Float, error) {
	periods, err := fetchYears(ctx, w.upstream, sensorID, refYear)
	if err != nil {
		return null.Float{}, err
	}
	if len(periods) == 0 {
		return null.Float{}, nil
	}

	p, ok := matchYear(periods, refYear)
	if !ok {
		if w.StrictYear {
			return null.Float{}, nil
		}
		w.logf("window %s: sensor %s has no %d period, using first of %d", WindowLastYear, sensorID, refYear, len(periods))
		p = periods[0]
	}
	return p.value(), nil
}

// matchYear prefers a period starting in year, then one ending inside it. A
// period ending exactly at the start of year belongs to the year before.
func matchYear(periods []period, year int) (period, bool) {
	prefix := strconv.Itoa(year)
	for _, p := range periods {
		if strings.HasPrefix(p.Period.DatetimeFrom.UTC, prefix) {
			return p, true
		}
	}
	for _, p := range periods {
		to := p.Period.DatetimeTo.UTC
		if strings.HasPrefix(to, prefix) && !yearBoundary(to, year) {
			return p, true
		}
	}
	return period{}, false
}

func yearBoundary(ts string, year int) bool {
	t := parseTimestamp(ts)
	return t.Equal(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC))
}

func (w *WindowAggregator) logf(format string, v ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Printf(format, v...)
}
