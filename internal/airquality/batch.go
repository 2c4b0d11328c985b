package airquality

import (
	"context"
	"errors"
	"time"

	"github.com/guregu/null/v5"

	"github.com/i474232898/air-quality-aggregation/internal/fanout"
)

// BatchSummary holds the per-window partial aggregates of one batch.
type BatchSummary struct {
	Current PartialAggregate
	Daily   PartialAggregate
	Annual  PartialAggregate
	Updated null.Time
}

// Combiner splits a location list into fixed-size batches, resolves each
// batch under a bounded fan-out and merges the partial results.
//
// Batches run strictly one after another; this caps the number of
// outstanding upstream requests at the per-batch fan-out limit.
type Combiner struct {
	upstream    Upstream
	windows     *WindowAggregator
	logger      Logger
	batchSize   int
	concurrency int
}

// NewCombiner creates a Combiner with the standard batch size and fan-out.
func NewCombiner(up Upstream, windows *WindowAggregator, logger Logger) *Combiner {
	return &Combiner{
		upstream:    up,
		windows:     windows,
		logger:      logger,
		batchSize:   BatchSize,
		concurrency: BatchConcurrency,
	}
}

// Batches splits ids into consecutive slices of at most size elements.
func Batches(ids []LocationID, size int) [][]LocationID {
	if size < 1 {
		size = 1
	}
	batches := make([][]LocationID, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batches = append(batches, ids[start:end])
	}
	return batches
}

// Run computes the city result for ids. refYear and now are fixed by the
// caller so every batch uses the same windows.
func (c *Combiner) Run(ctx context.Context, ids []LocationID, refYear int, now time.Time) (CityResult, error) {
	result := CityResult{
		TotalLocations: len(ids),
		ReferenceYear:  refYear,
	}

	for i, batch := range Batches(ids, c.batchSize) {
		summary, err := c.runBatch(ctx, batch, refYear, now)
		if err != nil {
			c.logf("ERROR: batch %d of %d locations aborted: %v", i, len(batch), err)
			if i > 0 {
				c.logf("ERROR: discarding partial result of %d completed batches: current=%d daily=%d annual=%d",
					i, result.Current.Count, result.Daily.Count, result.Annual.Count)
			}
			return CityResult{}, err
		}
		result.Current = result.Current.Merge(summary.Current)
		result.Daily = result.Daily.Merge(summary.Daily)
		result.Annual = result.Annual.Merge(summary.Annual)
		result.LastUpdated = latest(result.LastUpdated, summary.Updated)
	}

	return result, nil
}

func (c *Combiner) runBatch(ctx context.Context, batch []LocationID, refYear int, now time.Time) (BatchSummary, error) {
	pool := fanout.Pool{Limit: c.concurrency, Logger: c.logger}
	outcomes, err := fanout.Map(ctx, pool, batch, func(ctx context.Context, id LocationID) (LocationReading, error) {
		return c.resolveLocation(ctx, id, refYear, now)
	})
	if err != nil {
		return BatchSummary{}, err
	}

	current := make([]null.Float, 0, len(outcomes))
	daily := make([]null.Float, 0, len(outcomes))
	annual := make([]null.Float, 0, len(outcomes))
	var summary BatchSummary
	for _, o := range outcomes {
		if !o.Present {
			continue
		}
		current = append(current, o.Value.Current)
		daily = append(daily, o.Value.Daily)
		annual = append(annual, o.Value.Annual)
		summary.Updated = latest(summary.Updated, o.Value.Updated)
	}
	summary.Current = Summarize(current)
	summary.Daily = Summarize(daily)
	summary.Annual = Summarize(annual)
	return summary, nil
}

func (c *Combiner) resolveLocation(ctx context.Context, id LocationID, refYear int, now time.Time) (LocationReading, error) {
	sensors, err := fetchSensors(ctx, c.upstream, id)
	if err != nil {
		var ue *UpstreamError
		if errors.As(err, &ue) && ue.fatalForBatch() {
			return LocationReading{}, fanout.Fatal(ue)
		}
		return LocationReading{}, err
	}

	sensor, ok := SelectSensor(sensors)
	if !ok {
		return LocationReading{}, nil
	}

	reading := c.windows.Resolve(ctx, sensor, refYear, now)
	if ts := parseTimestamp(sensor.LatestAt); ts.Unix() > 0 {
		reading.Updated = null.TimeFrom(ts)
	}
	return reading, nil
}

func latest(a, b null.Time) null.Time {
	if !b.Valid {
		return a
	}
	if !a.Valid || b.Time.After(a.Time) {
		return b
	}
	return a
}

func (c *Combiner) logf(format string, v ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, v...)
}
