package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/air-quality-aggregation/internal/airquality"
	"github.com/i474232898/air-quality-aggregation/internal/directory"
)

// Aggregator computes (or serves from cache) a city aggregate.
type Aggregator interface {
	Aggregate(ctx context.Context, req airquality.AggregateRequest) (airquality.CityResponse, error)
}

// Cities lists the directory cities to keep warm.
type Cities interface {
	List() []directory.City
}

// Pruner drops expired cache entries.
type Pruner interface {
	Prune() int
}

// Scheduler periodically warms the cache for directory cities and prunes
// expired entries.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	aggregator Aggregator
	cities     Cities
	pruner     Pruner
	interval   time.Duration
	jobTimeout time.Duration
}

// New creates a new Scheduler. pruner may be nil when the cache expires
// entries on its own.
func New(cities Cities, interval time.Duration, aggregator Aggregator, pruner Pruner) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler:  s,
		aggregator: aggregator,
		cities:     cities,
		pruner:     pruner,
		interval:   interval,
		jobTimeout: 5 * time.Minute,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		log.Println("scheduler: warming disabled")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// RunOnce warms every directory city one after another, then prunes. It
// returns the number of cities that were aggregated successfully.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	log.Println("scheduler: running cache warming job")

	warmed := 0
	for _, city := range s.cities.List() {
		if ctx.Err() != nil {
			break
		}
		if len(city.Locations) == 0 {
			continue
		}
		if _, err := s.aggregator.Aggregate(ctx, city.Request()); err != nil {
			log.Printf("scheduler: warming failed for %s/%s: %v", city.Name, city.Country, err)
			continue
		}
		warmed++
	}

	if s.pruner != nil {
		if n := s.pruner.Prune(); n > 0 {
			log.Printf("scheduler: pruned %d expired cache entries", n)
		}
	}

	log.Printf("scheduler: completed cache warming job (%d cities)", warmed)
	return warmed
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
