package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/i474232898/air-quality-aggregation/internal/airquality"
	"github.com/i474232898/air-quality-aggregation/internal/airquality/openaq"
	httpapi "github.com/i474232898/air-quality-aggregation/internal/api/http"
	"github.com/i474232898/air-quality-aggregation/internal/config"
	"github.com/i474232898/air-quality-aggregation/internal/directory"
	"github.com/i474232898/air-quality-aggregation/internal/metrics"
	"github.com/i474232898/air-quality-aggregation/internal/scheduler"
	"github.com/i474232898/air-quality-aggregation/internal/store"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.OpenAQAPIKey == "" {
		log.Printf("INFO: OPENAQ_API_KEY is not set; upstream calls are unauthenticated")
	}

	m := metrics.New()

	// Shared HTTP client for outbound OpenAQ calls.
	httpClient := &http.Client{
		Timeout: cfg.UpstreamTimeout,
	}
	upstream := openaq.NewClient(httpClient, cfg.OpenAQBaseURL, cfg.OpenAQAPIKey, m)

	// Result cache: process-local by default, Redis when shared across replicas.
	var (
		cache  airquality.Cache
		pruner scheduler.Pruner
	)
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		rc := store.NewRedisCache(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), "airquality:")
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rc.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to redis at %s: %v", cfg.RedisAddr, err)
		}
		defer rc.Close()
		cache = rc
	default:
		mc := store.NewMemoryCache(cfg.CacheMaxEntries)
		cache = mc
		pruner = mc
	}

	dir, err := directory.LoadFile(cfg.CityDirectoryFile)
	if err != nil {
		log.Fatalf("failed to load city directory: %v", err)
	}
	log.Printf("INFO: city directory has %d cities", dir.Len())

	// Core service: cache, single-flight registry and batch combiner.
	windows := airquality.NewWindowAggregator(upstream, log.Default())
	windows.StrictYear = cfg.AnnualStrictYear
	combiner := airquality.NewCombiner(upstream, windows, log.Default())
	service := airquality.NewService(cache, airquality.NewInFlight(), combiner, airquality.ServiceConfig{
		ComputeTimeout: cfg.ComputeTimeout,
		Recorder:       m,
		Logger:         log.Default(),
	})

	// Scheduler that keeps directory cities warm.
	sched := scheduler.New(dir, cfg.WarmInterval, service, pruner)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	app := httpapi.NewApp(httpapi.Deps{
		Service:      service,
		Directory:    dir,
		Proxy:        upstream,
		Metrics:      m.Handler(),
		AllowOrigins: cfg.CORSAllowOrigins,
		AccessLog:    true,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()
	log.Printf("INFO: listening on :%s", cfg.Port)

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
