package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"match-predictor/internal/api"
	"match-predictor/internal/cache"
	"match-predictor/internal/cfg"
	"match-predictor/internal/common"
	"match-predictor/internal/features"
	"match-predictor/internal/metrics"
	"match-predictor/internal/ml"
	"match-predictor/internal/pipeline"
	"match-predictor/internal/provider/footballdata"
	"match-predictor/internal/storage"
	"match-predictor/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const featureStatsFile = "feature_stats.json"

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize components
	m := metrics.New()
	mw := metrics.NewWrapper(m)

	model := initializeModel(c, mw)
	defer model.Close()

	repo, err := storage.Open(ctx, storage.Options{
		Driver:      c.StorageDriver,
		DataPath:    c.DataPath,
		DatabaseURL: c.DatabaseURL,
	})
	if err != nil {
		log.Fatal().Err(err).Str("driver", c.StorageDriver).Msg("storage initialization failed")
	}
	defer repo.Close()

	var wg sync.WaitGroup
	predictionCache := initializeCache(ctx, &wg, c)

	hub := api.NewHub(mw.WSClients())
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	st := store.New(repo, predictionCache, store.WithMetrics(mw), store.WithNotifier(hub))

	src := footballdata.New(footballdata.Config{
		BaseURL:           c.FootballAPIURL,
		APIKey:            c.FootballAPIKey,
		Timeout:           c.RESTTimeout,
		RequestsPerMinute: c.FootballRateLimit,
		SeasonWindow:      c.FootballSeasonWindow,
		Competition:       c.FootballCompetition,
	})

	opts := []pipeline.Option{pipeline.WithMetrics(mw)}
	if rec, ok := repo.(storage.FeatureRecorder); ok {
		opts = append(opts, pipeline.WithFeatureRecorder(rec))
	}
	p, err := pipeline.New(src, features.NewBuilder(), model, st, pipeline.Config{
		ModelVersion: c.ModelVersion,
		FormLength:   c.FormLength,
	}, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("pipeline initialization failed")
	}

	statsPath := filepath.Join(c.DataPath, featureStatsFile)
	if err := model.Stats().Load(statsPath); err != nil {
		log.Warn().Err(err).Str("path", statsPath).Msg("Failed to restore feature statistics")
	}
	defer func() {
		if err := model.Stats().Save(statsPath); err != nil {
			log.Warn().Err(err).Str("path", statsPath).Msg("Failed to save feature statistics")
		}
	}()

	server := api.NewServer(p, hub, api.Config{Port: c.HTTPPort, RateLimit: c.APIRateLimit},
		api.WithMetrics(mw),
		api.WithMetricsHandler(promhttp.Handler()),
	)
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("api server failed to start")
	}

	log.Info().
		Str("model_version", p.Version()).
		Str("storage", c.StorageDriver).
		Bool("redis", c.RedisURL != "").
		Int("port", c.HTTPPort).
		Msg("Match predictor started")

	// Wait for shutdown signal
	waitForShutdown(ctx, cancel, server, &wg)
}

func setupLogging(c cfg.Settings) {
	zerolog.SetGlobalLevel(c.ZerologLevel())
	if c.LogFormat == common.LogFormatConsole {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// initializeModel loads the classifier. The service cannot predict without
// it, so any failure is fatal.
func initializeModel(c cfg.Settings, mw *metrics.MetricsWrapper) *ml.Model {
	model, err := ml.Load(ml.Config{
		ModelPath:  c.ModelPath,
		PythonPath: c.PythonPath,
		Version:    c.ModelVersion,
		Timeout:    c.InferenceTimeout,
	}, mw)
	if err != nil {
		log.Fatal().Err(err).Str("model_path", c.ModelPath).Msg("model load failed")
	}
	return model
}

// initializeCache uses Redis when REDIS_URL is configured and an in-process
// cache otherwise.
func initializeCache(ctx context.Context, wg *sync.WaitGroup, c cfg.Settings) cache.Cache {
	if c.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, c.RedisURL, c.CacheHorizon)
		if err == nil {
			go func() {
				<-ctx.Done()
				rc.Close()
			}()
			return rc
		}
		log.Warn().Err(err).Msg("redis unavailable, falling back to in-memory cache")
	}

	mc := cache.NewMemory(c.CacheSize, c.CacheHorizon)
	wg.Add(1)
	go func() {
		defer wg.Done()
		mc.Run(ctx, time.Minute)
	}()
	return mc
}

// waitForShutdown waits for shutdown signals and handles graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, server *api.Server, wg *sync.WaitGroup) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server shutdown failed")
	}

	cancel() // Cancel context to stop all goroutines

	// Wait for all goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
