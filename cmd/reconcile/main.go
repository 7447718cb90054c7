package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"match-predictor/internal/api"
	"match-predictor/internal/cache"
	"match-predictor/internal/cfg"
	"match-predictor/internal/ml"
	"match-predictor/internal/prediction"
	"match-predictor/internal/provider/footballdata"
	"match-predictor/internal/storage"
	"match-predictor/internal/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Parse command line arguments
	var (
		fixtureID  = flag.String("fixture", "", "Fixture id to reconcile")
		outcome    = flag.String("outcome", "", "Actual result: HOME_WIN, DRAW or AWAY_WIN (fetched from the provider when empty)")
		version    = flag.String("version", "", "Model version (defaults to the configured model's version)")
		exportPath = flag.String("export", "", "Write reconciled predictions with their features as training CSV to this path")
		showAcc    = flag.Bool("accuracy", false, "Print accuracy for the model version")
		logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		timeout    = flag.Duration("timeout", time.Minute, "Overall timeout")
		serviceURL = flag.String("service", "", "Service URL used when it holds the bolt database (default http://localhost:HTTP_PORT)")
	)
	flag.Parse()

	// Setup logging
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *fixtureID == "" && *exportPath == "" && !*showAcc {
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	modelVersion := *version
	if modelVersion == "" {
		modelVersion = ml.ResolveVersion(ml.Config{ModelPath: c.ModelPath, Version: c.ModelVersion})
	}

	repo, err := storage.Open(ctx, storage.Options{
		Driver:      c.StorageDriver,
		DataPath:    c.DataPath,
		DatabaseURL: c.DatabaseURL,
	})
	if errors.Is(err, storage.ErrLocked) {
		// the running service holds the bolt file, so go through its API
		base := *serviceURL
		if base == "" {
			base = fmt.Sprintf("http://localhost:%d", c.HTTPPort)
		}
		log.Info().Str("service", base).Msg("Database is held by the running service, using its API")
		if *exportPath != "" {
			log.Fatal().Err(err).Msg("Export reads the database directly: stop the service or use the postgres or sqlite driver")
		}
		remote(ctx, api.NewClient(base, *timeout), *fixtureID, *version, *outcome, *showAcc)
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer repo.Close()

	if *fixtureID != "" {
		var pc cache.Cache
		if rc := sharedCache(ctx, c); rc != nil {
			defer rc.Close()
			pc = rc
		}
		st := store.New(repo, pc)
		p, err := reconcile(ctx, c, st, *fixtureID, modelVersion, *outcome)
		if err != nil {
			log.Fatal().Err(err).Str("fixture_id", *fixtureID).Msg("Reconciliation failed")
		}
		printReconciled(p)
	}

	if *exportPath != "" {
		if err := export(ctx, repo, modelVersion, *exportPath); err != nil {
			log.Fatal().Err(err).Str("path", *exportPath).Msg("Export failed")
		}
	}

	if *showAcc {
		acc, err := storage.Summarize(ctx, repo, modelVersion)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to compute accuracy")
		}
		printAccuracy(acc)
	}
}

// remote reconciles and reports accuracy through the service's API.
// An empty version lets the service use its own model version.
func remote(ctx context.Context, client *api.Client, fixtureID, version, outcome string, showAcc bool) {
	if outcome != "" {
		if _, err := prediction.ParseOutcome(outcome); err != nil {
			log.Fatal().Err(err).Msg("Invalid outcome")
		}
	}

	if fixtureID != "" {
		p, err := client.Reconcile(ctx, fixtureID, version, outcome)
		if err != nil {
			log.Fatal().Err(err).Str("fixture_id", fixtureID).Msg("Reconciliation failed")
		}
		printReconciled(p)
	}

	if showAcc {
		acc, err := client.Accuracy(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to fetch accuracy")
		}
		if version != "" && version != acc.ModelVersion {
			log.Warn().Str("requested", version).Str("served", acc.ModelVersion).Msg("Service reports accuracy for its own model version only")
		}
		printAccuracy(acc)
	}
}

func printReconciled(p *prediction.Prediction) {
	fmt.Printf("Fixture %s (%s): predicted %s with %.1f%% confidence, actual %s, correct=%t\n",
		p.FixtureID, p.ModelVersion, p.PredictedOutcome, p.Confidence*100, *p.ActualOutcome, *p.WasCorrect)
}

func printAccuracy(acc prediction.Accuracy) {
	fmt.Printf("Model %s: %d predictions, %d reconciled, %d correct (%.1f%%)\n",
		acc.ModelVersion, acc.Total, acc.Reconciled, acc.Correct, acc.Ratio*100)
}

// sharedCache returns the Redis cache the service reads, so a reconciled
// record replaces the cached one. Without Redis there is nothing shared to
// update and it returns nil. The caller closes it.
func sharedCache(ctx context.Context, c cfg.Settings) *cache.Redis {
	if c.RedisURL == "" {
		return nil
	}
	rc, err := cache.NewRedis(ctx, c.RedisURL, c.CacheHorizon)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, cached predictions will expire on their own")
		return nil
	}
	return rc
}

func reconcile(ctx context.Context, c cfg.Settings, st *store.Store, fixtureID, modelVersion, outcome string) (*prediction.Prediction, error) {
	var actual prediction.Outcome
	if outcome != "" {
		o, err := prediction.ParseOutcome(outcome)
		if err != nil {
			return nil, err
		}
		actual = o
	} else {
		src := footballdata.New(footballdata.Config{
			BaseURL:           c.FootballAPIURL,
			APIKey:            c.FootballAPIKey,
			Timeout:           c.RESTTimeout,
			RequestsPerMinute: c.FootballRateLimit,
		})
		fixture, err := src.Fixture(ctx, fixtureID)
		if err != nil {
			return nil, err
		}
		o, ok := fixture.Outcome()
		if !ok {
			return nil, fmt.Errorf("fixture %s has no final score (status %s)", fixtureID, fixture.Status)
		}
		actual = o
	}

	return st.Reconcile(ctx, prediction.Key{FixtureID: fixtureID, ModelVersion: modelVersion}, actual)
}

func export(ctx context.Context, repo storage.Repository, modelVersion, path string) error {
	rec, ok := repo.(storage.FeatureRecorder)
	if !ok {
		return fmt.Errorf("storage driver does not keep feature rows")
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := storage.ExportTrainingCSV(ctx, repo, rec, modelVersion, f)
	if err != nil {
		return err
	}
	log.Info().Int("rows", n).Str("path", path).Str("model_version", modelVersion).Msg("Training data exported")
	return nil
}
