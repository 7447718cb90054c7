// Package pipeline turns a fixture id into a stored prediction: it fetches
// team data, builds the feature vector, runs the model, decides the outcome
// and hands the record to the store, which guarantees one computation per
// (fixture, model version).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"match-predictor/internal/features"
	"match-predictor/internal/ml"
	"match-predictor/internal/prediction"
	"match-predictor/internal/provider"
	"match-predictor/internal/storage"
	"match-predictor/internal/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultFormLength is how many recent results feed the form features.
const DefaultFormLength = 5

// ErrNotFinished is returned when reconciling a fixture that has no final score.
var ErrNotFinished = errors.New("fixture not finished")

// ErrListingUnsupported is returned by UpcomingPredictions when the provider
// cannot list fixtures.
var ErrListingUnsupported = errors.New("provider cannot list fixtures")

// MaxUpcomingDays bounds the upcoming fixtures window.
const MaxUpcomingDays = 14

const upcomingConcurrency = 4

// MetricsInterface defines metrics methods needed by the pipeline
type MetricsInterface interface {
	PipelineLatencyObserve(float64)
	UpstreamErrorsInc()
	PredictedOutcomeInc(outcome string)
	FeaturesRecordedInc()
}

type Config struct {
	// ModelVersion overrides the version reported by the model.
	ModelVersion string
	FormLength   int
}

// ModelInfo describes the loaded model for diagnostics.
type ModelInfo struct {
	Version      string           `json:"version"`
	FeatureNames []string         `json:"feature_names"`
	FeatureStats []ml.FeatureStat `json:"feature_stats,omitempty"`
}

type statsProvider interface {
	Stats() *ml.FeatureStats
}

type Pipeline struct {
	provider   provider.Provider
	builder    *features.Builder
	model      ml.PredictorInterface
	store      *store.Store
	version    string
	formLength int
	recorder   storage.FeatureRecorder
	metrics    MetricsInterface
	log        zerolog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFeatureRecorder keeps every model input so it can later be joined
// with the real result for retraining.
func WithFeatureRecorder(r storage.FeatureRecorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

func WithMetrics(m MetricsInterface) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func New(src provider.Provider, builder *features.Builder, model ml.PredictorInterface, st *store.Store, cfg Config, opts ...Option) (*Pipeline, error) {
	if src == nil || builder == nil || model == nil || st == nil {
		return nil, errors.New("pipeline: provider, builder, model and store are required")
	}
	version := cfg.ModelVersion
	if version == "" {
		version = model.Version()
	}
	if strings.Contains(version, "/") {
		return nil, fmt.Errorf("pipeline: model version %q must not contain '/'", version)
	}
	if cfg.FormLength <= 0 {
		cfg.FormLength = DefaultFormLength
	}

	p := &Pipeline{
		provider:   src,
		builder:    builder,
		model:      model,
		store:      st,
		version:    version,
		formLength: cfg.FormLength,
		log:        log.With().Str("component", "pipeline").Str("model_version", version).Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Version is the model version predictions are stored under.
func (p *Pipeline) Version() string { return p.version }

// PredictForFixture returns the prediction for fixtureID under the
// configured model version, computing it on first request.
func (p *Pipeline) PredictForFixture(ctx context.Context, fixtureID string) (*prediction.Prediction, error) {
	key := prediction.Key{FixtureID: fixtureID, ModelVersion: p.version}
	return p.store.GetOrCreate(ctx, key, func(ctx context.Context) (*prediction.Prediction, error) {
		return p.compute(ctx, key)
	})
}

func (p *Pipeline) compute(ctx context.Context, key prediction.Key) (*prediction.Prediction, error) {
	start := time.Now()

	fixture, err := p.provider.Fixture(ctx, key.FixtureID)
	if err != nil {
		return nil, p.upstream("fixture", key.FixtureID, err)
	}

	var (
		home, away         features.TeamSnapshot
		homeForm, awayForm features.Form
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		home, err = p.provider.TeamSnapshot(gctx, fixture.HomeTeamID)
		return p.upstream("team snapshot", fmt.Sprint(fixture.HomeTeamID), err)
	})
	g.Go(func() (err error) {
		away, err = p.provider.TeamSnapshot(gctx, fixture.AwayTeamID)
		return p.upstream("team snapshot", fmt.Sprint(fixture.AwayTeamID), err)
	})
	g.Go(func() (err error) {
		homeForm, err = p.provider.RecentForm(gctx, fixture.HomeTeamID, p.formLength)
		return p.upstream("recent form", fmt.Sprint(fixture.HomeTeamID), err)
	})
	g.Go(func() (err error) {
		awayForm, err = p.provider.RecentForm(gctx, fixture.AwayTeamID, p.formLength)
		return p.upstream("recent form", fmt.Sprint(fixture.AwayTeamID), err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	vec := p.builder.Build(home, away, homeForm, awayForm)

	probs, err := p.model.Predict(ctx, vec)
	if err != nil {
		p.log.Error().Err(err).Str("fixture_id", key.FixtureID).Msg("Inference failed")
		return nil, err
	}

	var kickoff *time.Time
	if !fixture.Kickoff.IsZero() {
		k := fixture.Kickoff
		kickoff = &k
	}
	pred := prediction.New(key, probs, kickoff)

	p.record(ctx, key, vec)

	if p.metrics != nil {
		p.metrics.PredictedOutcomeInc(pred.PredictedOutcome.String())
		p.metrics.PipelineLatencyObserve(time.Since(start).Seconds())
	}
	p.log.Debug().
		Str("fixture_id", key.FixtureID).
		Str("home", home.Name).
		Str("away", away.Name).
		Str("home_form", homeForm.String()).
		Str("away_form", awayForm.String()).
		Dur("elapsed", time.Since(start)).
		Msg("Prediction computed")

	return pred, nil
}

// upstream normalises provider failures to *provider.UpstreamDataError.
func (p *Pipeline) upstream(op, id string, err error) error {
	if err == nil {
		return nil
	}
	if p.metrics != nil {
		p.metrics.UpstreamErrorsInc()
	}
	var ue *provider.UpstreamDataError
	if errors.As(err, &ue) {
		return err
	}
	return &provider.UpstreamDataError{Op: op, ID: id, Err: err}
}

// record keeps the feature row. Failing to record never fails a prediction.
func (p *Pipeline) record(ctx context.Context, key prediction.Key, vec features.Vector) {
	if p.recorder == nil {
		return
	}
	rec := storage.FeatureRecord{
		FixtureID:    key.FixtureID,
		ModelVersion: key.ModelVersion,
		Names:        append([]string(nil), features.Names[:]...),
		Values:       append([]float64(nil), vec[:]...),
		RecordedAt:   time.Now().UTC(),
	}
	if err := p.recorder.RecordFeatures(ctx, rec); err != nil {
		p.log.Warn().Err(err).Str("fixture_id", key.FixtureID).Msg("Failed to record features")
		return
	}
	if p.metrics != nil {
		p.metrics.FeaturesRecordedInc()
	}
}

// Reconcile records the real result of a fixture. An empty modelVersion
// means the pipeline's own version.
func (p *Pipeline) Reconcile(ctx context.Context, fixtureID, modelVersion string, actual prediction.Outcome) (*prediction.Prediction, error) {
	if modelVersion == "" {
		modelVersion = p.version
	}
	return p.store.Reconcile(ctx, prediction.Key{FixtureID: fixtureID, ModelVersion: modelVersion}, actual)
}

// ReconcileFromProvider looks up the final score and reconciles with it.
func (p *Pipeline) ReconcileFromProvider(ctx context.Context, fixtureID, modelVersion string) (*prediction.Prediction, error) {
	fixture, err := p.provider.Fixture(ctx, fixtureID)
	if err != nil {
		return nil, p.upstream("fixture", fixtureID, err)
	}
	actual, ok := fixture.Outcome()
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotFinished, fixtureID, fixture.Status)
	}
	return p.Reconcile(ctx, fixtureID, modelVersion, actual)
}

// Accuracy summarises reconciled predictions of the pipeline's version.
func (p *Pipeline) Accuracy(ctx context.Context) (prediction.Accuracy, error) {
	return p.store.Accuracy(ctx, p.version)
}

// FixturePrediction pairs an upcoming fixture with its prediction, or with
// the reason it could not be predicted.
type FixturePrediction struct {
	Fixture    provider.Fixture       `json:"fixture"`
	Prediction *prediction.Prediction `json:"prediction,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// UpcomingPredictions predicts every fixture kicking off within days days.
// A fixture that fails is reported with its error; only failing to list the
// fixtures fails the call.
func (p *Pipeline) UpcomingPredictions(ctx context.Context, days int) ([]FixturePrediction, error) {
	lister, ok := p.provider.(provider.FixtureLister)
	if !ok {
		return nil, ErrListingUnsupported
	}
	if days <= 0 || days > MaxUpcomingDays {
		return nil, fmt.Errorf("days must be between 1 and %d, got %d", MaxUpcomingDays, days)
	}

	fixtures, err := lister.UpcomingFixtures(ctx, days)
	if err != nil {
		return nil, p.upstream("upcoming fixtures", fmt.Sprint(days), err)
	}

	out := make([]FixturePrediction, len(fixtures))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(upcomingConcurrency)
	for i, f := range fixtures {
		i, f := i, f
		out[i].Fixture = f
		g.Go(func() error {
			pred, err := p.PredictForFixture(gctx, f.ID)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				p.log.Warn().Err(err).Str("fixture_id", f.ID).Msg("Upcoming fixture not predicted")
				out[i].Error = err.Error()
				return nil
			}
			out[i].Prediction = pred
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// TeamStats is the data the feature builder sees for one team.
type TeamStats struct {
	Snapshot features.TeamSnapshot `json:"snapshot"`
	Form     string                `json:"form"`
}

// TeamStats fetches a team's snapshot and recent form.
func (p *Pipeline) TeamStats(ctx context.Context, teamID int64) (TeamStats, error) {
	var (
		snap features.TeamSnapshot
		form features.Form
	)
	id := fmt.Sprint(teamID)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap, err = p.provider.TeamSnapshot(gctx, teamID)
		return p.upstream("team snapshot", id, err)
	})
	g.Go(func() (err error) {
		form, err = p.provider.RecentForm(gctx, teamID, p.formLength)
		return p.upstream("recent form", id, err)
	})
	if err := g.Wait(); err != nil {
		return TeamStats{}, err
	}
	return TeamStats{Snapshot: snap, Form: form.String()}, nil
}

func (p *Pipeline) ModelInfo() ModelInfo {
	info := ModelInfo{
		Version:      p.version,
		FeatureNames: p.model.FeatureNames(),
	}
	if sp, ok := p.model.(statsProvider); ok && sp.Stats() != nil {
		info.FeatureStats = sp.Stats().Snapshot()
	}
	return info
}
