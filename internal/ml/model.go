package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"match-predictor/internal/features"
	"match-predictor/internal/prediction"

	"github.com/rs/zerolog/log"
)

// DefaultVersion is used when neither configuration nor metadata name the model.
const DefaultVersion = "v1.0"

// SumTolerance is how far the three output probabilities may drift from 1.
const SumTolerance = 0.01

// NumClasses is the classifier output width: draw, home win, away win.
const NumClasses = 3

// TrainedFeatureNames are the column names written by the training export.
// They describe the same columns as features.Names.
var TrainedFeatureNames = []string{
	"home_avg_xg",
	"away_avg_xg",
	"xg_differential",
	"home_possession",
	"away_possession",
	"possession_differential",
	"home_shots_on_target",
	"away_shots_on_target",
	"home_goals_for",
	"away_goals_for",
	"home_goals_against",
	"away_goals_against",
	"home_form_points",
	"away_form_points",
	"form_differential",
	"head_to_head_ratio",
}

// MetricsInterface defines metrics methods needed by the model
type MetricsInterface interface {
	MLPredictionsInc()
	MLFailuresInc()
	MLLatencyObserve(float64)
	MLModelAgeSet(float64)
	MLPredictionScoresObserve(float64)
	MLTimeoutsInc()
}

// InferenceError is returned for every failed prediction. No default
// probabilities are ever substituted.
type InferenceError struct {
	Op  string
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Op, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// ModelMetadata contains information about the loaded model
type ModelMetadata struct {
	Version       string    `json:"version"`
	TrainedAt     time.Time `json:"trained_at"`
	Features      []string  `json:"features"`
	Accuracy      float64   `json:"accuracy"`
	InputShape    []int64   `json:"input_shape"`
	OutputShape   []int64   `json:"output_shape"`
	TrainingRows  int       `json:"training_rows"`
	ValidationAcc float64   `json:"validation_accuracy"`
}

// InputWidth is the number of columns the model expects.
func (md ModelMetadata) InputWidth() int {
	if len(md.InputShape) >= 2 && md.InputShape[1] > 0 {
		return int(md.InputShape[1])
	}
	if len(md.Features) > 0 {
		return len(md.Features)
	}
	return features.Size
}

func defaultMetadata() ModelMetadata {
	return ModelMetadata{
		Version:     DefaultVersion,
		Features:    append([]string(nil), TrainedFeatureNames...),
		InputShape:  []int64{1, features.Size},
		OutputShape: []int64{1, NumClasses},
	}
}

// Config describes how to load the production model.
type Config struct {
	ModelPath  string
	PythonPath string
	Version    string
	Timeout    time.Duration
}

// Model is the inference adapter: one pre-loaded session plus its metadata.
// It holds no per-request state and never caches results.
type Model struct {
	session  Session
	metadata ModelMetadata
	metrics  MetricsInterface
	stats    *FeatureStats
	loadedAt time.Time
}

// NewModel wraps an already opened session. metrics may be nil.
func NewModel(session Session, md ModelMetadata, metrics MetricsInterface) *Model {
	if md.Version == "" {
		md.Version = DefaultVersion
	}
	if len(md.Features) == 0 {
		md.Features = append([]string(nil), TrainedFeatureNames...)
	}
	return &Model{
		session:  session,
		metadata: md,
		metrics:  metrics,
		stats:    NewFeatureStats(features.Names[:]),
		loadedAt: time.Now(),
	}
}

// Load opens the model described by cfg and runs a health-check inference.
// Any error here means the service cannot predict and must not start.
func Load(cfg Config, metrics MetricsInterface) (*Model, error) {
	info, err := os.Stat(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	session, err := NewExecSession(cfg.ModelPath, cfg.PythonPath, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("open model session: %w", err)
	}

	md, err := loadModelMetadata(cfg.ModelPath)
	if err != nil {
		log.Warn().Err(err).Str("model_path", cfg.ModelPath).Msg("Model metadata unavailable, using defaults")
		d := defaultMetadata()
		md = &d
	}
	if cfg.Version != "" {
		md.Version = cfg.Version
	}

	m := NewModel(session, *md, metrics)

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Timeout+5*time.Second)
	defer cancel()
	if err := m.healthCheck(ctx); err != nil {
		session.Close()
		return nil, fmt.Errorf("model health check: %w", err)
	}

	if metrics != nil {
		metrics.MLModelAgeSet(time.Since(info.ModTime()).Seconds())
	}

	log.Info().
		Str("model_path", cfg.ModelPath).
		Str("version", m.Version()).
		Int("input_width", md.InputWidth()).
		Msg("ONNX model loaded successfully")

	return m, nil
}

func (m *Model) healthCheck(ctx context.Context) error {
	out, err := m.session.Run(ctx, make([]float32, m.metadata.InputWidth()))
	if err != nil {
		return err
	}
	_, err = toProbabilities(out)
	return err
}

// Predict runs the classifier on v. Output index 0 is draw, 1 home win, 2 away win.
func (m *Model) Predict(ctx context.Context, v features.Vector) (prediction.Probabilities, error) {
	start := time.Now()
	defer func() {
		if m.metrics != nil {
			m.metrics.MLLatencyObserve(time.Since(start).Seconds())
		}
	}()

	input := v.Float32()
	if want := m.metadata.InputWidth(); len(input) != want {
		return prediction.Probabilities{}, m.fail(&InferenceError{
			Op:  "validate input",
			Err: fmt.Errorf("model expects %d features, got %d", want, len(input)),
		})
	}

	out, err := m.session.Run(ctx, input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && m.metrics != nil {
			m.metrics.MLTimeoutsInc()
		}
		return prediction.Probabilities{}, m.fail(&InferenceError{Op: "run", Err: err})
	}

	probs, err := toProbabilities(out)
	if err != nil {
		log.Error().Err(err).Interface("output", out).Msg("Invalid classifier output")
		return prediction.Probabilities{}, m.fail(&InferenceError{Op: "validate output", Err: err})
	}

	m.stats.Observe(v[:])
	if m.metrics != nil {
		m.metrics.MLPredictionsInc()
		_, confidence := prediction.Decide(probs)
		m.metrics.MLPredictionScoresObserve(confidence)
	}

	return probs, nil
}

func (m *Model) fail(err error) error {
	if m.metrics != nil {
		m.metrics.MLFailuresInc()
	}
	return err
}

func toProbabilities(out []float32) (prediction.Probabilities, error) {
	if len(out) != NumClasses {
		return prediction.Probabilities{}, fmt.Errorf("expected %d probabilities, got %d", NumClasses, len(out))
	}
	var sum float64
	for i, p := range out {
		v := float64(p)
		if math.IsNaN(v) || v < 0 || v > 1 {
			return prediction.Probabilities{}, fmt.Errorf("invalid probability %d: %f", i, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > SumTolerance {
		return prediction.Probabilities{}, fmt.Errorf("probabilities sum to %f", sum)
	}
	return prediction.Probabilities{
		Draw: float64(out[0]),
		Home: float64(out[1]),
		Away: float64(out[2]),
	}, nil
}

// Version identifies the loaded model; predictions are keyed by it.
func (m *Model) Version() string { return m.metadata.Version }

// FeatureNames returns the model's trained column names in vector order.
func (m *Model) FeatureNames() []string {
	return append([]string(nil), m.metadata.Features...)
}

func (m *Model) Metadata() ModelMetadata { return m.metadata }

// Stats returns the running per-feature statistics.
func (m *Model) Stats() *FeatureStats { return m.stats }

func (m *Model) LoadedAt() time.Time { return m.loadedAt }

func (m *Model) Close() error {
	if m.session == nil {
		return nil
	}
	return m.session.Close()
}

// ResolveVersion returns the version predictions made with cfg are stored
// under, without opening the model: cfg.Version, else the metadata's, else
// DefaultVersion.
func ResolveVersion(cfg Config) string {
	if cfg.Version != "" {
		return cfg.Version
	}
	if md, err := loadModelMetadata(cfg.ModelPath); err == nil {
		return md.Version
	}
	return DefaultVersion
}

func loadModelMetadata(modelPath string) (*ModelMetadata, error) {
	dir := filepath.Dir(modelPath)
	primary := filepath.Join(dir, "model_metadata.json")

	if md, err := decodeMetadata(primary); err == nil {
		return md, nil
	}

	// fall back to the newest timestamped export
	matches, err := filepath.Glob(filepath.Join(dir, "model_metadata_*.json"))
	if err != nil || len(matches) == 0 {
		return nil, fmt.Errorf("no metadata files found in %s", dir)
	}
	sort.Strings(matches)
	return decodeMetadata(matches[len(matches)-1])
}

func decodeMetadata(path string) (*ModelMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var md ModelMetadata
	if err := json.NewDecoder(file).Decode(&md); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if md.Version == "" {
		md.Version = DefaultVersion
	}
	if len(md.Features) == 0 {
		md.Features = append([]string(nil), TrainedFeatureNames...)
	}
	return &md, nil
}
