package ml

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"match-predictor/internal/features"
	"match-predictor/internal/prediction"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleVector() features.Vector {
	home := features.TeamSnapshot{MatchesPlayed: 10, GoalsFor: 25, GoalsAgainst: 10, AvgXG: features.Float(2.1)}
	away := features.TeamSnapshot{MatchesPlayed: 10, GoalsFor: 18, GoalsAgainst: 12, AvgXG: features.Float(1.7)}
	return features.NewBuilder().Build(home, away, features.Form{features.Win}, features.Form{features.Loss})
}

func TestModel_PredictMapsClassIndices(t *testing.T) {
	metrics := &MockMetrics{}
	session := &StaticSession{Output: []float32{0.2, 0.7, 0.1}}
	m := NewModel(session, ModelMetadata{Version: "v1.0"}, metrics)

	probs, err := m.Predict(context.Background(), sampleVector())
	require.NoError(t, err)

	assert.InDelta(t, 0.2, probs.Draw, 1e-6)
	assert.InDelta(t, 0.7, probs.Home, 1e-6)
	assert.InDelta(t, 0.1, probs.Away, 1e-6)

	require.Len(t, session.Last, features.Size)
	assert.InDelta(t, 2.1, float64(session.Last[features.HomeXG]), 1e-6)

	assert.Equal(t, 1, metrics.predictions)
	assert.Equal(t, 0, metrics.failures)
	assert.Equal(t, 1, metrics.latencyCount)
	require.Len(t, metrics.predictionScores, 1)
	assert.InDelta(t, 0.7, metrics.predictionScores[0], 1e-6)
}

func TestModel_PredictDoesNotRenormalize(t *testing.T) {
	session := &StaticSession{Output: []float32{0.2, 0.7, 0.105}}
	m := NewModel(session, ModelMetadata{}, nil)

	probs, err := m.Predict(context.Background(), sampleVector())
	require.NoError(t, err)
	assert.InDelta(t, 1.005, probs.Sum(), 1e-6)
}

func TestModel_PredictRejectsBadOutput(t *testing.T) {
	testCases := []struct {
		name   string
		output []float32
	}{
		{"two classes", []float32{0.4, 0.6}},
		{"four classes", []float32{0.25, 0.25, 0.25, 0.25}},
		{"empty", nil},
		{"negative", []float32{-0.1, 0.6, 0.5}},
		{"above one", []float32{1.2, 0.0, 0.0}},
		{"NaN", []float32{float32(math.NaN()), 0.5, 0.5}},
		{"bad sum", []float32{0.5, 0.3, 0.1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			metrics := &MockMetrics{}
			m := NewModel(&StaticSession{Output: tc.output}, ModelMetadata{}, metrics)

			_, err := m.Predict(context.Background(), sampleVector())
			require.Error(t, err)

			var ierr *InferenceError
			require.True(t, errors.As(err, &ierr))
			assert.Equal(t, "validate output", ierr.Op)
			assert.Equal(t, 1, metrics.failures)
			assert.Equal(t, 0, metrics.predictions)
		})
	}
}

func TestModel_PredictRejectsWidthMismatch(t *testing.T) {
	session := &StaticSession{Output: []float32{0.3, 0.4, 0.3}}
	m := NewModel(session, ModelMetadata{InputShape: []int64{1, 12}}, nil)

	_, err := m.Predict(context.Background(), sampleVector())

	var ierr *InferenceError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "validate input", ierr.Op)
	assert.Equal(t, 0, session.CallCount(), "session must not run on a width mismatch")
}

func TestModel_PredictSessionFailure(t *testing.T) {
	cause := errors.New("runtime exploded")
	metrics := &MockMetrics{}
	m := NewModel(&StaticSession{Err: cause}, ModelMetadata{}, metrics)

	_, err := m.Predict(context.Background(), sampleVector())

	var ierr *InferenceError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "run", ierr.Op)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, metrics.failures)
	assert.Equal(t, 0, metrics.timeouts)
}

func TestModel_PredictTimeoutCounted(t *testing.T) {
	metrics := &MockMetrics{}
	timeout := errors.Join(errors.New("inference timed out"), context.DeadlineExceeded)
	m := NewModel(&StaticSession{Err: timeout}, ModelMetadata{}, metrics)

	_, err := m.Predict(context.Background(), sampleVector())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, metrics.timeouts)
}

func TestModel_NilMetricsSafe(t *testing.T) {
	m := NewModel(&StaticSession{Err: errors.New("boom")}, ModelMetadata{}, nil)
	_, err := m.Predict(context.Background(), sampleVector())
	assert.Error(t, err)
}

func TestModel_Defaults(t *testing.T) {
	m := NewModel(&StaticSession{}, ModelMetadata{}, nil)

	assert.Equal(t, DefaultVersion, m.Version())
	assert.Equal(t, TrainedFeatureNames, m.FeatureNames())
	assert.Len(t, m.FeatureNames(), features.Size)
	assert.Equal(t, features.Size, m.Metadata().InputWidth())
	assert.False(t, m.LoadedAt().IsZero())
	assert.NoError(t, m.Close())
}

func TestModel_FeatureStatsUpdated(t *testing.T) {
	m := NewModel(&StaticSession{Output: []float32{0.3, 0.4, 0.3}}, ModelMetadata{}, nil)
	v := sampleVector()

	for i := 0; i < 3; i++ {
		_, err := m.Predict(context.Background(), v)
		require.NoError(t, err)
	}

	snap := m.Stats().Snapshot()
	require.Len(t, snap, features.Size)
	assert.Equal(t, "home_xg", snap[0].Name)
	assert.Equal(t, int64(3), snap[0].UsageCount)
	assert.InDelta(t, 2.1, snap[0].AverageValue, 1e-9)
}

func TestToProbabilities_WithinTolerance(t *testing.T) {
	probs, err := toProbabilities([]float32{0.333, 0.333, 0.333})
	require.NoError(t, err)
	outcome, _ := prediction.Decide(probs)
	assert.Equal(t, prediction.Draw, outcome)
}

func TestLoad_MissingModelIsFatal(t *testing.T) {
	_, err := Load(Config{ModelPath: filepath.Join(t.TempDir(), "missing.onnx"), Timeout: time.Second}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model file")
}

func TestLoadModelMetadata(t *testing.T) {
	tests := []struct {
		name         string
		metadataFile string
		wantErr      bool
	}{
		{"primary metadata file", "model_metadata.json", false},
		{"timestamped metadata", "model_metadata_20250101.json", false},
		{"no metadata file", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			modelPath := filepath.Join(dir, "predictor.onnx")

			if tt.metadataFile != "" {
				md := ModelMetadata{
					Version:    "v2.1",
					TrainedAt:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
					Features:   TrainedFeatureNames,
					Accuracy:   0.54,
					InputShape: []int64{1, 16},
				}
				data, err := json.Marshal(md)
				require.NoError(t, err)
				require.NoError(t, os.WriteFile(filepath.Join(dir, tt.metadataFile), data, 0o644))
			}

			md, err := loadModelMetadata(modelPath)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "v2.1", md.Version)
			assert.Equal(t, 16, md.InputWidth())
			assert.Len(t, md.Features, 16)
		})
	}
}

func TestDecodeMetadata_FillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model_metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"accuracy": 0.5}`), 0o644))

	md, err := decodeMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, md.Version)
	assert.Equal(t, TrainedFeatureNames, md.Features)
}

func TestResolveVersion(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "predictor.onnx")

	assert.Equal(t, DefaultVersion, ResolveVersion(Config{ModelPath: modelPath}))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "model_metadata.json"), []byte(`{"version": "v2.3"}`), 0o644))
	assert.Equal(t, "v2.3", ResolveVersion(Config{ModelPath: modelPath}))
	assert.Equal(t, "v3.0", ResolveVersion(Config{ModelPath: modelPath, Version: "v3.0"}))
}

func TestCreateInferenceScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "onnx_inference_embedded.py")
	require.NoError(t, createInferenceScript(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100, "script should be executable")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "onnxruntime")
	assert.NotContains(t, string(data), "p / prob_sum", "script must not renormalize")
}

func TestLocateScript_PrefersShippedScript(t *testing.T) {
	dir := t.TempDir()
	shipped := filepath.Join(dir, "onnx_inference.py")
	require.NoError(t, os.WriteFile(shipped, []byte("#!/usr/bin/env python3\n"), 0o755))

	got, err := locateScript(filepath.Join(dir, "predictor.onnx"))
	require.NoError(t, err)
	assert.Equal(t, shipped, got)
}

func TestLocateScript_WritesEmbedded(t *testing.T) {
	dir := t.TempDir()
	got, err := locateScript(filepath.Join(dir, "predictor.onnx"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "onnx_inference_embedded.py"), got)
}
