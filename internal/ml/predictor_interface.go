// Package ml wraps the pretrained match outcome classifier.
//
// The classifier itself is opaque: an ONNX export evaluated through
// onnxruntime. This package loads it once at startup, validates every
// output and reports failures as *InferenceError. It never invents a
// prediction when the model cannot produce one.
package ml

import (
	"context"

	"match-predictor/internal/features"
	"match-predictor/internal/prediction"
)

// PredictorInterface is what the prediction pipeline needs from a model.
type PredictorInterface interface {
	// Predict returns class probabilities for one feature vector.
	Predict(ctx context.Context, v features.Vector) (prediction.Probabilities, error)

	// Version names the model; predictions are stored per version.
	Version() string

	// FeatureNames lists the trained input columns in vector order.
	FeatureNames() []string
}

var _ PredictorInterface = (*Model)(nil)
