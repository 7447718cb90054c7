// Package cache is the ephemeral tier in front of durable prediction
// storage. Entries live until their fixture stops being relevant: a fixed
// horizon after kickoff, or after creation when the kickoff is unknown.
package cache

import (
	"context"
	"time"

	"match-predictor/internal/prediction"
)

// DefaultHorizon keeps a prediction around for three days past kickoff.
const DefaultHorizon = 72 * time.Hour

// Cache stores recently used predictions. A miss is reported with ok=false
// and a nil error; errors mean the backend itself failed.
type Cache interface {
	Get(ctx context.Context, key prediction.Key) (p *prediction.Prediction, ok bool, err error)
	Set(ctx context.Context, p *prediction.Prediction) error
	Delete(ctx context.Context, key prediction.Key) error
}

// TTL returns how long p should stay cached as of now. Zero or negative
// means the fixture is no longer relevant and p should not be cached.
func TTL(p *prediction.Prediction, horizon time.Duration, now time.Time) time.Duration {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	anchor := p.CreatedAt
	if p.KickoffAt != nil {
		anchor = *p.KickoffAt
	}
	return anchor.Add(horizon).Sub(now)
}

// Key renders the cache key for a prediction.
func Key(k prediction.Key) string {
	return "prediction:" + k.FixtureID + ":" + k.ModelVersion
}
