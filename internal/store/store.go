// Package store owns prediction records. It combines the ephemeral cache
// with the durable repository and guarantees that a prediction is computed
// at most once per (fixture, model version), however many requests race
// for it.
package store

import (
	"context"
	"errors"
	"fmt"

	"match-predictor/internal/cache"
	"match-predictor/internal/prediction"
	"match-predictor/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces a new prediction for a key that has none yet.
type ComputeFunc func(ctx context.Context) (*prediction.Prediction, error)

// MetricsInterface defines metrics methods needed by the store
type MetricsInterface interface {
	CacheHitInc()
	CacheMissInc()
	ComputationInc()
	ReconciliationInc(correct bool)
}

// Event kinds passed to a Notifier.
const (
	EventCreated    = "created"
	EventReconciled = "reconciled"
)

// Notifier is told about new and reconciled predictions. Notify must not block.
type Notifier interface {
	Notify(kind string, p *prediction.Prediction)
}

// Store is safe for concurrent use.
type Store struct {
	repo     storage.Repository
	cache    cache.Cache
	flights  singleflight.Group
	locks    *keyLocks
	metrics  MetricsInterface
	notifier Notifier
	log      zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

func WithMetrics(m MetricsInterface) Option {
	return func(s *Store) { s.metrics = m }
}

func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// New builds a store over repo. c may be nil to run without a cache tier.
func New(repo storage.Repository, c cache.Cache, opts ...Option) *Store {
	s := &Store{
		repo:  repo,
		cache: c,
		locks: newKeyLocks(),
		log:   log.With().Str("component", "store").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the prediction for key, computing and persisting it
// if none exists. Concurrent callers for the same key share one computation.
//
// If ctx is cancelled while a computation is running, this caller returns
// ctx.Err() but the computation continues and its result is stored.
// A failed or panicking computation stores nothing; the next call tries again.
func (s *Store) GetOrCreate(ctx context.Context, key prediction.Key, compute ComputeFunc) (*prediction.Prediction, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if p, ok := s.cached(ctx, key); ok {
		return p, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(key.String(), func() (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Interface("panic", r).Str("key", key.String()).Msg("Prediction computation panicked")
				err = fmt.Errorf("compute %s panicked: %v", key, r)
			}
		}()
		return s.loadOrCompute(detached, key, compute)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*prediction.Prediction).Clone(), nil
	}
}

func (s *Store) loadOrCompute(ctx context.Context, key prediction.Key, compute ComputeFunc) (*prediction.Prediction, error) {
	unlock := s.locks.lock(key.String())
	p, err := s.repo.Get(ctx, key)
	if err == nil {
		s.fill(ctx, p)
		unlock()
		return p, nil
	}
	unlock()
	if !errors.Is(err, prediction.ErrNotFound) {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ComputationInc()
	}
	computed, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	if computed == nil {
		return nil, fmt.Errorf("compute %s: no prediction returned", key)
	}
	if computed.Key() != key {
		return nil, fmt.Errorf("compute %s: produced prediction for %s", key, computed.Key())
	}

	unlock = s.locks.lock(key.String())
	defer unlock()

	stored, err := s.repo.Create(ctx, computed)
	if err != nil {
		return nil, fmt.Errorf("persist prediction %s: %w", key, err)
	}
	s.fill(ctx, stored)

	if stored.ID == computed.ID {
		s.log.Info().
			Str("fixture_id", key.FixtureID).
			Str("model_version", key.ModelVersion).
			Stringer("predicted", stored.PredictedOutcome).
			Float64("confidence", stored.Confidence).
			Msg("Prediction created")
		s.notify(EventCreated, stored)
	}
	return stored, nil
}

// Get returns an existing prediction without computing one.
func (s *Store) Get(ctx context.Context, key prediction.Key) (*prediction.Prediction, error) {
	if p, ok := s.cached(ctx, key); ok {
		return p, nil
	}

	unlock := s.locks.lock(key.String())
	defer unlock()

	p, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, p)
	return p, nil
}

// Reconcile records the real result of a fixture. Reconciling twice with
// the same outcome leaves the record unchanged; a different outcome
// overwrites the earlier one.
func (s *Store) Reconcile(ctx context.Context, key prediction.Key, actual prediction.Outcome) (*prediction.Prediction, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if !actual.Valid() {
		return nil, fmt.Errorf("invalid outcome %d", int(actual))
	}

	unlock := s.locks.lock(key.String())
	defer unlock()

	p, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	prev := p.ActualOutcome
	if prev != nil && *prev != actual {
		s.log.Warn().
			Str("fixture_id", key.FixtureID).
			Str("model_version", key.ModelVersion).
			Stringer("previous", *prev).
			Stringer("actual", actual).
			Msg("Reconciliation changed actual outcome")
	}
	if !p.Reconcile(actual) {
		s.fill(ctx, p)
		return p.Clone(), nil
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update prediction %s: %w", key, err)
	}
	s.fill(ctx, p)

	if s.metrics != nil {
		s.metrics.ReconciliationInc(*p.WasCorrect)
	}
	s.log.Info().
		Str("fixture_id", key.FixtureID).
		Str("model_version", key.ModelVersion).
		Stringer("predicted", p.PredictedOutcome).
		Stringer("actual", actual).
		Bool("correct", *p.WasCorrect).
		Msg("Prediction reconciled")
	s.notify(EventReconciled, p)

	return p.Clone(), nil
}

// Accuracy summarises reconciled predictions of one model version.
func (s *Store) Accuracy(ctx context.Context, modelVersion string) (prediction.Accuracy, error) {
	return storage.Summarize(ctx, s.repo, modelVersion)
}

// cached treats cache failures as misses; the durable tier is authoritative.
func (s *Store) cached(ctx context.Context, key prediction.Key) (*prediction.Prediction, bool) {
	if s.cache == nil {
		return nil, false
	}
	p, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key.String()).Msg("Cache read failed")
	}
	if ok {
		if s.metrics != nil {
			s.metrics.CacheHitInc()
		}
		return p, true
	}
	if s.metrics != nil {
		s.metrics.CacheMissInc()
	}
	return nil, false
}

func (s *Store) fill(ctx context.Context, p *prediction.Prediction) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, p); err != nil {
		s.log.Warn().Err(err).Str("key", p.Key().String()).Msg("Cache write failed")
	}
}

func (s *Store) notify(kind string, p *prediction.Prediction) {
	if s.notifier != nil {
		s.notifier.Notify(kind, p.Clone())
	}
}
