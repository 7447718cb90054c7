package ml

import (
	"context"
	"sync"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu               sync.Mutex
	predictions      int
	failures         int
	latencySum       float64
	latencyCount     int
	timeouts         int
	modelAge         float64
	predictionScores []float64
}

func (m *MockMetrics) MLPredictionsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions++
}

func (m *MockMetrics) MLFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *MockMetrics) MLLatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySum += v
	m.latencyCount++
}

func (m *MockMetrics) MLModelAgeSet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelAge = v
}

func (m *MockMetrics) MLPredictionScoresObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictionScores = append(m.predictionScores, v)
}

func (m *MockMetrics) MLTimeoutsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts++
}

// StaticSession is an in-process Session returning fixed output, used in
// tests of packages that sit above the model.
type StaticSession struct {
	mu     sync.Mutex
	Output []float32
	Err    error
	Calls  int
	Last   []float32
}

func (s *StaticSession) Run(ctx context.Context, input []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	s.Last = append([]float32(nil), input...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]float32(nil), s.Output...), nil
}

func (s *StaticSession) Close() error { return nil }

// CallCount is safe to read while the session is in use.
func (s *StaticSession) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls
}
