package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FeatureStat is the running distribution of one input column across
// every successful prediction.
type FeatureStat struct {
	Name              string    `json:"name"`
	UsageCount        int64     `json:"usage_count"`
	AverageValue      float64   `json:"average_value"`
	StandardDeviation float64   `json:"standard_deviation"`
	MinValue          float64   `json:"min_value"`
	MaxValue          float64   `json:"max_value"`
	LastUpdated       time.Time `json:"last_updated"`

	m2 float64 // sum of squared deviations (Welford)
}

// FeatureStats tracks input columns seen by the model. It is used for the
// diagnostics endpoint and for spotting input drift by eye.
type FeatureStats struct {
	mu    sync.RWMutex
	names []string
	data  map[string]*FeatureStat
}

func NewFeatureStats(names []string) *FeatureStats {
	fs := &FeatureStats{
		names: append([]string(nil), names...),
		data:  make(map[string]*FeatureStat, len(names)),
	}
	for _, name := range names {
		fs.data[name] = &FeatureStat{Name: name}
	}
	return fs
}

// Observe folds one input row into the statistics. Extra columns are ignored.
func (fs *FeatureStats) Observe(row []float64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := time.Now()
	for i, value := range row {
		if i >= len(fs.names) {
			break
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		st := fs.data[fs.names[i]]

		st.UsageCount++
		if st.UsageCount == 1 {
			st.MinValue, st.MaxValue = value, value
		} else {
			st.MinValue = math.Min(st.MinValue, value)
			st.MaxValue = math.Max(st.MaxValue, value)
		}

		delta := value - st.AverageValue
		st.AverageValue += delta / float64(st.UsageCount)
		st.m2 += delta * (value - st.AverageValue)
		if st.UsageCount > 1 {
			st.StandardDeviation = math.Sqrt(st.m2 / float64(st.UsageCount-1))
		}
		st.LastUpdated = now
	}
}

// Snapshot returns a copy of the statistics in column order.
func (fs *FeatureStats) Snapshot() []FeatureStat {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]FeatureStat, 0, len(fs.names))
	for _, name := range fs.names {
		out = append(out, *fs.data[name])
	}
	return out
}

// Save writes the statistics as JSON so they survive restarts.
func (fs *FeatureStats) Save(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(fs.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Load restores statistics written by Save. A missing file is not an error.
// Only columns known to this tracker are restored.
func (fs *FeatureStats) Load(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var saved []FeatureStat
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("decode feature stats: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, st := range saved {
		cur, ok := fs.data[st.Name]
		if !ok {
			continue
		}
		*cur = st
		if st.UsageCount > 1 {
			cur.m2 = st.StandardDeviation * st.StandardDeviation * float64(st.UsageCount-1)
		}
	}
	return nil
}

// Reset clears all statistics.
func (fs *FeatureStats) Reset() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for name := range fs.data {
		fs.data[name] = &FeatureStat{Name: name}
	}
}
