// Package drift compares recent feature values with a fixed baseline.
package drift

import (
	"sort"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Baseline is the reference distribution of one feature.
type Baseline struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// DefaultBaselines are the reference statistics of the monitored features.
func DefaultBaselines() map[string]Baseline {
	return map[string]Baseline{
		"mean_L":         {Mean: 180, Std: 15},
		"ratio_R_G":      {Mean: 1.05, Std: 0.1},
		"vessel_density": {Mean: 0.15, Std: 0.05},
	}
}

// Config holds the window parameters
type Config struct {
	Window     int
	MinSamples int
	Threshold  float64
}

func DefaultConfig() Config {
	return Config{Window: 100, MinSamples: 30, Threshold: 2.0}
}

// Score is the drift state of one feature after an update.
type Score struct {
	Feature    string  `json:"feature"`
	Score      float64 `json:"score"`
	RecentMean float64 `json:"recent_mean"`
	Samples    int     `json:"samples"`
	Drifting   bool    `json:"drifting"`
}

// Monitor keeps a bounded window of recent values per feature. It is safe
// for concurrent use.
type Monitor struct {
	mu        sync.Mutex
	config    Config
	baselines map[string]Baseline
	windows   map[string][]float64
	scores    map[string]Score
	logger    *zap.Logger
}

// New creates a Monitor with the default window and baselines
func New() *Monitor {
	return NewWithConfig(DefaultConfig(), DefaultBaselines())
}

// NewWithConfig creates a Monitor with custom window and baselines
func NewWithConfig(config Config, baselines map[string]Baseline) *Monitor {
	m := &Monitor{
		config:    config,
		baselines: make(map[string]Baseline, len(baselines)),
		windows:   make(map[string][]float64),
		scores:    make(map[string]Score),
		logger:    zap.NewNop(),
	}
	for name, b := range baselines {
		m.baselines[name] = b
	}
	return m
}

func (m *Monitor) SetLogger(l *zap.Logger) {
	if l != nil {
		m.logger = l
	}
}

// SetBaseline registers or replaces the baseline of a feature.
func (m *Monitor) SetBaseline(name string, mean, std float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines[name] = Baseline{Mean: mean, Std: std}
	m.logger.Info("drift baseline set", zap.String("feature", name), zap.Float64("mean", mean), zap.Float64("std", std))
}

// Update appends the values of monitored features to their windows and
// returns the recomputed scores, ordered by feature name. Features without
// a baseline are ignored. A score is only computed once the window holds
// MinSamples values.
func (m *Monitor) Update(values map[string]float64) []Score {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(values))
	for name := range values {
		if _, ok := m.baselines[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []Score
	for _, name := range names {
		w := append(m.windows[name], values[name])
		if len(w) > m.config.Window {
			w = w[len(w)-m.config.Window:]
		}
		m.windows[name] = w

		if len(w) < m.config.MinSamples {
			continue
		}
		base := m.baselines[name]
		recent := stat.Mean(w, nil)
		s := Score{
			Feature:    name,
			RecentMean: recent,
			Samples:    len(w),
			Score:      abs(recent-base.Mean) / (base.Std + 1e-6),
		}
		s.Drifting = s.Score > m.config.Threshold
		m.scores[name] = s
		out = append(out, s)

		if s.Drifting {
			m.logger.Warn("feature drift detected",
				zap.String("feature", name),
				zap.Float64("baseline", base.Mean),
				zap.Float64("recent", recent),
				zap.Float64("score", s.Score))
		}
	}
	return out
}

// Scores returns the latest score of every feature that has one.
func (m *Monitor) Scores() map[string]Score {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Score, len(m.scores))
	for k, v := range m.scores {
		out[k] = v
	}
	return out
}

// Samples returns the current window length of a feature.
func (m *Monitor) Samples(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows[name])
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
