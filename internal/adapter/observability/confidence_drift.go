package observability

import (
	"sync"

	"log/slog"
)

// MetricLowConfidenceShare is the drift metric fed by the contact
// repository: the share of LOW-confidence contacts per persisted batch.
const MetricLowConfidenceShare = "low_confidence_share"

// DriftMonitor is the process-wide monitor. The worker sets its baseline
// from config at startup; the contact repository records batch shares.
var DriftMonitor = NewConfidenceDriftMonitor(20, 0.15)

// ConfidenceDriftMonitor watches per-batch quality signals of persisted
// contacts (for example the share of LOW-confidence results) and flags when
// the recent window drifts away from an operator-set baseline. A sustained
// rise in low-confidence extractions usually means the search evidence or
// the extraction prompt degraded.
type ConfidenceDriftMonitor struct {
	baselines      map[string]float64
	recent         map[string][]float64
	windowSize     int
	driftThreshold float64
	mu             sync.RWMutex
}

// NewConfidenceDriftMonitor creates a monitor averaging the last windowSize
// batch observations per metric and alerting above driftThreshold.
func NewConfidenceDriftMonitor(windowSize int, driftThreshold float64) *ConfidenceDriftMonitor {
	if windowSize <= 0 {
		windowSize = 20
	}
	return &ConfidenceDriftMonitor{
		baselines:      make(map[string]float64),
		recent:         make(map[string][]float64),
		windowSize:     windowSize,
		driftThreshold: driftThreshold,
	}
}

// UpdateBaseline sets the expected value for a metric.
func (m *ConfidenceDriftMonitor) UpdateBaseline(metric string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.baselines[metric] = value
	slog.Info("updated confidence baseline",
		slog.String("metric", metric),
		slog.Float64("value", value))
}

// RecordShare records one batch observation (count out of total) and checks
// for drift once the window is full. total <= 0 is ignored.
func (m *ConfidenceDriftMonitor) RecordShare(metric string, count, total int) {
	if total <= 0 {
		return
	}
	share := float64(count) / float64(total)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recent[metric] == nil {
		m.recent[metric] = make([]float64, 0, m.windowSize)
	}
	m.recent[metric] = append(m.recent[metric], share)
	if len(m.recent[metric]) > m.windowSize {
		m.recent[metric] = m.recent[metric][1:]
	}

	if len(m.recent[metric]) >= m.windowSize {
		drift := m.driftLocked(metric)
		if drift > m.driftThreshold {
			slog.Warn("confidence drift detected",
				slog.String("metric", metric),
				slog.Float64("drift", drift),
				slog.Float64("threshold", m.driftThreshold))
			RecordConfidenceDrift(metric, drift)
		}
	}
}

// Drift returns the current absolute deviation of the recent window average
// from the baseline.
func (m *ConfidenceDriftMonitor) Drift(metric string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.driftLocked(metric)
}

// Baseline returns the configured baseline for a metric.
func (m *ConfidenceDriftMonitor) Baseline(metric string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.baselines[metric]
	return v, ok
}

func (m *ConfidenceDriftMonitor) driftLocked(metric string) float64 {
	baseline, ok := m.baselines[metric]
	if !ok {
		return 0.0
	}
	window := m.recent[metric]
	if len(window) == 0 {
		return 0.0
	}
	avg := 0.0
	for _, v := range window {
		avg += v
	}
	avg /= float64(len(window))

	drift := avg - baseline
	if drift < 0 {
		drift = -drift
	}
	return drift
}
