package qgerm

import (
	"math"
	"sync"
	"time"
)

// SearchMetrics accumulates telemetry for one selection run. All engines
// update it under the mutex; a caller may read it concurrently while a
// search is in flight.
type SearchMetrics struct {
	mu sync.RWMutex

	Evaluations     int64 // score computations, cache misses only
	CacheHits       int64
	Trials          int64 // randomized trials dispatched to the pool
	BestScore       float64
	BestSize        int
	StartTime       time.Time
	LastImprovement time.Time
}

func newSearchMetrics() *SearchMetrics {
	return &SearchMetrics{BestScore: math.Inf(1), StartTime: time.Now()}
}

func (m *SearchMetrics) recordEvaluation(cached bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached {
		m.CacheHits++
	} else {
		m.Evaluations++
	}
}

func (m *SearchMetrics) recordTrial() {
	m.mu.Lock()
	m.Trials++
	m.mu.Unlock()
}

func (m *SearchMetrics) recordImprovement(s Score) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Value < m.BestScore || (s.Value == m.BestScore && s.N < m.BestSize) {
		m.BestScore = s.Value
		m.BestSize = s.N
		m.LastImprovement = time.Now()
	}
}

// ExportMetrics returns a snapshot suitable for logging or dashboards.
func (m *SearchMetrics) ExportMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"evaluations":   m.Evaluations,
		"cache_hits":    m.CacheHits,
		"trials":        m.Trials,
		"best_score":    m.BestScore,
		"best_size":     m.BestSize,
		"elapsed_ms":    time.Since(m.StartTime).Milliseconds(),
		"last_improved": m.LastImprovement,
	}
}
