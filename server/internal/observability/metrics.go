package observability

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects request counters per route and the number of chunks
// delivered to polling clients.
type Metrics struct {
	mu sync.Mutex

	requestTotal    atomic.Int64
	requestFailed   atomic.Int64
	chunksDelivered atomic.Int64

	routes map[string]*RouteMetrics
}

// RouteMetrics represents metrics for a single route.
type RouteMetrics struct {
	requestCount  atomic.Int64
	totalDuration atomic.Int64 // milliseconds
	errorCount    atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{routes: make(map[string]*RouteMetrics)}
}

// RecordRequest records a finished request. Failed means a 5xx response.
func (m *Metrics) RecordRequest(route string, duration time.Duration, failed bool) {
	rm := m.route(route)
	m.requestTotal.Add(1)
	rm.requestCount.Add(1)
	rm.totalDuration.Add(duration.Milliseconds())
	if failed {
		m.requestFailed.Add(1)
		rm.errorCount.Add(1)
	}
}

// RecordChunks records chunks returned by a poll.
func (m *Metrics) RecordChunks(n int) {
	m.chunksDelivered.Add(int64(n))
}

func (m *Metrics) route(route string) *RouteMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	rm, ok := m.routes[route]
	if !ok {
		rm = &RouteMetrics{}
		m.routes[route] = rm
	}
	return rm
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	routes := make([]RouteSnapshot, 0, len(m.routes))
	for route, rm := range m.routes {
		count := rm.requestCount.Load()
		var average int64
		if count > 0 {
			average = rm.totalDuration.Load() / count
		}
		routes = append(routes, RouteSnapshot{
			Route:             route,
			RequestCount:      count,
			ErrorCount:        rm.errorCount.Load(),
			AverageDurationMs: average,
		})
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Route < routes[j].Route })

	return &MetricsSnapshot{
		RequestTotal:    m.requestTotal.Load(),
		RequestFailed:   m.requestFailed.Load(),
		ChunksDelivered: m.chunksDelivered.Load(),
		Routes:          routes,
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	RequestTotal    int64           `json:"requestTotal"`
	RequestFailed   int64           `json:"requestFailed"`
	ChunksDelivered int64           `json:"chunksDelivered"`
	Routes          []RouteSnapshot `json:"routes"`
}

type RouteSnapshot struct {
	Route             string `json:"route"`
	RequestCount      int64  `json:"requestCount"`
	ErrorCount        int64  `json:"errorCount"`
	AverageDurationMs int64  `json:"averageDurationMs"`
}

// SuccessRate returns the success rate as a percentage (0-100).
func (s *MetricsSnapshot) SuccessRate() float64 {
	if s.RequestTotal == 0 {
		return 100.0
	}
	return float64(s.RequestTotal-s.RequestFailed) / float64(s.RequestTotal) * 100.0
}
