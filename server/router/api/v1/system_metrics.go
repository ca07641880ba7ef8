package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// MetricsOverviewResponse represents the overview response of system metrics
type MetricsOverviewResponse struct {
	TotalRequests   int64   `json:"total_requests"`
	SuccessRate     float64 `json:"success_rate"`
	AvgLatencyMs    int64   `json:"avg_latency_ms"`
	ErrorCount      int64   `json:"error_count"`
	ChunksDelivered int64   `json:"chunks_delivered"`
}

// GetMetricsOverview returns the request metrics since startup.
// GET /api/v1/system/metrics/overview
func (s *APIV1Service) GetMetricsOverview(c echo.Context) error {
	if s.Metrics == nil {
		return c.JSON(http.StatusOK, MetricsOverviewResponse{SuccessRate: 100})
	}

	snapshot := s.Metrics.Snapshot()
	var totalMs, count int64
	for _, route := range snapshot.Routes {
		totalMs += route.AverageDurationMs * route.RequestCount
		count += route.RequestCount
	}
	var avg int64
	if count > 0 {
		avg = totalMs / count
	}
	return c.JSON(http.StatusOK, MetricsOverviewResponse{
		TotalRequests:   snapshot.RequestTotal,
		SuccessRate:     snapshot.SuccessRate(),
		AvgLatencyMs:    avg,
		ErrorCount:      snapshot.RequestFailed,
		ChunksDelivered: snapshot.ChunksDelivered,
	})
}
