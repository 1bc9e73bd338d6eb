package api

import (
	"net/http"

	"github.com/perstream/checkout/monitoring"
)

type HealthHandler struct {
	health *monitoring.HealthService
}

func CreateHealthHandler(health *monitoring.HealthService) *HealthHandler {
	return &HealthHandler{
		health: health,
	}
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.health.GetHealth(r.Context())

	status := http.StatusOK
	if report.Status == monitoring.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

type MetricsResponse struct {
	Metrics map[string]*monitoring.Metric `json:"metrics"`
	System  map[string]float64            `json:"system"`
}

func (h *HealthHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MetricsResponse{
		Metrics: monitoring.GetAllMetrics(),
		System:  monitoring.GetSystemMetrics(),
	})
}
