package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/perstream/checkout/monitoring"
)

func TestHealthHandler_HandleHealth(t *testing.T) {
	t.Run("healthy when all checks pass", func(t *testing.T) {
		health := monitoring.CreateHealthService("test")
		health.AddCheck("redis", func(ctx context.Context) error { return nil })
		handler := CreateHealthHandler(health)

		rec := httptest.NewRecorder()
		handler.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("HandleHealth() status = %d, want %d", rec.Code, http.StatusOK)
		}

		var report monitoring.SystemHealth
		if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if report.Status != monitoring.Healthy {
			t.Errorf("status = %q, want healthy", report.Status)
		}
	})

	t.Run("critical failure returns service unavailable", func(t *testing.T) {
		health := monitoring.CreateHealthService("test")
		health.AddCheck("database", func(ctx context.Context) error { return errors.New("connection refused") })
		handler := CreateHealthHandler(health)

		rec := httptest.NewRecorder()
		handler.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("HandleHealth() status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
	})

	t.Run("degraded sponsor leaves the service serving", func(t *testing.T) {
		health := monitoring.CreateHealthService("test")
		health.AddCheck("redis", func(ctx context.Context) error { return nil })
		health.AddDegradedCheck("paymaster", func(ctx context.Context) error { return errors.New("unreachable") })
		handler := CreateHealthHandler(health)

		rec := httptest.NewRecorder()
		handler.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("HandleHealth() status = %d, want %d when only the sponsor is down", rec.Code, http.StatusOK)
		}

		var report monitoring.SystemHealth
		if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if report.Status != monitoring.Degraded {
			t.Errorf("status = %q, want degraded", report.Status)
		}
		if check, ok := report.Checks["paymaster"]; !ok || check.Status != monitoring.Degraded {
			t.Errorf("paymaster check = %+v, want a degraded entry", check)
		}
	})
}

func TestHealthHandler_HandleMetrics(t *testing.T) {
	monitoring.IncrementCounter("payments_total", map[string]string{"outcome": "success"})

	handler := CreateHealthHandler(monitoring.CreateHealthService("test"))
	rec := httptest.NewRecorder()
	handler.HandleMetrics(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("HandleMetrics() status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp MetricsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Metrics) == 0 {
		t.Error("HandleMetrics() returned no metrics")
	}
	if _, ok := resp.System["goroutines"]; !ok {
		t.Error("HandleMetrics() missing runtime stats")
	}
}
