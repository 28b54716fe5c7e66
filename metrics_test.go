package pipa

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewMetricsCollectorWithRegistry(registry)

	if collector == nil {
		t.Fatal("NewMetricsCollectorWithRegistry() returned nil")
	}
	if collector.requestsTotal == nil {
		t.Error("requestsTotal metric not initialized")
	}
	if collector.requestDuration == nil {
		t.Error("requestDuration metric not initialized")
	}
	if collector.requestsInFlight == nil {
		t.Error("requestsInFlight metric not initialized")
	}
	if collector.retriesTotal == nil {
		t.Error("retriesTotal metric not initialized")
	}
	if collector.retryBudgetExceeded == nil {
		t.Error("retryBudgetExceeded metric not initialized")
	}
	if collector.circuitBreakerState == nil {
		t.Error("circuitBreakerState metric not initialized")
	}
	if collector.rateLimiterTokens == nil {
		t.Error("rateLimiterTokens metric not initialized")
	}
	if collector.tokenRefreshes == nil {
		t.Error("tokenRefreshes metric not initialized")
	}
	if collector.errorsTotal == nil {
		t.Error("errorsTotal metric not initialized")
	}
	if collector.GetRegistry() != registry {
		t.Error("Expected GetRegistry() to return the supplied registry")
	}
}

func TestMetricsRecording(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordRequest("GET", "api.example.com/items", 200, 15*time.Millisecond)
	mc.RecordRequestStart("GET", "api.example.com/items")
	mc.RecordRequestEnd("GET", "api.example.com/items")
	mc.RecordRetry("GET", "api.example.com/items", 1)
	mc.RecordRetryBudgetExceeded("api.example.com/items")
	mc.RecordCircuitBreakerState("api.example.com", StateHalfOpen)
	mc.RecordRateLimiterTokens("api.example.com", 42)
	mc.RecordTokenRefresh("scope-a scope-b", "ok")
	mc.RecordError(ErrorTypeTimeout, "GET", "api.example.com/items")

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() returned error: %v", err)
	}

	expected := map[string]bool{
		"pipa_requests_total":              false,
		"pipa_request_duration_seconds":    false,
		"pipa_retries_total":               false,
		"pipa_retry_budget_exceeded_total": false,
		"pipa_circuit_breaker_state":       false,
		"pipa_rate_limiter_tokens":         false,
		"pipa_token_refreshes_total":       false,
		"pipa_errors_total":                false,
	}
	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, seen := range expected {
		if !seen {
			t.Errorf("Expected metric family %s to be present", name)
		}
	}
}

func TestMetricsCircuitBreakerStateValues(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordCircuitBreakerState("svc", StateOpen)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() returned error: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "pipa_circuit_breaker_state" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if v := m.GetGauge().GetValue(); v != 1 {
				t.Errorf("Expected gauge=1 for open state, got %v", v)
			}
		}
		return
	}
	t.Error("pipa_circuit_breaker_state not found")
}

func TestMetricsNilReceiverSafe(t *testing.T) {
	var mc *MetricsCollector

	mc.RecordRequest("GET", "endpoint", 200, time.Millisecond)
	mc.RecordRequestStart("GET", "endpoint")
	mc.RecordRequestEnd("GET", "endpoint")
	mc.RecordRetry("GET", "endpoint", 1)
	mc.RecordRetryBudgetExceeded("endpoint")
	mc.RecordCircuitBreakerState("name", StateOpen)
	mc.RecordRateLimiterTokens("name", 1)
	mc.RecordTokenRefresh("scope", "ok")
	mc.RecordError(ErrorTypeConnection, "GET", "endpoint")

	if mc.GetRegistry() != nil {
		t.Error("Expected nil registry from nil collector")
	}
}

func TestRecordRetryBudgetExceededHostLabel(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordRetryBudgetExceeded("api.example.com/v1/items")

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() returned error: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "pipa_retry_budget_exceeded_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "host" && label.GetValue() != "api.example.com" {
					t.Errorf("Expected host label api.example.com, got %s", label.GetValue())
				}
			}
		}
	}
}
