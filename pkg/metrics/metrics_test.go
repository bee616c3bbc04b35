package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestMetricsAvailability(t *testing.T) {
	RecordOperation(OpCreateVolume, StatusSuccess, 100*time.Millisecond)
	RecordRetry(OpCreateVolume)
	RecordRateLimited(OpCreateVolume)
	RecordConnectionSuccess()
	SetAgentConnected(true)
	SetConcurrentOps(2)
	SetVolumesTotal(5)
	SetExportsTotal(KindISCSI, 3)

	server := httptest.NewServer(promhttp.Handler())
	defer server.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to get metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	content := string(body)
	expectedMetrics := []string{
		"zvolcsi_operations_total",
		"zvolcsi_operation_duration_seconds",
		"zvolcsi_connection_attempts_success_total",
		"zvolcsi_retries_total",
		"zvolcsi_rate_limited_total",
		"zvolcsi_agent_connected",
		"zvolcsi_concurrent_ops",
		"zvolcsi_volumes_total",
		"zvolcsi_exports_total",
	}
	for _, metric := range expectedMetrics {
		if !strings.Contains(content, metric) {
			t.Errorf("Expected metric %s not found in metrics output", metric)
		}
	}
}

func TestRecordOperation(t *testing.T) {
	RecordOperation(OpCreateVolume, StatusSuccess, 100*time.Millisecond)
	RecordOperation(OpDeleteVolume, StatusError, 50*time.Millisecond)
}

func TestRecordRetryAndRateLimited(t *testing.T) {
	RecordRetry(OpGetVolume)
	RecordRateLimited(OpCreateVolume)
}

func TestSetAgentConnected(t *testing.T) {
	SetAgentConnected(true)
	SetAgentConnected(false)
}

func TestConcurrentAndTotals(t *testing.T) {
	SetConcurrentOps(0)
	SetConcurrentOps(7)
	SetVolumesTotal(42)
	SetExportsTotal(KindISCSI, 10)
	SetExportsTotal(KindNVMeOF, 3)
}

func TestOperationTimer(t *testing.T) {
	timer := NewOperationTimer(OpCreateVolume)
	time.Sleep(time.Millisecond)
	timer.ObserveSuccess()

	timer2 := NewOperationTimer(OpDeleteVolume)
	time.Sleep(time.Millisecond)
	timer2.ObserveError()
}

func TestMetricsConstants(t *testing.T) {
	if OpCreateVolume == "" || OpDeleteVolume == "" || OpGetCapacity == "" {
		t.Error("agent operation constants should not be empty")
	}
	if OpCSINodeStageVolume == "" || OpCSIProbe == "" {
		t.Error("CSI operation constants should not be empty")
	}
	if StatusSuccess == StatusError {
		t.Error("StatusSuccess and StatusError must be distinct")
	}
	if KindISCSI == KindNVMeOF {
		t.Error("KindISCSI and KindNVMeOF must be distinct")
	}
}
