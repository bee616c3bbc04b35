// Package metrics provides Prometheus metrics for the zvolcsi storage
// agent and CSI driver, in the same promauto/CounterVec/HistogramVec style
// throughout both processes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "zvolcsi"

// Agent RPC operation names, shared by internal/agentsvc and
// internal/agentclient so their metrics use the same label values.
const (
	OpCreateVolume   = "CreateVolume"
	OpDeleteVolume   = "DeleteVolume"
	OpExpandVolume   = "ExpandVolume"
	OpGetVolume      = "GetVolume"
	OpListVolumes    = "ListVolumes"
	OpCreateSnapshot = "CreateSnapshot"
	OpDeleteSnapshot = "DeleteSnapshot"
	OpGetSnapshot    = "GetSnapshot"
	OpListSnapshots  = "ListSnapshots"
	OpGetCapacity    = "GetCapacity"
)

// CSI-facing operation names, used by pkg/driver.
const (
	OpCSICreateVolume               = "CreateVolume"
	OpCSIDeleteVolume               = "DeleteVolume"
	OpCSIControllerExpandVolume     = "ControllerExpandVolume"
	OpCSIValidateVolumeCapabilities = "ValidateVolumeCapabilities"
	OpCSIListVolumes                = "ListVolumes"
	OpCSIGetCapacity                = "GetCapacity"
	OpCSICreateSnapshot             = "CreateSnapshot"
	OpCSIDeleteSnapshot             = "DeleteSnapshot"
	OpCSIListSnapshots              = "ListSnapshots"
	OpCSINodeStageVolume            = "NodeStageVolume"
	OpCSINodeUnstageVolume          = "NodeUnstageVolume"
	OpCSINodePublishVolume          = "NodePublishVolume"
	OpCSINodeUnpublishVolume        = "NodeUnpublishVolume"
	OpCSINodeExpandVolume           = "NodeExpandVolume"
	OpCSIGetPluginInfo              = "GetPluginInfo"
	OpCSIGetPluginCapabilities      = "GetPluginCapabilities"
	OpCSIProbe                      = "Probe"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

const (
	KindISCSI  = "iscsi"
	KindNVMeOF = "nvmeof"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of RPC operations by operation and status.",
		},
		[]string{"operation", "status"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of RPC operations in seconds by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"operation"},
	)

	connectionAttemptsSuccess = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_attempts_success_total",
			Help:      "Total number of successful Agent connection (re-)establishments.",
		},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of Agent client retries by operation.",
		},
		[]string{"operation"},
	)

	rateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected because the concurrency permit was saturated, by operation.",
		},
		[]string{"operation"},
	)

	agentConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_connected",
			Help:      "Whether the CSI controller currently holds a live Agent connection (1) or not (0).",
		},
	)

	concurrentOps = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "concurrent_ops",
			Help:      "Number of Agent write RPCs currently holding a concurrency permit.",
		},
	)

	volumesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "volumes_total",
			Help:      "Total number of volumes known to the Agent.",
		},
	)

	exportsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Total number of active exports by kind.",
		},
		[]string{"kind"},
	)

	poolHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_healthy",
			Help:      "Whether the backing zpool is healthy (1) or degraded/faulted (0).",
		},
	)
)

// RecordOperation increments the operations counter and observes latency
// for a completed RPC.
func RecordOperation(operation, status string, duration time.Duration) {
	operationsTotal.WithLabelValues(operation, status).Inc()
	operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRetry increments the retry counter for operation.
func RecordRetry(operation string) {
	retriesTotal.WithLabelValues(operation).Inc()
}

// RecordRateLimited increments the rate-limited counter for operation.
func RecordRateLimited(operation string) {
	rateLimitedTotal.WithLabelValues(operation).Inc()
}

// RecordConnectionSuccess increments the successful-connection counter.
func RecordConnectionSuccess() {
	connectionAttemptsSuccess.Inc()
}

// SetAgentConnected reports the CSI controller's cached-connection state.
func SetAgentConnected(connected bool) {
	if connected {
		agentConnected.Set(1)
		return
	}
	agentConnected.Set(0)
}

// SetConcurrentOps reports the current semaphore occupancy.
func SetConcurrentOps(n int) {
	concurrentOps.Set(float64(n))
}

// SetVolumesTotal reports the current volume count.
func SetVolumesTotal(n int) {
	volumesTotal.Set(float64(n))
}

// SetExportsTotal reports the current export count for kind.
func SetExportsTotal(kind string, n int) {
	exportsTotal.WithLabelValues(kind).Set(float64(n))
}

// SetPoolHealthy reports the backing zpool's health.
func SetPoolHealthy(healthy bool) {
	if healthy {
		poolHealthy.Set(1)
		return
	}
	poolHealthy.Set(0)
}

// OperationTimer measures one in-flight operation and records it on
// ObserveSuccess/ObserveError.
type OperationTimer struct {
	operation string
	start     time.Time
}

// NewOperationTimer starts timing operation.
func NewOperationTimer(operation string) *OperationTimer {
	return &OperationTimer{operation: operation, start: time.Now()}
}

// ObserveSuccess records the elapsed duration with StatusSuccess.
func (t *OperationTimer) ObserveSuccess() {
	RecordOperation(t.operation, StatusSuccess, time.Since(t.start))
}

// ObserveError records the elapsed duration with StatusError.
func (t *OperationTimer) ObserveError() {
	RecordOperation(t.operation, StatusError, time.Since(t.start))
}
