// Package controller schedules the status and health passes of the driver and
// records their Prometheus metrics.
package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/dc-tec/capi-helm-driver/internal/cluster"
)

// Pass kinds used as the "kind" label.
const (
	PassKindStatus = "status"
	PassKindHealth = "health"
)

var (
	passDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "capi_driver",
			Name:      "pass_duration_seconds",
			Help:      "Duration of status and health passes in seconds",
			// Passes are a handful of API reads; the tail covers slow management clusters.
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"kind"},
	)

	passErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capi_driver",
			Name:      "pass_errors_total",
			Help:      "Total number of failed status and health passes",
		},
		[]string{"kind", "reason"},
	)

	clusterStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "capi_driver",
			Name:      "cluster_status",
			Help:      "Current status of a cluster (1 = current status)",
		},
		[]string{"namespace", "name", "status"},
	)

	nodeGroupsDestroyedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "capi_driver",
			Name:      "nodegroups_destroyed_total",
			Help:      "Total number of nodegroup records destroyed after their resources were removed",
		},
	)

	clusterHealthyGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "capi_driver",
			Name:      "cluster_healthy",
			Help:      "Whether the last health poll found the cluster healthy (1), unhealthy (0) or unknown (-1)",
		},
		[]string{"namespace", "name"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		passDurationHistogram,
		passErrorsTotal,
		clusterStatusGauge,
		nodeGroupsDestroyedTotal,
		clusterHealthyGauge,
	)
}

// PassMetrics records pass-level metrics for one pass kind.
type PassMetrics struct {
	kind string
}

// NewPassMetrics creates a new PassMetrics instance.
func NewPassMetrics(kind string) *PassMetrics {
	return &PassMetrics{kind: kind}
}

// ObserveDuration records the duration of a pass in seconds.
func (m *PassMetrics) ObserveDuration(durationSeconds float64) {
	passDurationHistogram.
		WithLabelValues(m.kind).
		Observe(durationSeconds)
}

// IncrementError increments the pass error counter with the given reason.
// Reason values should be low-cardinality strings (for example, "KubernetesAPIError").
func (m *PassMetrics) IncrementError(reason string) {
	passErrorsTotal.
		WithLabelValues(m.kind, reason).
		Inc()
}

// RecordNodeGroupsDestroyed counts destroyed nodegroup records.
func (m *PassMetrics) RecordNodeGroupsDestroyed(n int) {
	nodeGroupsDestroyedTotal.Add(float64(n))
}

var allStatuses = []cluster.Status{
	cluster.StatusCreateInProgress,
	cluster.StatusCreateComplete,
	cluster.StatusCreateFailed,
	cluster.StatusUpdateInProgress,
	cluster.StatusUpdateComplete,
	cluster.StatusUpdateFailed,
	cluster.StatusDeleteInProgress,
	cluster.StatusDeleteComplete,
	cluster.StatusDeleteFailed,
	cluster.StatusRollbackInProgress,
	cluster.StatusRollbackComplete,
	cluster.StatusRollbackFailed,
}

// ClusterMetrics records per-cluster state metrics.
type ClusterMetrics struct {
	namespace string
	name      string
}

// NewClusterMetrics creates a new ClusterMetrics instance.
func NewClusterMetrics(namespace, name string) *ClusterMetrics {
	return &ClusterMetrics{
		namespace: namespace,
		name:      name,
	}
}

// SetStatus sets the gauge of the current status to 1 and drops the series
// of every other status.
func (m *ClusterMetrics) SetStatus(status cluster.Status) {
	for _, s := range allStatuses {
		if s != status {
			clusterStatusGauge.DeleteLabelValues(m.namespace, m.name, string(s))
		}
	}
	clusterStatusGauge.
		WithLabelValues(m.namespace, m.name, string(status)).
		Set(1.0)
}

// SetHealth records the result of a health poll.
func (m *ClusterMetrics) SetHealth(health cluster.HealthStatus) {
	value := -1.0
	switch health {
	case cluster.HealthStatusHealthy:
		value = 1
	case cluster.HealthStatusUnhealthy:
		value = 0
	}
	clusterHealthyGauge.
		WithLabelValues(m.namespace, m.name).
		Set(value)
}

// Clear removes all per-cluster series. Called once a cluster is deleted.
func (m *ClusterMetrics) Clear() {
	for _, s := range allStatuses {
		clusterStatusGauge.DeleteLabelValues(m.namespace, m.name, string(s))
	}
	clusterHealthyGauge.DeleteLabelValues(m.namespace, m.name)
}
