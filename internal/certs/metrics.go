package certs

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var caSecretsCreatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "capi_driver",
		Name:      "ca_secrets_created_total",
		Help:      "Total number of CA Secrets created for clusters",
	},
	[]string{"namespace", "kind"},
)

func init() {
	metrics.Registry.MustRegister(caSecretsCreatedTotal)
}

type caMetrics struct {
	namespace string
}

func newCAMetrics(namespace string) *caMetrics {
	return &caMetrics{namespace: namespace}
}

func (m *caMetrics) incrementCreated(kind string) {
	caSecretsCreatedTotal.WithLabelValues(m.namespace, kind).Inc()
}
