package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the security-core Prometheus collectors. The degraded
// gauge matters operationally: while it reads 1, refresh-token reuse cannot
// be detected, and readiness reports the store as degraded instead of hiding
// the gap.
type Metrics struct {
	TokenReuseDetected   prometheus.Counter
	TokensIssued         prometheus.Counter
	TokensRotated        prometheus.Counter
	AlertsCreated        *prometheus.CounterVec
	AlertsSuppressed     *prometheus.CounterVec
	SessionStoreDegraded prometheus.Gauge
}

// NewMetrics registers the security-core collectors with the provided
// registerer (the default registerer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TokenReuseDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "crmsec",
			Name:      "token_reuse_detected_total",
			Help:      "Total number of refresh-token replay attempts detected.",
		}),
		TokensIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "crmsec",
			Name:      "tokens_issued_total",
			Help:      "Total number of token pairs issued.",
		}),
		TokensRotated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "crmsec",
			Name:      "tokens_rotated_total",
			Help:      "Total number of successful refresh-token rotations.",
		}),
		AlertsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crmsec",
			Name:      "alerts_created_total",
			Help:      "Total number of persisted security alerts by type.",
		}, []string{"alert_type"}),
		AlertsSuppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crmsec",
			Name:      "alerts_suppressed_total",
			Help:      "Total number of alerts suppressed by de-duplication.",
		}, []string{"alert_type"}),
		SessionStoreDegraded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "crmsec",
			Name:      "session_store_degraded",
			Help:      "1 while the session store is unreachable and reuse detection is disabled.",
		}),
	}
}
