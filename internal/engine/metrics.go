package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are the engine's Prometheus instruments. With a nil registerer
// they are created but not registered, so tests can build many engines.
type metrics struct {
	drains     prometheus.Counter
	sent       *prometheus.CounterVec
	reconciled *prometheus.CounterVec
	failed     *prometheus.CounterVec
	refreshes  *prometheus.CounterVec
	pending    prometheus.Gauge
	state      prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		drains: f.NewCounter(prometheus.CounterOpts{
			Name: "djsync_engine_drains_total",
			Help: "Drain passes started",
		}),
		sent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "djsync_engine_mutations_sent_total",
			Help: "Queued mutations sent to the server by kind, op and result",
		}, []string{"kind", "op", "result"}),
		reconciled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "djsync_engine_ids_reconciled_total",
			Help: "Temporary ids replaced by server ids",
		}, []string{"kind"}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "djsync_engine_mutations_failed_total",
			Help: "Mutations moved to the failed list by reason",
		}, []string{"reason"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "djsync_engine_refreshes_total",
			Help: "Mirror refreshes from the server by result",
		}, []string{"result"}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "djsync_engine_pending_mutations",
			Help: "Mutations waiting in the queue after the last drain",
		}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Name: "djsync_engine_state",
			Help: "Engine state (0 idle, 1 draining, 2 backoff, 3 auth paused)",
		}),
	}
}
