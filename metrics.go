package chatsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "chatsync"

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	EventsDispatched  *prometheus.CounterVec
	DuplicatesDropped prometheus.Counter
	DedupEvictions    prometheus.Counter
	Reconnects        prometheus.Counter
	Connected         prometheus.Gauge
	RESTFallbacks     *prometheus.CounterVec
	OnlinePeers       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_dispatched_total",
			Help:      "Push events handled, by event type.",
		}, []string{"type"}),
		DuplicatesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "duplicate_messages_total",
			Help:      "Re-delivered message events that were ignored.",
		}),
		DedupEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dedup_evictions_total",
			Help:      "Message ids evicted from the dedup store.",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnect_attempts_total",
			Help:      "Dial attempts made after a drop or failed dial.",
		}),
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected",
			Help:      "1 while the push connection is live.",
		}),
		RESTFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rest_fallbacks_total",
			Help:      "Operations completed over REST instead of the push connection.",
		}, []string{"op"}),
		OnlinePeers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "online_peers",
			Help:      "Peers currently reported online.",
		}),
	}
}
