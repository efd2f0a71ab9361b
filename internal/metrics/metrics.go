// Package metrics exposes the Prometheus collectors proxchatd reports
// on its /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the server updates. A zero value is
// not usable; construct with New.
type Metrics struct {
	ConnectionsActive   prometheus.Gauge
	ConnectionsAccepted prometheus.Counter
	ClientsRegistered   prometheus.Gauge
	RelayMessagesTotal  *prometheus.CounterVec
	EvictionsTotal      *prometheus.CounterVec
	NotificationsTotal  prometheus.Counter
}

// New registers every collector against reg and returns the bundle.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "proxchat",
			Name:      "connections_active",
			Help:      "Number of currently open WebSocket connections.",
		}),
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "proxchat",
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted WebSocket connections.",
		}),
		ClientsRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "proxchat",
			Name:      "clients_registered",
			Help:      "Number of client ids currently registered in the world state.",
		}),
		RelayMessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proxchat",
			Name:      "relay_messages_total",
			Help:      "Signaling messages relayed, partitioned by kind and outcome.",
		}, []string{"kind", "outcome"}),
		EvictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proxchat",
			Name:      "evictions_total",
			Help:      "Client registrations removed, partitioned by reason.",
		}, []string{"reason"}),
		NotificationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "proxchat",
			Name:      "notifications_total",
			Help:      "NearbyPeers notifications enqueued.",
		}),
	}
}
