// Package metrics holds the Prometheus collectors exported on the bridge's
// /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CommandsTotal counts handled commands by action and outcome.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabgrouper_commands_total",
			Help: "Commands handled, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// StoreWritesTotal counts full-record writes to the store.
	StoreWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabgrouper_store_writes_total",
			Help: "Record writes to the persistent store, by result",
		},
		[]string{"result"},
	)

	// MenuRebuildsTotal counts context-menu rebuilds.
	MenuRebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabgrouper_menu_rebuilds_total",
			Help: "Context menu rebuilds",
		},
	)

	// BridgePeers tracks connected bridge peers by surface.
	BridgePeers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tabgrouper_bridge_peers",
			Help: "Connected bridge peers, by surface",
		},
		[]string{"surface"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
