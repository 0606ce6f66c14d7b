package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_connections_total",
			Help: "Total number of connections accepted",
		},
	)

	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kestrel_connections_current",
			Help: "Current number of live connections",
		},
	)

	ConnectionsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_connections_rejected_total",
			Help: "Connections rejected by the admission ceiling",
		},
	)
)

// Protocol metrics
var (
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_commands_total",
			Help: "Commands dispatched, by verb",
		},
		[]string{"verb"},
	)

	AuthenticationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_authentication_attempts_total",
			Help: "LOGIN attempts, by result",
		},
		[]string{"result"},
	)

	TLSUpgradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_tls_upgrades_total",
			Help: "STARTTLS upgrades, by result",
		},
		[]string{"result"},
	)
)
