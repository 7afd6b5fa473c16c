// Package metrics defines the Prometheus instruments for the protocol engines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveGatewaySessions counts live per-user gateway actors.
	ActiveGatewaySessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_sessions_active",
		Help: "Number of live Discord gateway sessions",
	})

	// VoiceJoinsTotal tracks join outcomes: ok, failed, superseded, timeout, lost.
	VoiceJoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_joins_total",
		Help: "Voice join requests by outcome",
	}, []string{"outcome"})

	// QrFlowsTotal tracks remote-auth flows by terminal status.
	QrFlowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_auth_flows_total",
		Help: "Remote-auth QR flows by terminal status",
	}, []string{"status"})
)
