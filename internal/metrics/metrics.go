package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wa_sessions_active",
		Help: "The current number of sessions with an open connection.",
	})
	SessionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wa_sessions_total",
		Help: "The current number of registered sessions.",
	})
	ConnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_connect_attempts_total",
		Help: "The total number of connection attempts.",
	})
	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_reconnects_total",
		Help: "The total number of scheduled reconnects by close-reason bucket.",
	}, []string{"reason"})

	// Gate metrics
	GateWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wa_gate_waiting",
		Help: "The current number of sessions waiting for an admission slot.",
	})

	// Auth bootstrap metrics
	QRIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_qr_issued_total",
		Help: "The total number of QR challenges cached.",
	})
	PairingCodesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_pairing_codes_issued_total",
		Help: "The total number of pairing codes issued.",
	})

	// Liveness metrics
	HeartbeatFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_heartbeat_failures_total",
		Help: "The total number of failed liveness probes.",
	})

	// Message metrics
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_messages_sent_total",
		Help: "The total number of messages sent successfully.",
	})
	MessagesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_messages_failed_total",
		Help: "The total number of failed sends.",
	}, []string{"reason"})
)
