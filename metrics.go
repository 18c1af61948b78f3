package petnotify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "petnotify_frames_received_total",
		Help: "Total number of decoded inbound frames by message kind",
	}, []string{"kind"})

	FramesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "petnotify_frames_dropped_total",
		Help: "Total number of inbound frames dropped by reason",
	}, []string{"reason"})

	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "petnotify_reconnect_attempts_total",
		Help: "Total number of scheduled reconnect attempts",
	})

	ConnectionExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "petnotify_connection_exhausted_total",
		Help: "Total number of times the supervisor gave up, by reason",
	}, []string{"reason"})

	ListenerPanicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "petnotify_listener_panics_total",
		Help: "Total number of recovered subscriber panics by topic",
	}, []string{"topic"})

	NativeNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "petnotify_native_notifications_total",
		Help: "Native notification outcomes (shown, denied, suppressed, failed)",
	}, []string{"outcome"})

	ConnectionStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "petnotify_connection_state",
		Help: "1 for the current connection state of the most recently transitioned engine",
	}, []string{"state"})
)

var allStates = []ConnectionState{StateDisconnected, StateConnecting, StateOpen, StateClosing, StateFailed}

func observeState(s ConnectionState) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		ConnectionStateGauge.WithLabelValues(string(st)).Set(v)
	}
}

func incDropped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	FramesDroppedTotal.WithLabelValues(reason).Inc()
}
