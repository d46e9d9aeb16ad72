// Package metrics provides Prometheus instrumentation for the realtime
// service: gauges for connection and presence state, counters for event
// fan-out, and a histogram for send-pipeline latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of live WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linkhub_realtime_connections",
		Help: "Current number of live WebSocket connections",
	})

	// OnlineUsers tracks the number of distinct users with at least one
	// live connection.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linkhub_realtime_online_users",
		Help: "Current number of distinct online users",
	})

	// PresenceTransitions counts online/offline transitions, labeled by
	// transition direction.
	PresenceTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkhub_realtime_presence_transitions_total",
		Help: "Total number of user online/offline transitions",
	}, []string{"transition"}) // transition = "online", "offline"

	// EventsDelivered counts realtime events written to client handles,
	// labeled by event type.
	EventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkhub_realtime_events_delivered_total",
		Help: "Total number of realtime events delivered to client handles",
	}, []string{"event"}) // event = "newMessage", "messageSent", "messageDeleted", ...

	// MessagesPersisted counts messages successfully written to storage.
	MessagesPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linkhub_realtime_messages_persisted_total",
		Help: "Total number of chat messages persisted",
	})

	// SendLatency records the full send-message pipeline latency (persist
	// through fan-out) in seconds.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "linkhub_realtime_send_latency_seconds",
		Help:    "Send-message pipeline latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// TypingSignals counts relayed typing/stopTyping signals.
	TypingSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkhub_realtime_typing_signals_total",
		Help: "Total number of relayed typing indicator signals",
	}, []string{"signal"}) // signal = "typing", "stopTyping"
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		PresenceTransitions,
		EventsDelivered,
		MessagesPersisted,
		SendLatency,
		TypingSignals,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
