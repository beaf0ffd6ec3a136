package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chitchat_messages_created_total",
		Help: "Messages persisted, by kind.",
	}, []string{"kind"})

	MessageMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chitchat_message_mutations_total",
		Help: "Edit and delete requests, by operation and outcome.",
	}, []string{"op", "outcome"})

	ReceiptsMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chitchat_receipts_marked_total",
		Help: "New read receipts recorded.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chitchat_events_published_total",
		Help: "Events handed to the bus, by type.",
	}, []string{"type"})

	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chitchat_hub_delivered_events_total",
		Help: "Events queued to connected participants.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chitchat_hub_dropped_events_total",
		Help: "Events dropped because a participant queue was full.",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chitchat_hub_active_rooms",
		Help: "Rooms with at least one connected participant.",
	})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chitchat_gateway_connections",
		Help: "Open websocket connections.",
	})

	ResponderJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chitchat_responder_jobs_total",
		Help: "Background responder jobs, by outcome.",
	}, []string{"outcome"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
