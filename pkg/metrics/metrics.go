// Package metrics registers the Prometheus collectors for the DM relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gin-gonic/gin"
)

var (
	// ConnectedClients tracks currently registered WebSocket connections
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "spotlight",
		Subsystem: "dm",
		Name:      "connected_clients",
		Help:      "Number of WebSocket clients currently connected to the relay.",
	})

	// MessagesRelayed counts frames delivered to a recipient connection
	MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spotlight",
		Subsystem: "dm",
		Name:      "messages_relayed_total",
		Help:      "Total DM frames routed to an online recipient.",
	})

	// MessagesOffline counts frames persisted while the recipient was offline
	MessagesOffline = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spotlight",
		Subsystem: "dm",
		Name:      "messages_offline_total",
		Help:      "Total DM frames persisted with no recipient connection online.",
	})

	// MessagesDropped counts frames discarded because the recipient's send
	// queue was full and the connection was dropped
	MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spotlight",
		Subsystem: "dm",
		Name:      "messages_dropped_total",
		Help:      "Total DM frames discarded dropping a slow consumer connection.",
	})

	// MalformedFrames counts inbound frames dropped during decode/validation
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spotlight",
		Subsystem: "dm",
		Name:      "malformed_frames_total",
		Help:      "Total inbound WebSocket frames dropped as malformed or invalid.",
	})

	// HistoryRequests counts history fetches by cache outcome
	HistoryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spotlight",
		Subsystem: "dm",
		Name:      "history_requests_total",
		Help:      "Total conversation history requests by cache outcome.",
	}, []string{"source"})
)

// Handler returns a gin handler serving the Prometheus scrape endpoint
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
