package signaling

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	roomsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blueprint_relay_rooms",
		Help: "Rooms with at least one connected peer",
	})

	peersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blueprint_relay_peers",
		Help: "Connected peers across all rooms",
	})

	relayedMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blueprint_relay_messages_total",
		Help: "Messages received from peers, by message type",
	}, []string{"type"})

	storedUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blueprint_relay_stored_updates_total",
		Help: "Document updates appended to the relay log",
	})

	droppedPeersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blueprint_relay_dropped_peers_total",
		Help: "Peers disconnected because their send buffer was full",
	})
)
