// Package signaling is the relay that brokers sync messages between peers
// editing the same blueprint.
package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"blueprint-sync/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"
)

/*
LEARNING: RELAY HUB

One room per blueprint id. The hub goroutine owns membership changes and
delivery, so a room is never mutated while a message is being fanned out.

  register   → add peer, announce Join, replay cached presence to it
  unregister → remove peer, announce Leave, drop its presence
  broadcast  → deliver to every peer in the room (or the addressed one)

Peers that cannot keep up are dropped on the spot; their clients
reconnect and resync through the handshake.

Join and Leave are published to the fanout from a separate worker so a
slow Redis never stalls the loop.
*/

// RelayID is the From/To address of the relay itself
const RelayID = "relay"

// DefaultIdleTimeout closes peers that stopped answering pings
const DefaultIdleTimeout = 5 * time.Minute

// Options configures a Hub. All fields are optional.
type Options struct {
	Store        UpdateStore
	Fanout       Fanout
	CompactEvery int
	IdleTimeout  time.Duration
}

// Hub manages all relay rooms
type Hub struct {
	rooms      map[string]map[*Peer]bool // blueprintID -> peers
	register   chan *Peer
	unregister chan *Peer
	broadcast  chan *envelope
	mu         sync.RWMutex

	// Presence messages, replayed to newcomers
	awareness map[string]map[string][]byte // blueprintID -> clientID -> encoded message
	awareMu   sync.RWMutex

	log        *updateLog
	fanout     Fanout
	outbound   chan *envelope
	instanceID string
	idle       time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

type envelope struct {
	room   string
	to     string
	data   []byte
	sender *Peer
}

// NewHub creates a hub. Call Start before serving peers.
func NewHub(opts Options) *Hub {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	h := &Hub{
		rooms:      make(map[string]map[*Peer]bool),
		register:   make(chan *Peer),
		unregister: make(chan *Peer),
		broadcast:  make(chan *envelope, 256),
		awareness:  make(map[string]map[string][]byte),
		fanout:     opts.Fanout,
		outbound:   make(chan *envelope, 256),
		instanceID: ksuid.New().String(),
		idle:       opts.IdleTimeout,
		done:       make(chan struct{}),
	}
	if opts.Store != nil {
		h.log = newUpdateLog(opts.Store, opts.CompactEvery)
	}
	return h
}

// Start begins the hub event loop
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("🔄 Starting relay hub...")

	go func() {
		for {
			select {
			case <-h.done:
				return
			case peer := <-h.register:
				h.handleRegister(peer)
			case peer := <-h.unregister:
				h.handleUnregister(peer)
			case env := <-h.broadcast:
				h.deliver(env)
			}
		}
	}()

	if h.fanout != nil {
		go h.publishLoop()
		go func() {
			err := h.fanout.Subscribe(ctx, h.handleRemote)
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("⚠️  Fanout subscription ended")
			}
		}()
	}

	go h.cleanupLoop()

	log.Info().Str("instance", h.instanceID).Msg("✓ Relay hub started")
}

func (h *Hub) handleRegister(peer *Peer) {
	h.mu.Lock()
	room := h.rooms[peer.BlueprintID]
	if room == nil {
		room = make(map[*Peer]bool)
		h.rooms[peer.BlueprintID] = room
		roomsGauge.Inc()
	}
	room[peer] = true
	size := len(room)
	h.mu.Unlock()
	peersGauge.Inc()

	log.Info().
		Str("session", peer.ID).
		Str("blueprint", peer.BlueprintID).
		Str("client", peer.ClientID).
		Int("peers", size).
		Msg("  Peer joined")

	join := &models.Message{Type: models.MessageTypeJoin, From: peer.ClientID, Payload: userPayload(peer)}
	if data, err := json.Marshal(join); err == nil {
		h.deliver(&envelope{room: peer.BlueprintID, data: data, sender: peer})
		h.queuePublish(peer.BlueprintID, data)
	}

	// Current presence of everyone already in the room
	h.awareMu.RLock()
	for clientID, data := range h.awareness[peer.BlueprintID] {
		if clientID == peer.ClientID {
			continue
		}
		h.trySend(peer, data)
	}
	h.awareMu.RUnlock()
}

func (h *Hub) handleUnregister(peer *Peer) {
	if !h.remove(peer) {
		return
	}

	h.awareMu.Lock()
	if aware, ok := h.awareness[peer.BlueprintID]; ok {
		delete(aware, peer.ClientID)
		if len(aware) == 0 {
			delete(h.awareness, peer.BlueprintID)
		}
	}
	h.awareMu.Unlock()

	leave := &models.Message{Type: models.MessageTypeLeave, From: peer.ClientID, Payload: userPayload(peer)}
	if data, err := json.Marshal(leave); err == nil {
		h.deliver(&envelope{room: peer.BlueprintID, data: data})
		h.queuePublish(peer.BlueprintID, data)
	}
}

// remove drops peer from its room and closes its queue. Only called from the hub loop.
func (h *Hub) remove(peer *Peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[peer.BlueprintID]
	if !ok || !room[peer] {
		return false
	}
	delete(room, peer)
	close(peer.Send)
	peersGauge.Dec()

	if len(room) == 0 {
		delete(h.rooms, peer.BlueprintID)
		roomsGauge.Dec()
	}

	log.Info().
		Str("session", peer.ID).
		Str("blueprint", peer.BlueprintID).
		Int("remaining", len(room)).
		Msg("  Peer left")
	return true
}

// deliver runs on the hub loop
func (h *Hub) deliver(env *envelope) {
	h.mu.RLock()
	targets := make([]*Peer, 0, len(h.rooms[env.room]))
	for peer := range h.rooms[env.room] {
		if peer == env.sender {
			continue
		}
		if env.to != "" && peer.ClientID != env.to {
			continue
		}
		targets = append(targets, peer)
	}
	h.mu.RUnlock()

	for _, peer := range targets {
		if !h.trySend(peer, env.data) {
			log.Warn().Str("session", peer.ID).Msg("⚠️  Peer buffer full, closing connection")
			droppedPeersTotal.Inc()
			if h.remove(peer) {
				peer.Conn.Close()
			}
		}
	}
}

// trySend never blocks. Send is only closed on the hub loop, which is
// also the only caller.
func (h *Hub) trySend(peer *Peer, data []byte) bool {
	select {
	case peer.Send <- data:
		return true
	default:
		return false
	}
}

// Broadcast queues data for the peers of room, skipping sender.
// A non-empty to restricts delivery to that client id.
func (h *Hub) Broadcast(room, to string, data []byte, sender *Peer) {
	select {
	case h.broadcast <- &envelope{room: room, to: to, data: data, sender: sender}:
	case <-h.done:
		return
	}
	h.publish(room, to, data)
}

// sendTo delivers straight to one local peer, bypassing the fanout
func (h *Hub) sendTo(peer *Peer, data []byte) {
	select {
	case h.broadcast <- &envelope{room: peer.BlueprintID, to: peer.ClientID, data: data}:
	case <-h.done:
	}
}

// UpdateAwareness caches the last presence message of a client
func (h *Hub) UpdateAwareness(room, clientID string, data []byte, clear bool) {
	h.awareMu.Lock()
	defer h.awareMu.Unlock()

	if clear {
		if aware, ok := h.awareness[room]; ok {
			delete(aware, clientID)
		}
		return
	}
	if h.awareness[room] == nil {
		h.awareness[room] = make(map[string][]byte)
	}
	h.awareness[room][clientID] = data
}

// Peers returns the client ids connected to room on this instance
func (h *Hub) Peers(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.rooms[room]))
	for peer := range h.rooms[room] {
		out = append(out, peer.ClientID)
	}
	return out
}

// RoomCount returns the number of active rooms
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// cleanupLoop periodically removes inactive peers
func (h *Hub) cleanupLoop() {
	ticker := time.NewTicker(h.idle / 10)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.cleanup()
		}
	}
}

// cleanup closes stale connections; their read pumps unregister them
func (h *Hub) cleanup() {
	h.mu.RLock()
	var stale []*Peer
	for _, room := range h.rooms {
		for peer := range room {
			if time.Since(peer.lastActive()) > h.idle {
				stale = append(stale, peer)
			}
		}
	}
	h.mu.RUnlock()

	for _, peer := range stale {
		log.Info().Str("session", peer.ID).Msg("  Cleaning up inactive peer")
		peer.Conn.Close()
	}
}

// Shutdown gracefully closes all connections
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		log.Info().Msg("🛑 Shutting down relay hub...")
		close(h.done)

		h.mu.Lock()
		for _, room := range h.rooms {
			for peer := range room {
				peer.Conn.Close()
			}
		}
		h.rooms = make(map[string]map[*Peer]bool)
		h.mu.Unlock()

		if h.fanout != nil {
			if err := h.fanout.Close(); err != nil {
				log.Warn().Err(err).Msg("⚠️  Failed to close fanout")
			}
		}
		log.Info().Msg("✓ Relay hub shutdown complete")
	})
}

func userPayload(peer *Peer) []byte {
	data, _ := json.Marshal(models.UserInfo{Name: peer.UserName})
	return data
}
