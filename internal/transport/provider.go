// Package transport connects a shared document to a relay room over websocket.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"blueprint-sync/internal/crdt"
	"blueprint-sync/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

/*
LEARNING: SYNC HANDSHAKE

  connect    → broadcast SyncStep1(my state vector)
  SyncStep1  → reply SyncStep2(what the sender is missing) to the sender;
               if the step-1 was a broadcast, also ask the sender back
               with a directed SyncStep1
  SyncStep2  → apply, mark synced
  Update     → apply
  local edit → broadcast Update

Remote updates are applied with the provider as origin, so the update
handler can tell them apart from local edits and never echoes them.
*/

// TransportBufferSize is the outbound queue length per connection
const TransportBufferSize = 256

// Status of the relay connection
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	}
	return "unknown"
}

type Settings struct {
	ReconnectTimeout   time.Duration
	WsHandshakeTimeout time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	UserName           string
}

func DefaultSettings() *Settings {
	return &Settings{
		ReconnectTimeout:   5 * time.Second,
		WsHandshakeTimeout: 2 * time.Second,
		PingTimeout:        20 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        60 * time.Second,
	}
}

// Provider keeps one document in sync with the peers of one relay room
type Provider struct {
	signalingURL string
	room         string
	doc          *crdt.Doc
	settings     *Settings
	logger       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	unsubscribe func()

	mu        sync.Mutex
	status    Status
	send      chan []byte
	ws        *websocket.Conn
	peers     map[string]bool
	awareness map[string]*models.AwarenessState
	local     *models.AwarenessState
	synced    chan struct{}
	onStatus  []func(Status)
}

// Connect starts syncing doc with room and returns immediately.
// Dialing, handshakes and reconnects happen in the background.
func Connect(ctx context.Context, signalingURL, room string, doc *crdt.Doc, settings *Settings) *Provider {
	if settings == nil {
		settings = DefaultSettings()
	}

	pctx, cancel := context.WithCancel(ctx)
	p := &Provider{
		signalingURL: strings.TrimRight(signalingURL, "/"),
		room:         room,
		doc:          doc,
		settings:     settings,
		logger:       log.With().Str("room", room).Str("client", doc.ClientID()).Logger(),
		ctx:          pctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		status:       StatusConnecting,
		peers:        make(map[string]bool),
		awareness:    make(map[string]*models.AwarenessState),
		synced:       make(chan struct{}),
	}

	p.unsubscribe = doc.OnUpdate(p.handleLocalUpdate)

	go p.run()
	return p
}

// Room returns the relay room name
func (p *Provider) Room() string {
	return p.room
}

func (p *Provider) roomURL() string {
	q := url.Values{}
	q.Set("client_id", p.doc.ClientID())
	if p.settings.UserName != "" {
		q.Set("user_name", p.settings.UserName)
	}
	return p.signalingURL + "/" + url.PathEscape(p.room) + "?" + q.Encode()
}

func (p *Provider) run() {
	defer close(p.done)
	defer p.setStatus(StatusDisconnected)

	dialer := &websocket.Dialer{HandshakeTimeout: p.settings.WsHandshakeTimeout}

	for {
		ws, _, err := dialer.DialContext(p.ctx, p.roomURL(), nil)
		if err != nil {
			p.logger.Debug().Err(err).Msg("relay unreachable")
			p.setStatus(StatusConnecting)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.settings.ReconnectTimeout):
				continue
			}
		}

		p.serve(ws)

		if p.ctx.Err() != nil {
			return
		}
		p.setStatus(StatusConnecting)
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(p.settings.ReconnectTimeout):
		}
	}
}

// serve runs one connection until it fails or the provider is closed
func (p *Provider) serve(ws *websocket.Conn) {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(p.ctx)
	defer handleCancel()

	send := make(chan []byte, TransportBufferSize)

	// step 1 is the first frame on the wire; edits made meanwhile are
	// either queued behind it or picked up by the peers' step 1 replies
	sv, err := p.doc.EncodeStateVector()
	if err != nil {
		p.logger.Warn().Err(err).Msg("⚠️  Failed to encode state vector")
		return
	}
	step1, err := p.encode(&models.Message{Type: models.MessageTypeSyncStep1, Payload: sv})
	if err != nil {
		return
	}
	send <- step1

	p.mu.Lock()
	p.ws = ws
	p.send = send
	p.peers = make(map[string]bool)
	local := p.local
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.ws = nil
		p.send = nil
		p.peers = make(map[string]bool)
		p.awareness = make(map[string]*models.AwarenessState)
		p.mu.Unlock()
	}()

	go func() {
		defer handleCancel()
		for {
			select {
			case <-handleCtx.Done():
				return
			case message := <-send:
				ws.SetWriteDeadline(time.Now().Add(p.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
					p.logger.Debug().Err(err).Msg("relay write failed")
					return
				}
			case <-time.After(p.settings.PingTimeout):
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.settings.WriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	// unblock ReadMessage when the provider is closed
	go func() {
		<-handleCtx.Done()
		ws.Close()
	}()

	p.setStatus(StatusConnected)
	p.logger.Info().Msg("✓ Connected to relay")

	if local != nil {
		p.sendAwareness(local)
	}

	ws.SetReadDeadline(time.Now().Add(p.settings.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(p.settings.ReadTimeout))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if handleCtx.Err() == nil {
				p.logger.Info().Err(err).Msg("⚠️  Relay connection lost")
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(p.settings.ReadTimeout))

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			p.logger.Warn().Err(err).Msg("⚠️  Dropping malformed relay message")
			continue
		}
		p.handleMessage(&msg)
	}
}

func (p *Provider) handleMessage(msg *models.Message) {
	self := p.doc.ClientID()
	if msg.From == self || (msg.To != "" && msg.To != self) {
		return
	}

	switch msg.Type {
	case models.MessageTypeSyncStep1:
		p.markPeer(msg.From)
		diff, err := p.doc.EncodeStateAsUpdate(msg.Payload)
		if err != nil {
			p.logger.Warn().Err(err).Str("peer", msg.From).Msg("⚠️  Bad state vector")
			return
		}
		p.enqueue(&models.Message{Type: models.MessageTypeSyncStep2, To: msg.From, Payload: diff})

		// a broadcast step-1 comes from a newcomer; ask it for what we lack
		if msg.To == "" {
			if sv, err := p.doc.EncodeStateVector(); err == nil {
				p.enqueue(&models.Message{Type: models.MessageTypeSyncStep1, To: msg.From, Payload: sv})
			}
		}

	case models.MessageTypeSyncStep2, models.MessageTypeUpdate:
		p.markPeer(msg.From)
		if err := p.doc.ApplyUpdate(msg.Payload, p); err != nil {
			p.logger.Warn().Err(err).Str("peer", msg.From).Msg("⚠️  Failed to apply remote update")
			return
		}
		if msg.Type == models.MessageTypeSyncStep2 {
			p.markSynced()
		}

	case models.MessageTypeAwareness:
		var state models.AwarenessState
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &state) != nil {
			p.mu.Lock()
			delete(p.awareness, msg.From)
			p.mu.Unlock()
			return
		}
		p.mu.Lock()
		p.awareness[msg.From] = &state
		p.mu.Unlock()

	case models.MessageTypeJoin:
		p.markPeer(msg.From)

	case models.MessageTypeLeave:
		p.mu.Lock()
		delete(p.peers, msg.From)
		delete(p.awareness, msg.From)
		p.mu.Unlock()

	case models.MessageTypeError:
		p.logger.Warn().Str("error", string(msg.Payload)).Msg("⚠️  Relay reported an error")
	}
}

// handleLocalUpdate broadcasts every update that did not come from the relay
func (p *Provider) handleLocalUpdate(update []byte, origin any) {
	if origin == p {
		return
	}
	p.enqueue(&models.Message{Type: models.MessageTypeUpdate, Payload: update})
}

// enqueue never blocks. While offline messages are dropped; the handshake
// on reconnect carries whatever was missed.
func (p *Provider) enqueue(msg *models.Message) {
	data, err := p.encode(msg)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.send == nil {
		return
	}
	select {
	case p.send <- data:
	default:
		// a full queue means lost updates; reconnecting resyncs everything
		p.logger.Warn().Msg("⚠️  Outbound buffer full, reconnecting")
		if p.ws != nil {
			p.ws.Close()
		}
	}
}

func (p *Provider) encode(msg *models.Message) ([]byte, error) {
	msg.From = p.doc.ClientID()
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Warn().Err(err).Msg("⚠️  Failed to encode relay message")
	}
	return data, err
}

func (p *Provider) markPeer(id string) {
	if id == "" {
		return
	}
	p.mu.Lock()
	p.peers[id] = true
	p.mu.Unlock()
}

func (p *Provider) markSynced() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.synced:
	default:
		close(p.synced)
	}
}

func (p *Provider) setStatus(s Status) {
	p.mu.Lock()
	if p.status == s {
		p.mu.Unlock()
		return
	}
	p.status = s
	handlers := append([]func(Status){}, p.onStatus...)
	p.mu.Unlock()

	for _, h := range handlers {
		h(s)
	}
}

// Status returns the current connection status
func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Connected reports whether the relay socket is currently open
func (p *Provider) Connected() bool {
	return p.Status() == StatusConnected
}

// OnStatus registers a callback for status transitions.
// Callbacks run on the connection goroutine and must not block.
func (p *Provider) OnStatus(fn func(Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStatus = append(p.onStatus, fn)
}

// WhenSynced blocks until the first sync-step-2 arrived or ctx is done
func (p *Provider) WhenSynced(ctx context.Context) error {
	select {
	case <-p.synced:
		return nil
	case <-p.done:
		return errors.New("transport: provider disconnected")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Peers returns the client ids seen in the room since the last (re)connect
func (p *Provider) Peers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.peers))
	for id := range p.peers {
		out = append(out, id)
	}
	return out
}

// SetAwareness publishes this peer's presence state. nil clears it.
func (p *Provider) SetAwareness(state *models.AwarenessState) {
	p.mu.Lock()
	p.local = state
	p.mu.Unlock()
	p.sendAwareness(state)
}

func (p *Provider) sendAwareness(state *models.AwarenessState) {
	var payload []byte
	if state != nil {
		state.ClientID = p.doc.ClientID()
		data, err := json.Marshal(state)
		if err != nil {
			p.logger.Warn().Err(err).Msg("⚠️  Failed to encode awareness")
			return
		}
		payload = data
	}
	p.enqueue(&models.Message{Type: models.MessageTypeAwareness, Payload: payload})
}

// Awareness returns the presence states of the other peers
func (p *Provider) Awareness() map[string]*models.AwarenessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]*models.AwarenessState, len(p.awareness))
	for id, s := range p.awareness {
		out[id] = s
	}
	return out
}

// Disconnect leaves the room for good. Safe to call more than once.
func (p *Provider) Disconnect() {
	p.once.Do(func() {
		p.unsubscribe()
		p.cancel()
		<-p.done
		p.logger.Debug().Msg("provider disconnected")
	})
}
