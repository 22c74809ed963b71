package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"blueprint-sync/internal/middleware"
	"blueprint-sync/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second

	// SendBufferSize is the outbound queue length per peer
	SendBufferSize = 256
)

// Peer is one websocket connection in a relay room
type Peer struct {
	*models.Session
	Conn *websocket.Conn
	Send chan []byte
	Hub  *Hub

	activeMu sync.Mutex
	active   time.Time
}

// NewPeer wraps an upgraded connection
func NewPeer(hub *Hub, conn *websocket.Conn, session *models.Session) *Peer {
	return &Peer{
		Session: session,
		Conn:    conn,
		Send:    make(chan []byte, SendBufferSize),
		Hub:     hub,
		active:  time.Now(),
	}
}

func (p *Peer) touch() {
	p.activeMu.Lock()
	p.active = time.Now()
	p.activeMu.Unlock()
}

func (p *Peer) lastActive() time.Time {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return p.active
}

// ReadPump reads messages from the WebSocket connection
// Learning: Each peer has its own goroutine reading from the WebSocket
func (p *Peer) ReadPump(ctx context.Context) {
	defer func() {
		select {
		case p.Hub.unregister <- p:
		case <-p.Hub.done:
		}
		p.Conn.Close()
	}()

	p.Conn.SetReadDeadline(time.Now().Add(pongWait))
	p.Conn.SetPongHandler(func(string) error {
		p.Conn.SetReadDeadline(time.Now().Add(pongWait))
		p.touch()
		return nil
	})

	for {
		_, data, err := p.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("session", p.ID).Msg("WebSocket error")
			}
			return
		}
		p.Conn.SetReadDeadline(time.Now().Add(pongWait))
		p.touch()

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			p.sendError("malformed message")
			continue
		}
		p.handleMessage(ctx, &msg)
	}
}

func (p *Peer) handleMessage(ctx context.Context, msg *models.Message) {
	msgCtx, span := middleware.StartSpan(ctx, "Relay.HandleMessage",
		attribute.String("session.id", p.ID),
		attribute.String("blueprint.id", p.BlueprintID),
		attribute.String("message.type", msg.Type.String()),
		attribute.Int("message.size", len(msg.Payload)),
	)
	defer span.End()

	relayedMessagesTotal.WithLabelValues(msg.Type.String()).Inc()

	// The relay vouches for the sender, whatever the client claimed
	msg.From = p.ClientID

	switch msg.Type {
	case models.MessageTypeSyncStep1, models.MessageTypeSyncStep2, models.MessageTypeUpdate, models.MessageTypeAwareness:
	default:
		p.sendError("unsupported message type")
		return
	}

	if ul := p.Hub.log; ul != nil && msg.Type.CarriesUpdate() && (msg.To == "" || msg.To == RelayID) {
		if err := ul.append(msgCtx, p.BlueprintID, msg.Payload, p.ClientID); err != nil {
			middleware.AddSpanError(msgCtx, err)
			logStoreError(err, p)
		}
	}

	if msg.To == RelayID {
		return
	}

	// A broadcast step-1 is a newcomer asking for state; the relay answers
	// from its log in case nobody else is online
	if msg.Type == models.MessageTypeSyncStep1 && msg.To == "" && p.Hub.log != nil {
		p.answerFromLog(msgCtx, msg)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		middleware.AddSpanError(msgCtx, err)
		return
	}

	if msg.Type == models.MessageTypeAwareness {
		p.Hub.UpdateAwareness(p.BlueprintID, p.ClientID, data, len(msg.Payload) == 0)
	}

	p.Hub.Broadcast(p.BlueprintID, msg.To, data, p)
}

func (p *Peer) answerFromLog(ctx context.Context, msg *models.Message) {
	doc, err := p.Hub.log.load(ctx, p.BlueprintID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		logStoreError(err, p)
		return
	}
	defer doc.Destroy()

	diff, err := doc.EncodeStateAsUpdate(msg.Payload)
	if err != nil {
		p.sendError("bad state vector")
		return
	}
	sv, err := doc.EncodeStateVector()
	if err != nil {
		return
	}

	for _, reply := range []*models.Message{
		{Type: models.MessageTypeSyncStep2, From: RelayID, To: p.ClientID, Payload: diff},
		{Type: models.MessageTypeSyncStep1, From: RelayID, To: p.ClientID, Payload: sv},
	} {
		if data, err := json.Marshal(reply); err == nil {
			p.Hub.sendTo(p, data)
		}
	}
}

func (p *Peer) sendError(text string) {
	data, err := json.Marshal(&models.Message{Type: models.MessageTypeError, From: RelayID, To: p.ClientID, Payload: []byte(text)})
	if err == nil {
		p.Hub.sendTo(p, data)
	}
}

func logStoreError(err error, p *Peer) {
	log.Error().Err(err).Str("blueprint", p.BlueprintID).Msg("Failed to store update")
}

// WritePump writes messages to the WebSocket connection
// Learning: Separate goroutine for writing prevents blocking on slow clients
func (p *Peer) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.Send:
			p.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed
				p.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON message per frame
			if err := p.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			p.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
