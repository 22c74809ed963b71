package signaling

import (
	"context"
	"net/http"

	"blueprint-sync/internal/middleware"
	"blueprint-sync/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: WEBSOCKET UPGRADER

The upgrader converts HTTP connections to WebSocket connections.

Key settings:
- ReadBufferSize/WriteBufferSize: Memory for I/O operations
- CheckOrigin: CORS validation for WebSocket connections
*/

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Access control is out of scope for the relay
		return true
	},
}

// WebSocketHandler handles relay connections for blueprint rooms
type WebSocketHandler struct {
	hub *Hub
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleRoom joins the caller to the room named by the "id" route variable
func (h *WebSocketHandler) HandleRoom(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	blueprintID := mux.Vars(r)["id"]
	if blueprintID == "" {
		http.Error(w, "blueprint id is required", http.StatusBadRequest)
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" || clientID == RelayID {
		clientID = uuid.NewString()
	}
	userName := r.URL.Query().Get("user_name")
	if userName == "" {
		userName = "Anonymous"
	}

	// Create span for connection
	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("blueprint.id", blueprintID),
		attribute.String("client.id", clientID),
	)
	defer span.End()

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade WebSocket")
		middleware.AddSpanError(ctx, err)
		return
	}

	peer := NewPeer(h.hub, conn, models.NewSession(blueprintID, clientID, userName))

	select {
	case h.hub.register <- peer:
	case <-h.hub.done:
		conn.Close()
		return
	}

	// Start read and write pumps in separate goroutines
	// Learning: Separate goroutines prevent deadlock between reading and writing
	// The request context ends with this handler, so the pumps get their own
	go peer.WritePump()
	go peer.ReadPump(context.WithoutCancel(ctx))

	log.Info().
		Str("blueprint", blueprintID).
		Str("client", clientID).
		Str("user", userName).
		Msg("✓ WebSocket connection established")
}
