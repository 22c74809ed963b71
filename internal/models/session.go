package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Session represents one peer connected to a blueprint room on the relay
type Session struct {
	ID           string    `json:"id"`
	BlueprintID  string    `json:"blueprint_id"`
	ClientID     string    `json:"client_id"`
	UserName     string    `json:"user_name"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// AwarenessState represents peer presence (pointer, selection, etc.)
// Learning: This is separate from document content - it's ephemeral user state
type AwarenessState struct {
	ClientID string    `json:"client_id"`
	User     *UserInfo `json:"user,omitempty"`
	Pointer  *Position `json:"pointer,omitempty"`
	Selected []string  `json:"selected,omitempty"`
}

// UserInfo represents information about a connected user
type UserInfo struct {
	Name  string `json:"name"`
	Color string `json:"color"` // Hex color for pointer/highlight
}

// Message is the envelope exchanged through a relay room
// Learning: Payload is opaque to the relay - it only routes envelopes
type Message struct {
	Type    MessageType `json:"type"`
	From    string      `json:"from,omitempty"`
	To      string      `json:"to,omitempty"` // empty: every peer in the room
	Payload []byte      `json:"payload,omitempty"`
}

// MessageType defines types of messages in the collaboration protocol
type MessageType int

const (
	// Document sync protocol messages
	MessageTypeSyncStep1 MessageType = 0 // Send state vector
	MessageTypeSyncStep2 MessageType = 1 // Send missing updates
	MessageTypeUpdate    MessageType = 2 // Live update
	MessageTypeAwareness MessageType = 3 // Presence (pointers, selection)

	// Relay messages
	MessageTypeJoin  MessageType = 10 // Peer joined
	MessageTypeLeave MessageType = 11 // Peer left
	MessageTypeError MessageType = 99 // Error message
)

// String returns a metric-friendly name
func (t MessageType) String() string {
	switch t {
	case MessageTypeSyncStep1:
		return "sync_step1"
	case MessageTypeSyncStep2:
		return "sync_step2"
	case MessageTypeUpdate:
		return "update"
	case MessageTypeAwareness:
		return "awareness"
	case MessageTypeJoin:
		return "join"
	case MessageTypeLeave:
		return "leave"
	case MessageTypeError:
		return "error"
	}
	return "unknown"
}

// CarriesUpdate reports whether the payload is an encoded document update
func (t MessageType) CarriesUpdate() bool {
	return t == MessageTypeSyncStep2 || t == MessageTypeUpdate
}

func NewSession(blueprintID, clientID, userName string) *Session {
	return &Session{
		ID:           ksuid.New().String(),
		BlueprintID:  blueprintID,
		ClientID:     clientID,
		UserName:     userName,
		ConnectedAt:  time.Now(),
		LastActiveAt: time.Now(),
	}
}
