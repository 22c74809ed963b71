package api

import (
	"context"
	"net/http"

	"blueprint-sync/internal/models"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES (Go Idiom)

This package (api/handlers) is the CONSUMER of repositories and the relay,
so their interfaces live HERE.

The handler only declares the methods it calls, which keeps it testable
with small fakes and free of circular dependencies.
*/

// BlueprintStore persists saved snapshots
type BlueprintStore interface {
	Save(ctx context.Context, id string, snapshot *models.Snapshot) (*models.SavedBlueprint, error)
	GetByID(ctx context.Context, id string) (*models.SavedBlueprint, error)
	Delete(ctx context.Context, id string) error
}

// UpdateLog is the relay's copy of live document updates
type UpdateLog interface {
	DeleteUpdates(ctx context.Context, documentID string) error
	CountUpdates(ctx context.Context, documentID string) (int64, error)
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Catalog resolves external project and crew ids to names
type Catalog interface {
	ProjectNames(ctx context.Context, ids []string) (map[string]string, error)
	CrewNames(ctx context.Context, ids []string) (map[string]string, error)
}

// Relay serves websocket rooms
type Relay interface {
	HandleRoom(w http.ResponseWriter, r *http.Request)
}

// RoomStats reports who is connected to a room
type RoomStats interface {
	Peers(room string) []string
}
