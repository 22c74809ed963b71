package signaling

import (
	"context"
	"fmt"
	"sync"

	"blueprint-sync/internal/crdt"
	"blueprint-sync/internal/models"
)

// DefaultCompactEvery is how many appends a room log takes before it is merged
const DefaultCompactEvery = 500

// UpdateStore is the relay's copy of each room's updates
type UpdateStore interface {
	StoreUpdate(ctx context.Context, documentID string, update []byte, clientID string) error
	GetAllUpdates(ctx context.Context, documentID string) ([]*models.DocumentUpdate, error)
	ReplaceUpdates(ctx context.Context, documentID string, merged []byte, clientID string) error
}

// updateLog serializes writes to the store so compaction never races an append
type updateLog struct {
	store        UpdateStore
	compactEvery int

	mu      sync.Mutex
	appends map[string]int
}

func newUpdateLog(store UpdateStore, compactEvery int) *updateLog {
	if compactEvery <= 0 {
		compactEvery = DefaultCompactEvery
	}
	return &updateLog{
		store:        store,
		compactEvery: compactEvery,
		appends:      make(map[string]int),
	}
}

func (l *updateLog) append(ctx context.Context, room string, update []byte, clientID string) error {
	// handshake replies are often empty
	decoded, err := crdt.DecodeUpdate(update)
	if err != nil {
		return fmt.Errorf("refusing to store undecodable update: %w", err)
	}
	if len(decoded.Ops) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.StoreUpdate(ctx, room, update, clientID); err != nil {
		return err
	}
	storedUpdatesTotal.Inc()

	l.appends[room]++
	if l.appends[room] < l.compactEvery {
		return nil
	}
	l.appends[room] = 0
	return l.compactLocked(ctx, room)
}

func (l *updateLog) compactLocked(ctx context.Context, room string) error {
	rows, err := l.store.GetAllUpdates(ctx, room)
	if err != nil {
		return err
	}
	if len(rows) < 2 {
		return nil
	}

	updates := make([][]byte, 0, len(rows))
	for _, row := range rows {
		updates = append(updates, row.Update)
	}
	merged, err := crdt.MergeUpdates(updates...)
	if err != nil {
		return fmt.Errorf("failed to merge updates: %w", err)
	}
	return l.store.ReplaceUpdates(ctx, room, merged, RelayID)
}

// load rebuilds the stored state of room into a scratch document
func (l *updateLog) load(ctx context.Context, room string) (*crdt.Doc, error) {
	l.mu.Lock()
	rows, err := l.store.GetAllUpdates(ctx, room)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	doc := crdt.NewDoc(crdt.WithClientID(RelayID))
	for _, row := range rows {
		if err := doc.ApplyUpdate(row.Update, RelayID); err != nil {
			return nil, fmt.Errorf("failed to apply stored update %s: %w", row.ID, err)
		}
	}
	return doc, nil
}
