package blueprint

import (
	"context"

	"blueprint-sync/internal/crdt"
	"blueprint-sync/internal/models"
	"blueprint-sync/internal/persistence"
	"blueprint-sync/internal/transport"
)

// Session is an open document with its projections and bindings attached
type Session struct {
	name  string
	doc   *crdt.Doc
	nodes *NodeProjection
	edges *EdgeProjection
	undo  *crdt.UndoManager

	persistence *persistence.Binding // nil without a local store
	provider    *transport.Provider  // nil when offline
}

// Name returns the document name (the blueprint id)
func (s *Session) Name() string { return s.name }

// Doc returns the shared document
func (s *Session) Doc() *crdt.Doc { return s.doc }

// Nodes returns the node projection
func (s *Session) Nodes() *NodeProjection { return s.nodes }

// Edges returns the edge projection
func (s *Session) Edges() *EdgeProjection { return s.edges }

// Undo returns the undo manager tracking local node edits
func (s *Session) Undo() *crdt.UndoManager { return s.undo }

// Provider returns the relay connection, or nil when running offline
func (s *Session) Provider() *transport.Provider { return s.provider }

// Snapshot flattens the document for saving
func (s *Session) Snapshot(viewport models.Viewport) models.Snapshot {
	return models.Snapshot{
		Nodes:    s.nodes.Nodes(),
		Edges:    s.edges.Edges(),
		Viewport: viewport,
	}
}

// WhenSynced waits for the local log to be replayed. Without a local store
// it returns at once.
func (s *Session) WhenSynced(ctx context.Context) error {
	if s.persistence == nil {
		return nil
	}
	return s.persistence.WhenSynced(ctx)
}

// PersistenceErr reports a failure of the local store. Non-nil means edits
// may only exist in memory and a manual save should warn about it.
func (s *Session) PersistenceErr() error {
	if s.persistence == nil {
		return nil
	}
	return s.persistence.Err()
}

// close releases everything bound to the document but keeps the document
func (s *Session) close() {
	s.nodes.detach()
	s.edges.detach()
	s.undo.Clear()
	s.undo.Destroy()
	if s.persistence != nil {
		s.persistence.Destroy()
	}
	if s.provider != nil {
		s.provider.Disconnect()
	}
}
