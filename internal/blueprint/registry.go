// Package blueprint opens shared blueprint documents and projects their
// "nodes" and "edges" maps into editable graph collections.
package blueprint

import (
	"context"
	"errors"
	"sync"

	"blueprint-sync/internal/costing"
	"blueprint-sync/internal/crdt"
	"blueprint-sync/internal/models"
	"blueprint-sync/internal/persistence"
	"blueprint-sync/internal/transport"

	"github.com/rs/zerolog/log"
)

// Options wires a Registry to its environment. Zero values run fully in memory.
type Options struct {
	// Store keeps documents durable locally; nil disables persistence
	Store    persistence.UpdateStore
	TrimSize int

	// SignalingURL is the relay base URL; empty runs offline
	SignalingURL string
	Transport    *transport.Settings

	Undo    crdt.UndoOptions
	Costing *costing.Cache
}

// Registry owns every document opened in this process. Only one is
// attached (persisted, connected, undoable) at a time.
type Registry struct {
	opts Options

	mu     sync.Mutex
	docs   map[string]*crdt.Doc
	active *Session
}

// NewRegistry creates an empty registry
func NewRegistry(opts Options) *Registry {
	if opts.Costing == nil {
		opts.Costing = costing.NewCache(0)
	}
	return &Registry{
		opts: opts,
		docs: make(map[string]*crdt.Doc),
	}
}

// Document returns the session for name, attaching it if needed.
// Opening a different name first detaches the current one.
// Never blocks on disk or network.
func (r *Registry) Document(ctx context.Context, name string) (*Session, error) {
	if name == "" {
		return nil, errors.New("blueprint: document name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		if r.active.name == name {
			return r.active, nil
		}
		r.teardownLocked()
	}

	doc, ok := r.docs[name]
	if !ok {
		doc = crdt.NewDoc(crdt.WithLogger(log.With().Str("document", name).Logger()))
		r.docs[name] = doc
	}

	s := &Session{
		name:  name,
		doc:   doc,
		nodes: newNodeProjection(doc, r.opts.Costing),
		edges: newEdgeProjection(doc),
		undo:  crdt.NewUndoManager(doc.Map(NodesMap), r.opts.Undo),
	}
	if r.opts.Store != nil {
		s.persistence = persistence.Bind(ctx, r.opts.Store, name, doc, persistence.Options{TrimSize: r.opts.TrimSize})
	}
	if r.opts.SignalingURL != "" {
		// detached from ctx: the connection lives until the next switch
		s.provider = transport.Connect(context.WithoutCancel(ctx), r.opts.SignalingURL, name, doc, r.opts.Transport)
		s.provider.OnStatus(func(status transport.Status) {
			log.Info().Str("document", name).Stringer("status", status).Msg("Relay connection")
		})
	}

	r.active = s
	r.opts.Costing.Push(s.nodes.Nodes())
	log.Info().Str("document", name).Bool("persisted", s.persistence != nil).Bool("online", s.provider != nil).Msg("✓ Document attached")
	return s, nil
}

// Active returns the attached session
func (r *Registry) Active() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil, ErrNotAttached
	}
	return r.active, nil
}

// Disconnect detaches the active document. The document itself stays in
// memory so reopening it is instant.
func (r *Registry) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownLocked()
}

func (r *Registry) teardownLocked() {
	if r.active == nil {
		return
	}
	r.active.close()
	log.Info().Str("document", r.active.name).Msg("Document detached")
	r.active = nil
}

// DeleteNode removes node id and its edges from the named document
// in one transaction and returns the remaining nodes. A document that is
// open but detached is attached first so the delete is persisted and
// broadcast like any other edit.
func (r *Registry) DeleteNode(ctx context.Context, name, id string) ([]models.Node, error) {
	r.mu.Lock()
	_, known := r.docs[name]
	r.mu.Unlock()
	if !known {
		return nil, ErrNotAttached
	}

	s, err := r.Document(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.nodes.Delete(id)
}

// Costing returns the cache the node projections push into
func (r *Registry) Costing() *costing.Cache {
	return r.opts.Costing
}

// Close detaches the active document and destroys every document
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.teardownLocked()
	for name, doc := range r.docs {
		doc.Destroy()
		delete(r.docs, name)
	}
}
