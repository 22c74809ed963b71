package blueprint

import (
	"blueprint-sync/internal/crdt"
	"blueprint-sync/internal/models"
)

// EdgeID is the only place edge ids are made. Connecting the same
// endpoints twice therefore always lands on the same record.
func EdgeID(source, sourceHandle, target, targetHandle string) string {
	return "edge-" + source + sourceHandle + "-" + target + targetHandle
}

// ConnectParams describes a new connection drawn on the canvas
type ConnectParams struct {
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// EdgeProjection exposes the "edges" map as an ordered, editable slice
type EdgeProjection struct {
	*projection[models.Edge]
	doc *crdt.Doc
}

func newEdgeProjection(doc *crdt.Doc) *EdgeProjection {
	return &EdgeProjection{
		projection: newProjection(doc.Map(EdgesMap), func(e models.Edge) string { return e.ID }),
		doc:        doc,
	}
}

// Edges returns the current edges ordered by id
func (p *EdgeProjection) Edges() []models.Edge {
	return p.snapshot()
}

// Subscribe calls fn with the full edge slice after every change
func (p *EdgeProjection) Subscribe(fn Listener[models.Edge]) func() {
	return p.subscribe(fn)
}

// ApplyChanges writes a batch of canvas edits in one transaction
func (p *EdgeProjection) ApplyChanges(changes []EdgeChange) error {
	if !p.attached() {
		return ErrNotAttached
	}

	return p.doc.Transact(nil, func(tx *crdt.Transaction) {
		for _, ch := range changes {
			switch ch.Type {
			case ChangeRemove:
				tx.Delete(p.m, ch.ID)
			case ChangeSelect:
				var edge models.Edge
				ok, err := p.m.Get(ch.ID, &edge)
				if err != nil || !ok {
					continue
				}
				_ = tx.Set(p.m, ch.ID, ApplyEdgeChange(edge, ch))
			}
		}
	})
}

// Connect records an edge between two nodes. A missing endpoint is a no-op.
func (p *EdgeProjection) Connect(params ConnectParams) (string, error) {
	if !p.attached() {
		return "", ErrNotAttached
	}
	if params.Source == "" || params.Target == "" {
		return "", nil
	}

	edge := models.Edge{
		ID:           EdgeID(params.Source, params.SourceHandle, params.Target, params.TargetHandle),
		Source:       params.Source,
		SourceHandle: params.SourceHandle,
		Target:       params.Target,
		TargetHandle: params.TargetHandle,
	}
	err := p.doc.Transact(nil, func(tx *crdt.Transaction) {
		_ = tx.Set(p.m, edge.ID, edge)
	})
	return edge.ID, err
}
