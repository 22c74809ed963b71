package blueprint

import (
	"encoding/json"
	"errors"

	"blueprint-sync/internal/costing"
	"blueprint-sync/internal/crdt"
	"blueprint-sync/internal/models"
)

// Shared map names
const (
	NodesMap = "nodes"
	EdgesMap = "edges"
)

// ErrNotAttached is returned when a projection is written after its
// document was detached, or a registry call names no open document
var ErrNotAttached = errors.New("blueprint: document not attached")

// NodeProjection exposes the "nodes" map as an ordered, editable slice
type NodeProjection struct {
	*projection[models.Node]
	doc   *crdt.Doc
	edges *crdt.Map
	cache *costing.Cache
}

func newNodeProjection(doc *crdt.Doc, cache *costing.Cache) *NodeProjection {
	return &NodeProjection{
		projection: newProjection(doc.Map(NodesMap), nodeID),
		doc:        doc,
		edges:      doc.Map(EdgesMap),
		cache:      cache,
	}
}

func nodeID(n models.Node) string { return n.ID }

// Nodes returns the current nodes ordered by id
func (p *NodeProjection) Nodes() []models.Node {
	return p.snapshot()
}

// Subscribe calls fn with the full node slice after every change
func (p *NodeProjection) Subscribe(fn Listener[models.Node]) func() {
	return p.subscribe(fn)
}

// ApplyChanges writes a batch of canvas edits in one transaction.
// Add and reset changes are ignored; new nodes come in through AddNode.
func (p *NodeProjection) ApplyChanges(changes []NodeChange) error {
	if !p.attached() {
		return ErrNotAttached
	}

	err := p.doc.Transact(nil, func(tx *crdt.Transaction) {
		for _, ch := range changes {
			switch ch.Type {
			case ChangeRemove:
				cascadeDelete(tx, p.m, p.edges, ch.ID)
			case ChangePosition, ChangeDimensions, ChangeSelect:
				var node models.Node
				ok, err := p.m.Get(ch.ID, &node)
				if err != nil || !ok {
					// the node may have been removed by a peer meanwhile
					continue
				}
				_ = tx.Set(p.m, ch.ID, ApplyNodeChange(node, ch))
			}
		}
	})

	if p.cache != nil {
		p.cache.Push(p.Nodes())
	}
	return err
}

// AddNode inserts or replaces a node
func (p *NodeProjection) AddNode(node models.Node) error {
	if !p.attached() {
		return ErrNotAttached
	}
	if node.ID == "" {
		return errors.New("blueprint: node id is required")
	}
	err := p.doc.Transact(nil, func(tx *crdt.Transaction) {
		_ = tx.Set(p.m, node.ID, node)
	})
	if p.cache != nil {
		p.cache.Push(p.Nodes())
	}
	return err
}

// Delete removes a node and every edge touching it in one transaction
func (p *NodeProjection) Delete(id string) ([]models.Node, error) {
	if !p.attached() {
		return nil, ErrNotAttached
	}
	err := p.doc.Transact(nil, func(tx *crdt.Transaction) {
		cascadeDelete(tx, p.m, p.edges, id)
	})
	if err != nil {
		return nil, err
	}
	nodes := p.Nodes()
	if p.cache != nil {
		p.cache.Push(nodes)
	}
	return nodes, nil
}

// cascadeDelete scans every edge; adjacency is not indexed
func cascadeDelete(tx *crdt.Transaction, nodes, edges *crdt.Map, id string) {
	for key, raw := range edges.Entries() {
		var e models.Edge
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		if e.Source == id || e.Target == id {
			tx.Delete(edges, key)
		}
	}
	tx.Delete(nodes, id)
}
