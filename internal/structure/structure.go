// Package structure rebuilds the project → crew hierarchy from canvas layout.
//
// Editors place a project node and then its crew to the right of it; the
// builder walks the nodes left to right and assigns each crew node to the
// closest project on its left.
package structure

import (
	"math"
	"sort"

	"blueprint-sync/internal/models"
)

// DefaultColumnDeadBand is the x distance under which two nodes share a column
const DefaultColumnDeadBand = 15.0

// Lookup resolves an external record id to its display name
type Lookup interface {
	Lookup(id string) (name string, ok bool)
}

// MapLookup is a Lookup backed by an id → name map
type MapLookup map[string]string

func (m MapLookup) Lookup(id string) (string, bool) {
	name, ok := m[id]
	return name, ok
}

// CrewRef is a crew member placed on the canvas
type CrewRef struct {
	ID     string `json:"id"`
	NodeID string `json:"node_id"`
	Name   string `json:"name"`
}

// Project is a project node with the crew placed after it
type Project struct {
	ID     string    `json:"id"`
	NodeID string    `json:"node_id"`
	Name   string    `json:"name"`
	Crew   []CrewRef `json:"crew"`
}

// Structure is the hierarchy derived from one node snapshot
type Structure struct {
	Projects       []Project `json:"projects"`
	RemainingNodes []CrewRef `json:"remainingNodes"`
}

// Options tunes Build
type Options struct {
	// ColumnDeadBand is inclusive: |dx| <= band is a tie. Zero means
	// DefaultColumnDeadBand; a negative band orders by exact x.
	ColumnDeadBand float64
}

// DefaultOptions returns the standard column tolerance
func DefaultOptions() Options {
	return Options{ColumnDeadBand: DefaultColumnDeadBand}
}

// Build groups crew under projects by canvas order.
// Nodes whose data id is unknown to the lookups are skipped.
func Build(nodes []models.Node, projects, crew Lookup, opts Options) Structure {
	band := opts.ColumnDeadBand
	if band == 0 {
		band = DefaultColumnDeadBand
	}

	sorted := make([]models.Node, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		dx := sorted[i].Position.X - sorted[j].Position.X
		if math.Abs(dx) <= band {
			return false
		}
		return dx < 0
	})

	out := Structure{Projects: []Project{}, RemainingNodes: []CrewRef{}}
	current := -1

	for _, n := range sorted {
		switch n.Type {
		case models.NodeTypeProject:
			name, ok := projects.Lookup(n.Data.ID)
			if !ok {
				continue
			}
			out.Projects = append(out.Projects, Project{ID: n.Data.ID, NodeID: n.ID, Name: name, Crew: []CrewRef{}})
			current = len(out.Projects) - 1

		case models.NodeTypeCrew:
			name, ok := crew.Lookup(n.Data.ID)
			if !ok {
				continue
			}
			ref := CrewRef{ID: n.Data.ID, NodeID: n.ID, Name: name}
			if current >= 0 {
				out.Projects[current].Crew = append(out.Projects[current].Crew, ref)
			} else {
				out.RemainingNodes = append(out.RemainingNodes, ref)
			}
		}
	}

	return out
}
