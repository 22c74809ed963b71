package blueprint

import "blueprint-sync/internal/models"

// ChangeType is the kind of edit a canvas reports for a node or edge
type ChangeType string

const (
	ChangePosition   ChangeType = "position"
	ChangeDimensions ChangeType = "dimensions"
	ChangeSelect     ChangeType = "select"
	ChangeRemove     ChangeType = "remove"
	ChangeAdd        ChangeType = "add"
	ChangeReset      ChangeType = "reset"
)

// NodeChange is one edit to one node
type NodeChange struct {
	Type       ChangeType         `json:"type"`
	ID         string             `json:"id"`
	Position   *models.Position   `json:"position,omitempty"`
	Dragging   *bool              `json:"dragging,omitempty"`
	Dimensions *models.Dimensions `json:"dimensions,omitempty"`
	Selected   bool               `json:"selected,omitempty"`
	Item       *models.Node       `json:"item,omitempty"`
}

// EdgeChange is one edit to one edge
type EdgeChange struct {
	Type     ChangeType   `json:"type"`
	ID       string       `json:"id"`
	Selected bool         `json:"selected,omitempty"`
	Item     *models.Edge `json:"item,omitempty"`
}

// ApplyNodeChange returns node with change applied. It does not touch any document.
func ApplyNodeChange(node models.Node, change NodeChange) models.Node {
	switch change.Type {
	case ChangePosition:
		if change.Position != nil {
			node.Position = *change.Position
		}
		if change.Dragging != nil {
			node.Dragging = *change.Dragging
		}
	case ChangeDimensions:
		if change.Dimensions != nil {
			node.Width = change.Dimensions.Width
			node.Height = change.Dimensions.Height
		}
	case ChangeSelect:
		node.Selected = change.Selected
	case ChangeReset:
		if change.Item != nil {
			node = *change.Item
		}
	}
	return node
}

// ApplyEdgeChange returns edge with change applied
func ApplyEdgeChange(edge models.Edge, change EdgeChange) models.Edge {
	switch change.Type {
	case ChangeSelect:
		edge.Selected = change.Selected
	case ChangeReset:
		if change.Item != nil {
			edge = *change.Item
		}
	}
	return edge
}
