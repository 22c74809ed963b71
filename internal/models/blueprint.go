package models

// Node types placed on the blueprint canvas
const (
	NodeTypeProject   = "projectNode"
	NodeTypeCrew      = "crewNode"
	NodeTypeEquipment = "equipmentNode"
	NodeTypeNote      = "noteNode"
)

// Position is a point on the canvas
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dimensions is a measured node size
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NodeData is the type-specific payload of a node.
// Project, crew and equipment nodes reference an external record through ID;
// note nodes carry their text inline.
type NodeData struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// Node is one record of the shared "nodes" collection
type Node struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Position Position `json:"position"`
	Width    float64  `json:"width,omitempty"`
	Height   float64  `json:"height,omitempty"`
	Data     NodeData `json:"data"`

	// Transient UI state, meaningful only within a session
	Selected bool `json:"selected,omitempty"`
	Dragging bool `json:"dragging,omitempty"`
}

// Edge is one record of the shared "edges" collection
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle,omitempty"`
	Selected     bool   `json:"selected,omitempty"`
}

// Viewport is the canvas pan/zoom at save time
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Snapshot is the flattened blueprint handed to the server on save
type Snapshot struct {
	Nodes    []Node   `json:"nodes"`
	Edges    []Edge   `json:"edges"`
	Viewport Viewport `json:"viewport"`
}
