package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"blueprint-sync/internal/blueprint"
	"blueprint-sync/internal/models"
	"blueprint-sync/internal/structure"
)

var nodeTypes = map[string]string{
	"project":   models.NodeTypeProject,
	"crew":      models.NodeTypeCrew,
	"equipment": models.NodeTypeEquipment,
	"note":      models.NodeTypeNote,
}

// syncWait bounds how long open waits for the local log before printing
const syncWait = 2 * time.Second

func (s *Shell) session() (*blueprint.Session, error) {
	sess, err := s.Registry.Active()
	if err != nil {
		return nil, fmt.Errorf("no blueprint open, use 'open <blueprint>'")
	}
	return sess, nil
}

func (s *Shell) handleOpen(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: open <blueprint>")
	}

	sess, err := s.Registry.Document(context.Background(), args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), syncWait)
	defer cancel()
	if err := sess.WhenSynced(ctx); err != nil {
		fmt.Fprintf(s.Out, "Warning: local data not loaded yet: %v\n", err)
	}

	fmt.Fprintf(s.Out, "Opened %s (%d nodes, %d edges)\n", sess.Name(), len(sess.Nodes().Nodes()), len(sess.Edges().Edges()))
	return nil
}

func (s *Shell) handleStatus() error {
	sess, err := s.Registry.Active()
	if err != nil {
		fmt.Fprintln(s.Out, "No blueprint open")
		return nil
	}

	fmt.Fprintf(s.Out, "Blueprint: %s\n", sess.Name())
	fmt.Fprintf(s.Out, "Client:    %s\n", sess.Doc().ClientID())
	if p := sess.Provider(); p != nil {
		fmt.Fprintf(s.Out, "Relay:     %s\n", p.Status())
		fmt.Fprintf(s.Out, "Peers:     %s\n", strings.Join(p.Peers(), ", "))
	} else {
		fmt.Fprintln(s.Out, "Relay:     offline")
	}
	if err := sess.PersistenceErr(); err != nil {
		fmt.Fprintf(s.Out, "Storage:   failing (%v)\n", err)
	}
	return nil
}

func (s *Shell) handleNodes() error {
	sess, err := s.session()
	if err != nil {
		return err
	}

	nodes := sess.Nodes().Nodes()
	if len(nodes) == 0 {
		fmt.Fprintln(s.Out, "No nodes")
		return nil
	}
	for _, n := range nodes {
		mark := " "
		if n.Selected {
			mark = "*"
		}
		fmt.Fprintf(s.Out, "%s %-12s %-14s (%g, %g)", mark, n.ID, n.Type, n.Position.X, n.Position.Y)
		if n.Width > 0 || n.Height > 0 {
			fmt.Fprintf(s.Out, " %gx%g", n.Width, n.Height)
		}
		if n.Data.ID != "" {
			fmt.Fprintf(s.Out, " -> %s", n.Data.ID)
		}
		if n.Data.Title != "" {
			fmt.Fprintf(s.Out, " %q", n.Data.Title)
		}
		fmt.Fprintln(s.Out)
	}
	return nil
}

func (s *Shell) handleEdges() error {
	sess, err := s.session()
	if err != nil {
		return err
	}

	edges := sess.Edges().Edges()
	if len(edges) == 0 {
		fmt.Fprintln(s.Out, "No edges")
		return nil
	}
	for _, e := range edges {
		fmt.Fprintf(s.Out, "  %s: %s -> %s\n", e.ID, e.Source, e.Target)
	}
	return nil
}

func (s *Shell) handleAdd(args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: add <project|crew|equipment|note> <id> <x> <y> [record id] [title]")
	}
	sess, err := s.session()
	if err != nil {
		return err
	}

	nodeType, ok := nodeTypes[args[0]]
	if !ok {
		return fmt.Errorf("unknown node type: %s", args[0])
	}
	x, y, err := parsePair(args[2], args[3])
	if err != nil {
		return err
	}

	node := models.Node{ID: args[1], Type: nodeType, Position: models.Position{X: x, Y: y}}
	if len(args) > 4 {
		node.Data.ID = args[4]
	}
	if len(args) > 5 {
		node.Data.Title = args[5]
	}
	if err := sess.Nodes().AddNode(node); err != nil {
		return err
	}

	fmt.Fprintf(s.Out, "Node %s added.\n", node.ID)
	return nil
}

func (s *Shell) handleMove(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: move <id> <x> <y>")
	}
	x, y, err := parsePair(args[1], args[2])
	if err != nil {
		return err
	}
	return s.applyNodeChange(blueprint.NodeChange{
		Type:     blueprint.ChangePosition,
		ID:       args[0],
		Position: &models.Position{X: x, Y: y},
	})
}

func (s *Shell) handleResize(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: resize <id> <width> <height>")
	}
	w, h, err := parsePair(args[1], args[2])
	if err != nil {
		return err
	}
	return s.applyNodeChange(blueprint.NodeChange{
		Type:       blueprint.ChangeDimensions,
		ID:         args[0],
		Dimensions: &models.Dimensions{Width: w, Height: h},
	})
}

func (s *Shell) handleSelect(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: select <id> [off]")
	}
	selected := len(args) == 1 || args[1] != "off"
	return s.applyNodeChange(blueprint.NodeChange{Type: blueprint.ChangeSelect, ID: args[0], Selected: selected})
}

func (s *Shell) applyNodeChange(change blueprint.NodeChange) error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	if !hasNode(sess.Nodes().Nodes(), change.ID) {
		return fmt.Errorf("node not found: %s", change.ID)
	}
	return sess.Nodes().ApplyChanges([]blueprint.NodeChange{change})
}

func (s *Shell) handleRemove(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: rm <id>")
	}
	sess, err := s.session()
	if err != nil {
		return err
	}

	before := len(sess.Edges().Edges())
	remaining, err := s.Registry.DeleteNode(context.Background(), sess.Name(), args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(s.Out, "Removed %s and %d edge(s); %d node(s) left.\n", args[0], before-len(sess.Edges().Edges()), len(remaining))
	return nil
}

func (s *Shell) handleConnect(args []string) error {
	if len(args) < 2 || len(args) > 4 {
		return fmt.Errorf("usage: connect <source> <target> [source handle] [target handle]")
	}
	sess, err := s.session()
	if err != nil {
		return err
	}

	params := blueprint.ConnectParams{Source: args[0], Target: args[1]}
	if len(args) > 2 {
		params.SourceHandle = args[2]
	}
	if len(args) > 3 {
		params.TargetHandle = args[3]
	}

	id, err := sess.Edges().Connect(params)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "Edge %s.\n", id)
	return nil
}

func (s *Shell) handleRemoveEdge(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: rm-edge <id>")
	}
	sess, err := s.session()
	if err != nil {
		return err
	}
	return sess.Edges().ApplyChanges([]blueprint.EdgeChange{{Type: blueprint.ChangeRemove, ID: args[0]}})
}

func (s *Shell) handleUndo(redo bool) error {
	sess, err := s.session()
	if err != nil {
		return err
	}

	var done bool
	if redo {
		done, err = sess.Undo().Redo()
	} else {
		done, err = sess.Undo().Undo()
	}
	if err != nil {
		return err
	}
	if !done {
		fmt.Fprintln(s.Out, "Nothing to do.")
	}
	return nil
}

func (s *Shell) handleCosting() error {
	sess, err := s.session()
	if err != nil {
		return err
	}

	// remote and replayed edits do not go through ApplyChanges
	cache := s.Registry.Costing()
	cache.Push(sess.Nodes().Nodes())
	sum := cache.Summary()
	fmt.Fprintf(s.Out, "Crew:     %d across %d project(s) at $%.2f/h\n", sum.CrewCount, sum.ProjectCount, cache.Wage())
	fmt.Fprintf(s.Out, "Hourly:   $%.2f\n", sum.Hourly)
	fmt.Fprintf(s.Out, "Daily:    $%.2f\n", sum.Daily)
	fmt.Fprintf(s.Out, "Weekly:   $%.2f\n", sum.Weekly)
	return nil
}

func (s *Shell) handleStructure() error {
	sess, err := s.session()
	if err != nil {
		return err
	}

	nodes := sess.Nodes().Nodes()
	projects, crew := s.Projects, s.Crew
	if projects == nil {
		projects = titleLookup(nodes, models.NodeTypeProject)
	}
	if crew == nil {
		crew = titleLookup(nodes, models.NodeTypeCrew)
	}

	result := structure.Build(nodes, projects, crew, structure.Options{ColumnDeadBand: s.ColumnDeadBand})
	for _, p := range result.Projects {
		fmt.Fprintf(s.Out, "%s\n", p.Name)
		for _, c := range p.Crew {
			fmt.Fprintf(s.Out, "  - %s\n", c.Name)
		}
	}
	if len(result.RemainingNodes) > 0 {
		fmt.Fprintln(s.Out, "Unassigned")
		for _, c := range result.RemainingNodes {
			fmt.Fprintf(s.Out, "  - %s\n", c.Name)
		}
	}
	return nil
}

func (s *Shell) handleSave(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: save <file>")
	}
	sess, err := s.session()
	if err != nil {
		return err
	}
	if err := sess.PersistenceErr(); err != nil {
		fmt.Fprintf(s.Out, "Warning: local storage is failing, recent edits may not be durable: %v\n", err)
	}

	data, err := json.MarshalIndent(sess.Snapshot(s.Viewport), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.WriteFile(args[0], data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", args[0], err)
	}

	fmt.Fprintf(s.Out, "Saved %s to %s\n", sess.Name(), args[0])
	return nil
}

// titleLookup names records after the title of the node referencing them,
// falling back to the record id
func titleLookup(nodes []models.Node, nodeType string) structure.MapLookup {
	out := structure.MapLookup{}
	for _, n := range nodes {
		if n.Type != nodeType || n.Data.ID == "" {
			continue
		}
		name := n.Data.Title
		if name == "" {
			name = n.Data.ID
		}
		out[n.Data.ID] = name
	}
	return out
}

func parsePair(a, b string) (float64, float64, error) {
	x, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("not a number: %s", a)
	}
	y, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("not a number: %s", b)
	}
	return x, y, nil
}

func hasNode(nodes []models.Node, id string) bool {
	for _, n := range nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}
