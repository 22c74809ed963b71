package shell

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"blueprint-sync/internal/blueprint"
	"blueprint-sync/internal/models"

	"github.com/go-playground/assert/v2"
)

func newShell(t *testing.T) (*Shell, *bytes.Buffer) {
	t.Helper()
	reg := blueprint.NewRegistry(blueprint.Options{})
	t.Cleanup(reg.Close)
	var out bytes.Buffer
	return New(reg, nil, &out), &out
}

func run(t *testing.T, s *Shell, lines ...string) {
	t.Helper()
	for _, line := range lines {
		if err := s.ExecuteCommand(ParseArgs(line)); err != nil {
			t.Fatalf("%s: %v", line, err)
		}
	}
}

func TestParseArgs(t *testing.T) {
	assert.Equal(t, ParseArgs(`add note n1 0 0 "" "two words"`), []string{"add", "note", "n1", "0", "0", "two words"})
	assert.Equal(t, ParseArgs("  nodes  "), []string{"nodes"})
	assert.Equal(t, len(ParseArgs("")), 0)
}

func TestCommandsNeedOpenBlueprint(t *testing.T) {
	s, _ := newShell(t)
	assert.NotEqual(t, s.ExecuteCommand([]string{"nodes"}), nil)
	assert.Equal(t, s.Prompt(), "blueprint> ")

	run(t, s, "open bp-1")
	assert.Equal(t, s.Prompt(), "bp-1> ")
}

func TestEditSession(t *testing.T) {
	s, out := newShell(t)
	run(t, s,
		"open bp-1",
		`add project a 0 0 p1 "Main St"`,
		`add crew b 120 0 c1 Ana`,
		"connect a b",
		"connect a b",
		"move b 130 10",
		"resize b 80 40",
		"select b",
	)

	sess, err := s.Registry.Active()
	assert.Equal(t, err, nil)

	edges := sess.Edges().Edges()
	assert.Equal(t, len(edges), 1)
	assert.Equal(t, edges[0].ID, "edge-a-b")

	nodes := sess.Nodes().Nodes()
	assert.Equal(t, nodes[1].Position, models.Position{X: 130, Y: 10})
	assert.Equal(t, nodes[1].Width, 80.0)
	assert.Equal(t, nodes[1].Selected, true)

	out.Reset()
	run(t, s, "rm a")
	assert.Equal(t, strings.Contains(out.String(), "Removed a and 1 edge(s); 1 node(s) left."), true)
	assert.Equal(t, len(sess.Edges().Edges()), 0)
}

func TestBadArguments(t *testing.T) {
	s, _ := newShell(t)
	run(t, s, "open bp-1")

	assert.NotEqual(t, s.ExecuteCommand(ParseArgs("add robot x 0 0")), nil)
	assert.NotEqual(t, s.ExecuteCommand(ParseArgs("add note x zero 0")), nil)
	assert.NotEqual(t, s.ExecuteCommand(ParseArgs("move ghost 1 1")), nil)
	assert.NotEqual(t, s.ExecuteCommand(ParseArgs("frobnicate")), nil)
}

func TestUndoRedo(t *testing.T) {
	s, out := newShell(t)
	run(t, s, "open bp-1", "add note n1 0 0", "move n1 50 50")

	sess, _ := s.Registry.Active()
	run(t, s, "undo")
	assert.Equal(t, sess.Nodes().Nodes()[0].Position.X, 0.0)

	run(t, s, "redo")
	assert.Equal(t, sess.Nodes().Nodes()[0].Position.X, 50.0)

	out.Reset()
	run(t, s, "redo")
	assert.Equal(t, out.String(), "Nothing to do.\n")
}

func TestCostingAndStructure(t *testing.T) {
	s, out := newShell(t)
	run(t, s,
		"open bp-1",
		`add project p 0 0 p1 "Main St"`,
		`add crew c 100 0 c1 Ana`,
		`add crew d -50 0 c2 Ben`,
	)

	out.Reset()
	run(t, s, "costing")
	assert.Equal(t, strings.Contains(out.String(), "Crew:     2 across 1 project(s) at $35.00/h"), true)
	assert.Equal(t, strings.Contains(out.String(), "Daily:    $560.00"), true)

	out.Reset()
	run(t, s, "structure")
	assert.Equal(t, out.String(), "Main St\n  - Ana\nUnassigned\n  - Ben\n")
}

func TestSaveWritesSnapshot(t *testing.T) {
	s, _ := newShell(t)
	run(t, s, "open bp-1", "add note n1 5 5", "add note n2 9 9", "connect n1 n2")

	path := filepath.Join(t.TempDir(), "bp.json")
	run(t, s, "save "+path)

	data, err := os.ReadFile(path)
	assert.Equal(t, err, nil)
	var snap models.Snapshot
	assert.Equal(t, json.Unmarshal(data, &snap), nil)
	assert.Equal(t, len(snap.Nodes), 2)
	assert.Equal(t, snap.Edges[0].ID, "edge-n1-n2")
	assert.Equal(t, snap.Viewport.Zoom, 1.0)
}

func TestSwitchingBlueprints(t *testing.T) {
	s, out := newShell(t)
	run(t, s, "open bp-1", "add note n1 0 0", "open bp-2")

	sess, _ := s.Registry.Active()
	assert.Equal(t, len(sess.Nodes().Nodes()), 0)

	out.Reset()
	run(t, s, "open bp-1")
	assert.Equal(t, out.String(), "Opened bp-1 (1 nodes, 0 edges)\n")

	run(t, s, "close")
	out.Reset()
	run(t, s, "status")
	assert.Equal(t, out.String(), "No blueprint open\n")
}

func TestQuit(t *testing.T) {
	s, _ := newShell(t)
	err := s.ExecuteCommand([]string{"quit"})
	assert.Equal(t, errors.Is(err, io.EOF), true)
}

func TestHelp(t *testing.T) {
	s, out := newShell(t)
	run(t, s, "help")
	assert.Equal(t, strings.HasPrefix(out.String(), "Available commands:\n  add\n"), true)

	out.Reset()
	run(t, s, "help rm")
	assert.Equal(t, strings.Contains(out.String(), "every edge touching it"), true)
}

func TestExecuteScript(t *testing.T) {
	s, _ := newShell(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.bp")
	assert.Equal(t, os.WriteFile(good, []byte("# seed\nopen bp-1\n\nadd note n1 0 0\nadd note n2 10 0\nconnect n1 n2\n"), 0o644), nil)
	assert.Equal(t, s.ExecuteScript(good), nil)

	sess, _ := s.Registry.Active()
	assert.Equal(t, len(sess.Edges().Edges()), 1)

	bad := filepath.Join(dir, "bad.bp")
	assert.Equal(t, os.WriteFile(bad, []byte("nodes\nmove ghost 1 1\n"), 0o644), nil)
	err := s.ExecuteScript(bad)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, strings.Contains(err.Error(), "bad.bp:2"), true)
}
