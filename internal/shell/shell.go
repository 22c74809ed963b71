// Package shell is an interactive headless peer: a readline prompt that
// opens blueprints through the registry and edits them like a canvas would.
package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"blueprint-sync/internal/blueprint"
	"blueprint-sync/internal/models"
	"blueprint-sync/internal/structure"

	"github.com/chzyer/readline"
)

// ErrExit is returned by ExecuteCommand when the user asks to leave
var ErrExit = fmt.Errorf("exit requested: %w", io.EOF)

type Shell struct {
	Registry *blueprint.Registry
	RL       *readline.Instance
	Out      io.Writer

	// Optional name lookups for structure; node titles are used when nil
	Projects structure.Lookup
	Crew     structure.Lookup

	ColumnDeadBand float64
	Viewport       models.Viewport
}

func New(reg *blueprint.Registry, rl *readline.Instance, out io.Writer) *Shell {
	return &Shell{
		Registry:       reg,
		RL:             rl,
		Out:            out,
		ColumnDeadBand: structure.DefaultColumnDeadBand,
		Viewport:       models.Viewport{Zoom: 1},
	}
}

// Prompt reflects the attached blueprint
func (s *Shell) Prompt() string {
	if sess, err := s.Registry.Active(); err == nil {
		return sess.Name() + "> "
	}
	return "blueprint> "
}

// Run reads and executes one line
func (s *Shell) Run() error {
	s.RL.SetPrompt(s.Prompt())
	line, err := s.RL.Readline()
	if err != nil {
		return err
	}

	line = strings.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	return s.ExecuteCommand(ParseArgs(line))
}

// Loop runs until quit or EOF. Command errors are printed and do not end
// the loop.
func (s *Shell) Loop() error {
	for {
		err := s.Run()
		switch {
		case err == nil:
		case errors.Is(err, readline.ErrInterrupt):
			fmt.Fprintln(s.Out, "Use 'exit' or 'quit' to exit the program.")
		case errors.Is(err, io.EOF):
			return nil
		default:
			fmt.Fprintf(s.Out, "Error: %v\n", err)
		}
	}
}

// ExecuteScript runs every non-empty, non-comment line of a file and stops
// at the first failing command
func (s *Shell) ExecuteScript(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := s.ExecuteCommand(ParseArgs(line)); err != nil {
			if errors.Is(err, io.EOF) {
				return err
			}
			return fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
	}
	return scanner.Err()
}

// ParseArgs splits a line on spaces, keeping double-quoted runs together
func ParseArgs(input string) []string {
	var args []string
	var currentArg strings.Builder
	inQuotes := false

	for _, char := range input {
		switch char {
		case '"':
			inQuotes = !inQuotes
		case ' ', '\t':
			if !inQuotes {
				if currentArg.Len() > 0 {
					args = append(args, currentArg.String())
					currentArg.Reset()
				}
			} else {
				currentArg.WriteRune(char)
			}
		default:
			currentArg.WriteRune(char)
		}
	}

	if currentArg.Len() > 0 {
		args = append(args, currentArg.String())
	}

	return args
}

func (s *Shell) ExecuteCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command provided")
	}

	switch args[0] {
	case "open":
		return s.handleOpen(args[1:])
	case "close":
		s.Registry.Disconnect()
		return nil
	case "status":
		return s.handleStatus()
	case "nodes":
		return s.handleNodes()
	case "edges":
		return s.handleEdges()
	case "add":
		return s.handleAdd(args[1:])
	case "move":
		return s.handleMove(args[1:])
	case "resize":
		return s.handleResize(args[1:])
	case "select":
		return s.handleSelect(args[1:])
	case "rm":
		return s.handleRemove(args[1:])
	case "connect":
		return s.handleConnect(args[1:])
	case "rm-edge":
		return s.handleRemoveEdge(args[1:])
	case "undo":
		return s.handleUndo(false)
	case "redo":
		return s.handleUndo(true)
	case "costing":
		return s.handleCosting()
	case "structure":
		return s.handleStructure()
	case "save":
		return s.handleSave(args[1:])
	case "help":
		s.printHelp(strings.Join(args[1:], " "))
		return nil
	case "exit", "quit":
		fmt.Fprintln(s.Out, "Exiting...")
		return ErrExit
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func (s *Shell) printHelp(command string) {
	if command == "" {
		names := make([]string, 0, len(commandHelp))
		for cmd := range commandHelp {
			names = append(names, cmd)
		}
		sort.Strings(names)

		fmt.Fprintln(s.Out, "Available commands:")
		for _, cmd := range names {
			fmt.Fprintf(s.Out, "  %s\n", cmd)
		}
		fmt.Fprintln(s.Out, "\nUse 'help <command>' for more information about a specific command.")
	} else if help, ok := commandHelp[command]; ok {
		fmt.Fprintln(s.Out, help)
	} else {
		fmt.Fprintf(s.Out, "Unknown command: %s\n", command)
	}
}

// commandHelp contains help text for each command.
var commandHelp = map[string]string{
	"open": `Syntax: open <blueprint>
Description: Attaches the blueprint, detaching the current one. Local data is shown immediately.`,

	"close": `Syntax: close
Description: Detaches the current blueprint.`,

	"status": `Syntax: status
Description: Shows the attached blueprint, relay connection and connected peers.`,

	"nodes": `Syntax: nodes
Description: Lists the nodes of the attached blueprint ordered by id.`,

	"edges": `Syntax: edges
Description: Lists the edges of the attached blueprint ordered by id.`,

	"add": `Syntax: add <project|crew|equipment|note> <id> <x> <y> [record id] [title]
Description: Places a node on the canvas.
Example: add crew n2 120 40 c-17 "Ana"`,

	"move": `Syntax: move <id> <x> <y>
Description: Moves a node.`,

	"resize": `Syntax: resize <id> <width> <height>
Description: Sets the measured size of a node.`,

	"select": `Syntax: select <id> [off]
Description: Selects or deselects a node.`,

	"rm": `Syntax: rm <id>
Description: Removes a node and every edge touching it.`,

	"connect": `Syntax: connect <source> <target> [source handle] [target handle]
Description: Connects two nodes. Connecting the same pair twice keeps one edge.`,

	"rm-edge": `Syntax: rm-edge <id>
Description: Removes an edge.`,

	"undo": `Syntax: undo
Description: Reverts the last local node change.`,

	"redo": `Syntax: redo
Description: Re-applies the last undone node change.`,

	"costing": `Syntax: costing
Description: Prints crew cost per hour, day and week.`,

	"structure": `Syntax: structure
Description: Prints crew grouped under projects by canvas position.`,

	"save": `Syntax: save <file>
Description: Writes the blueprint snapshot as JSON.`,

	"quit": `Syntax: quit
Description: Exits the program.`,

	"exit": `Syntax: exit
Description: Exits the program.`,
}
