package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"blueprint-sync/internal/blueprint"
	"blueprint-sync/internal/config"
	"blueprint-sync/internal/costing"
	"blueprint-sync/internal/crdt"
	"blueprint-sync/internal/db"
	"blueprint-sync/internal/models"
	"blueprint-sync/internal/repository"
	"blueprint-sync/internal/shell"
	"blueprint-sync/internal/transport"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "0.3.0"

// cfg supplies flag defaults and the tunables without a flag
var cfg *config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:   "blueprintctl",
		Short: "Edit and inspect collaborative blueprints from the terminal",
		Long: `blueprintctl is a headless blueprint peer. It keeps blueprints in a local
store, syncs them through the relay when one is reachable, and works
offline when it is not.`,
		PersistentPreRunE: setupLogging,
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "blueprintctl: %v\n", err)
		os.Exit(1)
	}

	rootCmd.PersistentFlags().String("store", cfg.LocalStorePath, "Local SQLite update store (empty keeps documents in memory)")
	rootCmd.PersistentFlags().String("signaling", cfg.SignalingURL, "Relay base URL (empty works offline)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log sync and storage activity")

	shellCmd := &cobra.Command{
		Use:   "shell [blueprint]",
		Short: "Open an interactive editing shell",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runShell,
	}
	shellCmd.Flags().String("script", "", "Run commands from a file before the prompt")
	shellCmd.Flags().String("history", "", "Readline history file")

	dumpCmd := &cobra.Command{
		Use:   "dump <blueprint>",
		Short: "Print a blueprint snapshot as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runDump,
	}

	costingCmd := &cobra.Command{
		Use:   "costing <blueprint>",
		Short: "Print crew cost per hour, day and week",
		Args:  cobra.ExactArgs(1),
		RunE:  runCosting,
	}
	costingCmd.Flags().Float64("wage", cfg.AverageHourlyWage, "Average hourly wage")

	structureCmd := &cobra.Command{
		Use:   "structure <blueprint>",
		Short: "Print crew grouped under projects",
		Args:  cobra.ExactArgs(1),
		RunE:  runStructure,
	}
	structureCmd.Flags().Float64("dead-band", cfg.ColumnDeadBand, "X distance under which nodes share a column")

	for _, cmd := range []*cobra.Command{dumpCmd, costingCmd, structureCmd} {
		cmd.Flags().Duration("wait", 3*time.Second, "How long to wait for relay peers before printing")
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("blueprintctl %s\n", version)
		},
	}

	rootCmd.AddCommand(shellCmd, dumpCmd, costingCmd, structureCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	return nil
}

// openRegistry builds a registry on the local store and relay named by the flags
func openRegistry(cmd *cobra.Command, wage float64) (*blueprint.Registry, func(), error) {
	storePath, _ := cmd.Flags().GetString("store")
	signalingURL, _ := cmd.Flags().GetString("signaling")

	settings := transport.DefaultSettings()
	settings.ReconnectTimeout = cfg.ReconnectTimeout
	settings.UserName = os.Getenv("USER")

	opts := blueprint.Options{
		TrimSize:     cfg.PersistenceTrimSize,
		SignalingURL: signalingURL,
		Transport:    settings,
		Undo:         crdt.UndoOptions{Capacity: cfg.UndoCapacity},
		Costing:      costing.NewCache(wage),
	}

	var closers []func()
	if storePath != "" {
		local, err := db.NewLocal(storePath)
		if err != nil {
			return nil, nil, err
		}
		opts.Store = repository.NewUpdateRepository(local.DB)
		closers = append(closers, func() { local.Close() })
	}

	reg := blueprint.NewRegistry(opts)
	cleanup := func() {
		reg.Close()
		for _, c := range closers {
			c()
		}
	}
	return reg, cleanup, nil
}

// openSynced opens name and waits for the local store, then up to the
// --wait flag for the relay
func openSynced(cmd *cobra.Command, reg *blueprint.Registry, name string) (*blueprint.Session, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	sess, err := reg.Document(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := sess.WhenSynced(ctx); err != nil {
		return nil, fmt.Errorf("failed to load %s from the local store: %w", name, err)
	}

	if p := sess.Provider(); p != nil {
		wait, _ := cmd.Flags().GetDuration("wait")
		wctx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		if err := p.WhenSynced(wctx); err != nil {
			// a lone peer never gets a Step2; local data is still valid
			log.Warn().Str("blueprint", name).Msg("⚠️  No relay sync, showing local data")
		}
	}
	return sess, nil
}

func runShell(cmd *cobra.Command, args []string) error {
	reg, cleanup, err := openRegistry(cmd, 0)
	if err != nil {
		return err
	}
	defer cleanup()

	historyFile, _ := cmd.Flags().GetString("history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "blueprint> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	sh := shell.New(reg, rl, rl.Stdout())
	sh.ColumnDeadBand = cfg.ColumnDeadBand

	if len(args) == 1 {
		if err := sh.ExecuteCommand([]string{"open", args[0]}); err != nil {
			return err
		}
	}

	if script, _ := cmd.Flags().GetString("script"); script != "" {
		if err := sh.ExecuteScript(script); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}

	return sh.Loop()
}

func runDump(cmd *cobra.Command, args []string) error {
	reg, cleanup, err := openRegistry(cmd, 0)
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := openSynced(cmd, reg, args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sess.Snapshot(models.Viewport{Zoom: 1}))
}

func runCosting(cmd *cobra.Command, args []string) error {
	wage, _ := cmd.Flags().GetFloat64("wage")
	reg, cleanup, err := openRegistry(cmd, wage)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := openSynced(cmd, reg, args[0]); err != nil {
		return err
	}

	sh := shell.New(reg, nil, cmd.OutOrStdout())
	return sh.ExecuteCommand([]string{"costing"})
}

func runStructure(cmd *cobra.Command, args []string) error {
	reg, cleanup, err := openRegistry(cmd, 0)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := openSynced(cmd, reg, args[0]); err != nil {
		return err
	}

	sh := shell.New(reg, nil, cmd.OutOrStdout())
	sh.ColumnDeadBand, _ = cmd.Flags().GetFloat64("dead-band")
	return sh.ExecuteCommand([]string{"structure"})
}
