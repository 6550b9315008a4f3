package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"mcpbroker/internal/broker"
	"mcpbroker/pkg/logging"
)

var serveDebug bool

// serveCmd starts the broker: it loads every persisted server, auto-
// starts the non-disabled ones with AutoStart set, runs the hourly key
// rotation scheduler, and blocks until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the broker and supervise configured upstream MCP servers",
	Long: `Starts the broker: opens the store and encryption key, loads every
persisted server, auto-starts the non-disabled ones with AutoStart set,
and keeps running until interrupted (SIGINT/SIGTERM), at which point
every live upstream connection is closed and the store is closed
cleanly.

The broker exposes the Router Gate (CallTool/ListTools) as a library
seam; wiring it to a concrete client-facing transport is outside this
command's scope (spec.md §1: the client-facing MCP wire protocol is
treated as an external collaborator).`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
}

func runServe(cmd *cobra.Command, args []string) error {
	logging.InitForCLI(levelFor(serveDebug), os.Stderr)

	dir, err := resolveDataDir()
	if err != nil {
		return fmt.Errorf("resolving data directory: %w", err)
	}

	b, err := broker.Open(broker.Config{DataDir: dir})
	if err != nil {
		return fmt.Errorf("starting broker: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil {
		_ = b.Shutdown(context.Background())
		return fmt.Errorf("running broker: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "mcpbroker serving from %s\n", dir)
	for _, sv := range b.Servers.List() {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s (%s): %s\n", sv.Name, sv.ServerType, sv.Status)
	}

	// Tell systemd (when running under a unit with Type=notify) that
	// startup is done, the same READY=1 notification the teacher's
	// internal/aggregator/server.go accepts a socket from via
	// systemd socket activation. A no-op outside systemd: NotifyNoSocket
	// still succeeds, SdNotify just won't find NOTIFY_SOCKET set.
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Warn("serve", "systemd readiness notification failed: %v", err)
	}

	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "shutting down...")
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		logging.Warn("serve", "systemd stopping notification failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return b.Shutdown(shutdownCtx)
}

func levelFor(debug bool) logging.LogLevel {
	if debug {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}

// resolveDataDir returns the --data-dir flag value, or the OS default
// when unset.
func resolveDataDir() (string, error) {
	if dataDir != "" {
		return dataDir, nil
	}
	return broker.DefaultDataDir()
}
