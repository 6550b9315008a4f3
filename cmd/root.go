package cmd

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mcpbroker/internal/broker"
	"mcpbroker/internal/domain"
)

// shutdownTimeout bounds how long graceful shutdown may take before the
// process exits anyway.
const shutdownTimeout = 10 * time.Second

// authFlowTimeout bounds how long `auth login` waits on the user to
// complete the browser round-trip and the loopback callback to fire.
const authFlowTimeout = 5 * time.Minute

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates a token was unknown or malformed
	// (domain.UnauthenticatedError).
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates an upstream OAuth authorization or
	// token-refresh flow failed.
	ExitCodeAuthFailed = 3
)

// rootCmd is the entry point when mcpbroker is invoked without a
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "mcpbroker",
	Short: "A local aggregating broker for the Model Context Protocol",
	Long: `mcpbroker supervises heterogeneous MCP servers — local stdio
processes and remote HTTP/SSE endpoints — behind one logical surface
shared by several authenticated API clients. It owns server lifecycles,
filters and renames tools per client, routes tool calls to the right
upstream, and manages OAuth credentials for upstreams that require them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// dataDir is the persistent-state directory shared by every subcommand.
var dataDir string

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "",
		"Directory for store.db, the encryption key, audit log and backups (default: OS user config dir)")
	rootCmd.AddCommand(newVersionCmd())
}

// dataPaths resolves the persisted-file layout (spec.md §6) under dir.
func dataPaths(dir string) broker.Paths {
	return broker.NewPaths(dir)
}

// contextWithTimeout derives a bounded context from cmd's context.
func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), d)
}

// SetVersion injects the build-time version into the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and translates a returned error into a
// process exit code. Called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcpbroker version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps the domain error taxonomy (spec.md §7) onto a process
// exit code so scripts can branch on auth-related failures without
// parsing stderr.
func exitCodeFor(err error) int {
	var unauth *domain.UnauthenticatedError
	if errors.As(err, &unauth) {
		return ExitCodeAuthRequired
	}

	var flowErr *domain.OAuthFlowError
	if errors.As(err, &flowErr) {
		return ExitCodeAuthFailed
	}

	var tokenErr *domain.OAuthTokenError
	if errors.As(err, &tokenErr) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}
