package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"mcpbroker/internal/broker"
	"mcpbroker/internal/domain"
)

var (
	serverType        string
	serverCommand     string
	serverArgs        []string
	serverEnv         []string
	serverRemoteURL   string
	serverBearerToken string
	serverAutoStart   bool
	serverDisabled    bool
	serverStartQuiet  bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage upstream MCP servers the broker supervises",
}

var serverAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a new upstream MCP server",
	Args:  cobra.ExactArgs(1),
	RunE:  runServerAdd,
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered server and its status",
	Args:  cobra.NoArgs,
	RunE:  runServerList,
}

var serverRemoveCmd = &cobra.Command{
	Use:   "remove <name-or-id>",
	Short: "Stop and remove a server (cascades: every token loses its grant for it)",
	Args:  cobra.ExactArgs(1),
	RunE:  runServerRemove,
}

var serverStartCmd = &cobra.Command{
	Use:   "start <name-or-id>",
	Short: "Start a server's transport",
	Args:  cobra.ExactArgs(1),
	RunE:  runServerStart,
}

var serverStopCmd = &cobra.Command{
	Use:   "stop <name-or-id>",
	Short: "Stop a server's transport",
	Args:  cobra.ExactArgs(1),
	RunE:  runServerStop,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverAddCmd, serverListCmd, serverRemoveCmd, serverStartCmd, serverStopCmd)

	serverAddCmd.Flags().StringVar(&serverType, "type", "local", "Server type: local, remote, remote-streamable")
	serverAddCmd.Flags().StringVar(&serverCommand, "command", "", "Command to spawn (local servers)")
	serverAddCmd.Flags().StringArrayVar(&serverArgs, "arg", nil, "Argument to pass to the command (repeatable)")
	serverAddCmd.Flags().StringArrayVar(&serverEnv, "env", nil, "Environment variable KEY=VALUE (repeatable)")
	serverAddCmd.Flags().StringVar(&serverRemoteURL, "url", "", "Remote URL (remote/remote-streamable servers)")
	serverAddCmd.Flags().StringVar(&serverBearerToken, "bearer-token", "", "Static bearer token for remote servers")
	serverAddCmd.Flags().BoolVar(&serverAutoStart, "autostart", false, "Start this server automatically on broker startup")
	serverAddCmd.Flags().BoolVar(&serverDisabled, "disabled", false, "Register the server but never start it")
	serverStartCmd.Flags().BoolVar(&serverStartQuiet, "quiet", false, "Suppress the connecting progress spinner")
}

func openBrokerForCmd(cmd *cobra.Command) (*broker.Broker, error) {
	dir, err := resolveDataDir()
	if err != nil {
		return nil, fmt.Errorf("resolving data directory: %w", err)
	}
	b, err := broker.Open(broker.Config{DataDir: dir})
	if err != nil {
		return nil, fmt.Errorf("opening broker: %w", err)
	}
	if err := b.Servers.Load(cmd.Context()); err != nil {
		_ = b.Shutdown(cmd.Context())
		return nil, fmt.Errorf("loading servers: %w", err)
	}
	return b, nil
}

func runServerAdd(cmd *cobra.Command, args []string) error {
	b, err := openBrokerForCmd(cmd)
	if err != nil {
		return err
	}
	defer b.Shutdown(cmd.Context())

	env := map[string]string{}
	for _, kv := range serverEnv {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid --env value %q, expected KEY=VALUE", kv)
		}
		env[k] = v
	}

	sv := domain.Server{
		ID:          uuid.NewString(),
		Name:        args[0],
		ServerType:  domain.ServerType(serverType),
		Command:     serverCommand,
		Args:        serverArgs,
		Env:         env,
		RemoteURL:   serverRemoteURL,
		BearerToken: serverBearerToken,
		AutoStart:   serverAutoStart,
		Disabled:    serverDisabled,
	}

	if err := b.Servers.Create(cmd.Context(), sv); err != nil {
		return fmt.Errorf("registering server: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "registered server %s (%s)\n", sv.Name, sv.ID)
	return nil
}

func runServerList(cmd *cobra.Command, args []string) error {
	b, err := openBrokerForCmd(cmd)
	if err != nil {
		return err
	}
	defer b.Shutdown(cmd.Context())

	t := newTable(cmd.OutOrStdout(), "STATUS", "ID", "NAME", "TYPE", "FLAGS")
	for _, sv := range b.Servers.List() {
		var flags []string
		if sv.Disabled {
			flags = append(flags, "disabled")
		}
		if sv.AutoStart {
			flags = append(flags, "autostart")
		}
		t.AppendRow(table.Row{sv.Status, sv.ID, sv.Name, sv.ServerType, strings.Join(flags, ",")})
	}
	t.Render()
	return nil
}

func runServerRemove(cmd *cobra.Command, args []string) error {
	b, err := openBrokerForCmd(cmd)
	if err != nil {
		return err
	}
	defer b.Shutdown(cmd.Context())

	if err := b.Servers.Remove(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("removing server: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
	return nil
}

func runServerStart(cmd *cobra.Command, args []string) error {
	b, err := openBrokerForCmd(cmd)
	if err != nil {
		return err
	}
	defer b.Shutdown(cmd.Context())

	ctx, cancel := contextWithTimeout(cmd, 35*time.Second)
	defer cancel()

	var s *spinner.Spinner
	if !serverStartQuiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = fmt.Sprintf(" Connecting to %s...", args[0])
		s.Start()
	}

	err = b.Servers.Start(ctx, args[0])

	if s != nil {
		s.Stop()
	}
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "started %s\n", args[0])
	return nil
}

func runServerStop(cmd *cobra.Command, args []string) error {
	b, err := openBrokerForCmd(cmd)
	if err != nil {
		return err
	}
	defer b.Shutdown(cmd.Context())

	if err := b.Servers.Stop(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stopped %s\n", args[0])
	return nil
}
