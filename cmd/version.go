package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mcpbroker/internal/crypto"
	"mcpbroker/internal/store"
)

// newVersionCmd creates the Cobra command for displaying the CLI version
// and, if a store already exists in the data directory, a summary of
// its configured servers. Grounded on the teacher's version.go, which
// shows both a CLI version and a live server version obtained over the
// MCP handshake; this spec has no client-facing MCP transport to
// handshake with (§1 Non-goals), so the "server" half instead reports
// what the persisted store already knows.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mcpbroker CLI version",
		Long: `Displays the mcpbroker CLI version and, if a store already exists in
the data directory, a summary of its configured servers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "mcpbroker version %s\n", rootCmd.Version)

			dir, err := resolveDataDir()
			if err != nil {
				return nil
			}

			summary, err := storeSummary(cmd.Context(), dir)
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "\nStore: (none yet)")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nStore: %s\n", summary)
			return nil
		},
	}
}

func storeSummary(ctx context.Context, dir string) (string, error) {
	paths := dataPaths(dir)
	if _, err := os.Stat(paths.StoreDB); err != nil {
		return "", err
	}

	cryptoSvc, err := crypto.Load(paths.KeyFile)
	if err != nil {
		return "", err
	}
	st, err := store.Open(paths.StoreDB, cryptoSvc)
	if err != nil {
		return "", err
	}
	defer st.Close()

	servers, err := st.ListServers(ctx)
	if err != nil {
		return "", err
	}
	clients, err := st.ListClients(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d server(s), %d client(s)", len(servers), len(clients)), nil
}
