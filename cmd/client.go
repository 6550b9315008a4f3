package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"mcpbroker/internal/domain"
)

var clientDescription string

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Manage API clients that tokens are issued against",
}

var clientAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a new API client",
	Args:  cobra.ExactArgs(1),
	RunE:  runClientAdd,
}

var clientListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered client",
	Args:  cobra.NoArgs,
	RunE:  runClientList,
}

var clientRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a client (cascades: every token issued to it is revoked)",
	Args:  cobra.ExactArgs(1),
	RunE:  runClientRemove,
}

func init() {
	rootCmd.AddCommand(clientCmd)
	clientCmd.AddCommand(clientAddCmd, clientListCmd, clientRemoveCmd)
	clientAddCmd.Flags().StringVar(&clientDescription, "description", "", "Human-readable description")
}

func runClientAdd(cmd *cobra.Command, args []string) error {
	b, err := openBrokerForCmd(cmd)
	if err != nil {
		return err
	}
	defer b.Shutdown(cmd.Context())

	now := time.Now().UnixMilli()
	c := domain.Client{
		ID:          uuid.NewString(),
		Name:        args[0],
		Description: clientDescription,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := b.Store.CreateClient(cmd.Context(), c); err != nil {
		return fmt.Errorf("registering client: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "registered client %s (%s)\n", c.Name, c.ID)
	return nil
}

func runClientList(cmd *cobra.Command, args []string) error {
	b, err := openBrokerForCmd(cmd)
	if err != nil {
		return err
	}
	defer b.Shutdown(cmd.Context())

	clients, err := b.Store.ListClients(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing clients: %w", err)
	}
	t := newTable(cmd.OutOrStdout(), "ID", "NAME", "DESCRIPTION")
	for _, c := range clients {
		t.AppendRow(table.Row{c.ID, c.Name, c.Description})
	}
	t.Render()
	return nil
}

func runClientRemove(cmd *cobra.Command, args []string) error {
	b, err := openBrokerForCmd(cmd)
	if err != nil {
		return err
	}
	defer b.Shutdown(cmd.Context())

	if err := b.Store.RemoveClient(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("removing client: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed client %s\n", args[0])
	return nil
}
