package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var tokenServerIDs []string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage bearer tokens issued to clients",
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate <clientID>",
	Short: "Issue a new token bound to a client and an explicit set of servers",
	Long: `Issues a new opaque bearer token bound to clientID and the server ids
or names given by --server (repeatable). A token with no --server grants
access to nothing: spec.md treats an empty grant as deny-all, never
implicit access to every server.`,
	Args: cobra.ExactArgs(1),
	RunE: runTokenGenerate,
}

var tokenListCmd = &cobra.Command{
	Use:   "list <clientID>",
	Short: "List tokens issued to a client",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenList,
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke <tokenID>",
	Short: "Revoke a token",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenRevoke,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenGenerateCmd, tokenListCmd, tokenRevokeCmd)
	tokenGenerateCmd.Flags().StringArrayVar(&tokenServerIDs, "server", nil, "Server id or name to grant (repeatable)")
}

// runTokenGenerate turns the --server flag's name-or-id values into
// canonical server ids via the Server Manager before issuing the token,
// so a token's serverIds column always stores ids, never names that
// could later stop resolving.
func runTokenGenerate(cmd *cobra.Command, args []string) error {
	b, err := openBrokerForCmd(cmd)
	if err != nil {
		return err
	}
	defer b.Shutdown(cmd.Context())

	ids := make([]string, 0, len(tokenServerIDs))
	for _, nameOrID := range tokenServerIDs {
		id, ok := b.Servers.ResolveID(nameOrID)
		if !ok {
			return fmt.Errorf("unknown server %q", nameOrID)
		}
		ids = append(ids, id)
	}

	tok, err := b.Token.Generate(cmd.Context(), args[0], ids, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", tok.ID)
	if len(ids) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: this token grants no servers and will deny every call")
	}
	return nil
}

func runTokenList(cmd *cobra.Command, args []string) error {
	b, err := openBrokerForCmd(cmd)
	if err != nil {
		return err
	}
	defer b.Shutdown(cmd.Context())

	tokens, err := b.Store.ListTokensByClient(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("listing tokens: %w", err)
	}
	tbl := newTable(cmd.OutOrStdout(), "ID", "SERVERS")
	for _, tok := range tokens {
		tbl.AppendRow(table.Row{tok.ID, strings.Join(tok.ServerIDs, ",")})
	}
	tbl.Render()
	return nil
}

func runTokenRevoke(cmd *cobra.Command, args []string) error {
	b, err := openBrokerForCmd(cmd)
	if err != nil {
		return err
	}
	defer b.Shutdown(cmd.Context())

	if err := b.Token.Revoke(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
	return nil
}
