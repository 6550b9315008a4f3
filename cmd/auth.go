package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var authScopes []string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Administer OAuth credentials the broker holds for upstream servers",
}

var authLoginCmd = &cobra.Command{
	Use:   "login <server>",
	Short: "Run (or resume) the authorization-code flow for an upstream server",
	Long: `Starts the PKCE authorization-code flow for the named server: opens
the authorization URL in a browser and waits on the fixed loopback
callback (spec.md §5) for the result. The server must already have an
OAuth configuration in the store before this can succeed; "server add"
does not set one.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthLogin,
}

var authStatusCmd = &cobra.Command{
	Use:   "status <server>",
	Short: "Print the OAuth state machine state for a server",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthStatus,
}

var authRevokeCmd = &cobra.Command{
	Use:   "revoke <server>",
	Short: "Revoke the broker's stored OAuth token for a server",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthRevoke,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd, authStatusCmd, authRevokeCmd)
	authLoginCmd.Flags().StringArrayVar(&authScopes, "scope", nil, "OAuth scope to request (repeatable)")
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	b, err := openBrokerForCmd(cmd)
	if err != nil {
		return err
	}
	defer b.Shutdown(cmd.Context())

	id, ok := b.Servers.ResolveID(args[0])
	if !ok {
		return fmt.Errorf("unknown server %q", args[0])
	}

	ctx, cancel := contextWithTimeout(cmd, authFlowTimeout)
	defer cancel()

	if err := b.OAuthCore.Authenticate(ctx, id, authScopes); err != nil {
		return fmt.Errorf("authorizing %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], b.OAuthCore.State(id))
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	b, err := openBrokerForCmd(cmd)
	if err != nil {
		return err
	}
	defer b.Shutdown(cmd.Context())

	id, ok := b.Servers.ResolveID(args[0])
	if !ok {
		return fmt.Errorf("unknown server %q", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], b.OAuthCore.State(id))
	return nil
}

func runAuthRevoke(cmd *cobra.Command, args []string) error {
	b, err := openBrokerForCmd(cmd)
	if err != nil {
		return err
	}
	defer b.Shutdown(cmd.Context())

	id, ok := b.Servers.ResolveID(args[0])
	if !ok {
		return fmt.Errorf("unknown server %q", args[0])
	}
	if err := b.OAuthCore.Revoke(cmd.Context(), id); err != nil {
		return fmt.Errorf("revoking %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "revoked credentials for %s\n", args[0])
	return nil
}
