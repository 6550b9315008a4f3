package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	pkgstrings "mcpbroker/pkg/strings"
)

var toolsDescMaxLen int

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect what a token's tool list resolves to on a server",
}

var toolsListCmd = &cobra.Command{
	Use:   "list <token> <server>",
	Short: "List the tools a token may see on a server, after filtering and renaming",
	Args:  cobra.ExactArgs(2),
	RunE:  runToolsList,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.AddCommand(toolsListCmd)
	toolsListCmd.Flags().IntVar(&toolsDescMaxLen, "desc-max-len", pkgstrings.DefaultDescriptionMaxLen,
		"Truncate tool descriptions to this many characters")
}

func runToolsList(cmd *cobra.Command, args []string) error {
	b, err := openBrokerForCmd(cmd)
	if err != nil {
		return err
	}
	defer b.Shutdown(cmd.Context())

	tools, err := b.Router.ListTools(cmd.Context(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("listing tools: %w", err)
	}
	t := newTable(cmd.OutOrStdout(), "NAME", "DESCRIPTION")
	for _, tl := range tools {
		t.AppendRow(table.Row{tl.Name, pkgstrings.TruncateDescription(tl.Description, toolsDescMaxLen)})
	}
	t.Render()
	return nil
}
