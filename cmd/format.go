package cmd

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// newTable creates a go-pretty table.Writer with the rounded style and
// bold cyan headers used across every list subcommand, grounded on the
// teacher's cmd/list.go table construction.
func newTable(out io.Writer, headers ...string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)

	row := make(table.Row, len(headers))
	for i, h := range headers {
		row[i] = text.Colors{text.FgHiCyan, text.Bold}.Sprint(h)
	}
	t.AppendHeader(row)
	return t
}
