// Package fscmder provides the filesystem-style commands (ls, tree, read,
// glob, grep, mkdir, mv, rm, status) over the context tree.
package fscmder

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/cmd/strata/dbopen"
	"github.com/papercomputeco/strata/pkg/cliui"
	"github.com/papercomputeco/strata/pkg/contextdb"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/utils"
)

// uriArg resolves the optional first argument, defaulting to def.
func uriArg(args []string, def string) (string, error) {
	if len(args) == 0 {
		return def, nil
	}
	return dbopen.ResolveURI(args[0])
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func addJSONFlag(cmd *cobra.Command, target *bool) {
	cmd.Flags().BoolVar(target, "json", false, "Print JSON instead of formatted output")
}

// printEntries renders a listing, indented by depth relative to the first
// entry when indent is set.
func printEntries(w io.Writer, entries []contextdb.Entry, indent bool) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "  %s\n", cliui.DimStyle.Render("(empty)"))
		return
	}

	base := entries[0].Depth
	for _, e := range entries {
		pad := ""
		if indent {
			pad = strings.Repeat("  ", max(e.Depth-base, 0))
		}

		name := e.Name
		if name == "" {
			name = e.URI
		}
		if e.Kind == tree.KindDirectory {
			name = cliui.DirStyle.Render(name + "/")
		} else {
			name = cliui.ValueStyle.Render(name)
		}

		flags := ""
		if e.ReadOnly {
			flags += cliui.DimStyle.Render(" [ro]")
		}
		if e.Demoted {
			flags += cliui.DimStyle.Render(" [demoted]")
		}

		fmt.Fprintf(w, "  %s %s%s%s", cliui.TierBadge(e.Status), pad, name, flags)
		if e.Abstract != "" {
			fmt.Fprintf(w, "  %s", cliui.DimStyle.Render(utils.Truncate(oneLine(e.Abstract), 72)))
		}
		fmt.Fprintln(w)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
