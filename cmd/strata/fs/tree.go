package fscmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/cmd/strata/dbopen"
	"github.com/papercomputeco/strata/pkg/uri"
)

func NewTreeCmd() *cobra.Command {
	var (
		depth  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "tree [uri]",
		Short: "Show a directory tree",
		Long: `Show a directory and its descendants, indented by depth.

Examples:
  strata tree
  strata tree resources --depth 2`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if depth < 0 {
				return fmt.Errorf("--depth must not be negative")
			}
			u, err := uriArg(args, uri.Root)
			if err != nil {
				return err
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := db.TreeView(cmd.Context(), u, depth)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			printEntries(cmd.OutOrStdout(), entries, true)
			return nil
		},
	}

	dbopen.Register(cmd)
	cmd.Flags().IntVarP(&depth, "depth", "L", 3, "Maximum depth below the root to show (0 for unlimited)")
	addJSONFlag(cmd, &asJSON)

	return cmd
}
