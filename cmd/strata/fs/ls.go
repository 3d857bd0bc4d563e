package fscmder

import (
	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/cmd/strata/dbopen"
	"github.com/papercomputeco/strata/pkg/uri"
)

const lsLongDesc string = `List the children of a directory with their abstracts.

The URI may be given in full or relative to the root.

Examples:
  strata ls
  strata ls resources
  strata ls strata://user/alice/memories --recursive`

func NewLsCmd() *cobra.Command {
	var recursive, asJSON bool

	cmd := &cobra.Command{
		Use:   "ls [uri]",
		Short: "List a directory",
		Long:  lsLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := uriArg(args, uri.Root)
			if err != nil {
				return err
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := db.Ls(cmd.Context(), u, recursive)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			printEntries(cmd.OutOrStdout(), entries, recursive)
			return nil
		},
	}

	dbopen.Register(cmd)
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "List every descendant")
	addJSONFlag(cmd, &asJSON)

	return cmd
}
