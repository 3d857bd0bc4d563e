package fscmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/cmd/strata/dbopen"
	"github.com/papercomputeco/strata/pkg/cliui"
)

func NewMkdirCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkdir <uri>",
		Short: "Create a directory and any missing parents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := dbopen.ResolveURI(args[0])
			if err != nil {
				return err
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := db.Mkdir(cmd.Context(), u)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", cliui.SuccessMark, cliui.URIStyle.Render(n.URI))
			return nil
		},
	}

	dbopen.Register(cmd)
	return cmd
}

func NewMvCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "mv <uri> <dest-dir>",
		Short: "Move a node into another directory",
		Long: `Move a node, with its subtree, into another directory. Abstracts and
overviews of both the old and the new parent are regenerated and the moved
nodes are re-indexed under their new URIs.

Examples:
  strata mv resources/draft.md resources/published
  strata mv resources/draft.md resources --name final.md`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := dbopen.ResolveURI(args[0])
			if err != nil {
				return err
			}
			dst, err := dbopen.ResolveURI(args[1])
			if err != nil {
				return err
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			moved, err := db.Move(cmd.Context(), src, dst, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s %s -> %s\n", cliui.SuccessMark, src, cliui.URIStyle.Render(moved))
			return nil
		},
	}

	dbopen.Register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "New name for the moved node")
	return cmd
}

func NewRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <uri>",
		Short: "Remove a node and its subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := dbopen.ResolveURI(args[0])
			if err != nil {
				return err
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			removed, err := db.Remove(cmd.Context(), u)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s removed %d nodes\n", cliui.SuccessMark, len(removed))
			return nil
		},
	}

	dbopen.Register(cmd)
	return cmd
}
