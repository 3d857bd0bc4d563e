package fscmder

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/cmd/strata/dbopen"
	"github.com/papercomputeco/strata/pkg/cliui"
	"github.com/papercomputeco/strata/pkg/ingest"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
)

func NewStatusCmd() *cobra.Command {
	var (
		reprocess bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "status [uri]",
		Short: "Show tier and job status for a node",
		Long: `Show the state of a node's abstract, overview and detail, the jobs still
pending below it, and any failures. With --reprocess, tiers and vectors of
the subtree are regenerated.

Examples:
  strata status resources/guide.md
  strata status resources/guide.md --reprocess`,
		Args: cobra.MaximumNArgs(1),
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

			if reprocess {
				err := cliui.Step(cmd.ErrOrStderr(), "Reprocessing "+u, func() error {
					if err := db.Reprocess(cmd.Context(), u); err != nil {
						return err
					}
					return db.WaitProcessed(cmd.Context(), u, 10*time.Minute)
				})
				if err != nil {
					return err
				}
			}

			st, err := db.Status(u)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}

	dbopen.Register(cmd)
	cmd.Flags().BoolVar(&reprocess, "reprocess", false, "Regenerate tiers and vectors before reporting")
	addJSONFlag(cmd, &asJSON)

	return cmd
}

func printStatus(w io.Writer, st *ingest.Status) {
	fmt.Fprintf(w, "\n  %s\n\n", cliui.URIStyle.Render(st.URI))

	tiers := []struct {
		name  string
		state tree.TierState
	}{
		{"abstract", st.Abstract},
		{"overview", st.Overview},
		{"detail", st.Detail},
	}
	for _, t := range tiers {
		status := string(t.state.Status)
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(w, "  %s %-9s %s", cliui.TierBadge(t.state.Status), t.name, cliui.DimStyle.Render(status))
		if t.state.LastError != "" {
			fmt.Fprintf(w, "  %s", cliui.WarnStyle.Render(t.state.LastError))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\n  %s %d\n", cliui.KeyStyle.Render("Pending jobs:"), st.Pending)
	for _, j := range st.Jobs {
		fmt.Fprintf(w, "    %s %s %s\n", cliui.DimStyle.Render(string(j.Kind)), j.URI, cliui.DimStyle.Render(j.State.String()))
	}

	if len(st.Failures) > 0 {
		fmt.Fprintf(w, "\n  %s\n", cliui.KeyStyle.Render("Failures:"))
		for _, f := range st.Failures {
			fmt.Fprintf(w, "    %s %s %s (%d attempts): %s\n", cliui.FailMark, f.Kind, f.URI, f.Attempts, f.Err)
		}
	}
	for _, u := range st.FailedNodes {
		fmt.Fprintf(w, "    %s %s\n", cliui.FailMark, u)
	}
	fmt.Fprintln(w)
}
