// Package decaycmder provides the decay command.
package decaycmder

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/cmd/strata/dbopen"
	"github.com/papercomputeco/strata/pkg/cliui"
	"github.com/papercomputeco/strata/pkg/config"
)

const decayLongDesc string = `Run one memory decay pass.

Session-derived memories that no retrieval has returned within the configured
max age are demoted (excluded from default retrieval) or deleted, depending on
--action. Resources are never touched.

Use --at to evaluate ages as of another time, for example to preview what a
future pass would do.`

func NewDecayCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Demote or delete stale memories",
		Long:  decayLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at %q: expected RFC 3339", at)
				}
				now = t
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd, config.FlagDecayAction)
			if err != nil {
				return err
			}
			defer db.Close()

			report, err := db.Decay(cmd.Context(), now)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(report.Affected) == 0 {
				fmt.Fprintln(w, "No stale memories.")
				return nil
			}
			for _, u := range report.Affected {
				fmt.Fprintf(w, "  %s %s\n", cliui.WarnStyle.Render(string(report.Action)), cliui.URIStyle.Render(u))
			}
			fmt.Fprintf(w, "\n  %d memories %sd\n", len(report.Affected), report.Action)
			return nil
		},
	}

	dbopen.Register(cmd, config.FlagDecayAction)
	cmd.Flags().StringVar(&at, "at", "", "Evaluate memory ages as of this RFC 3339 time")
	return cmd
}
