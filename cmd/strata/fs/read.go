package fscmder

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/cmd/strata/dbopen"
	"github.com/papercomputeco/strata/pkg/cliui"
	"github.com/papercomputeco/strata/pkg/contextdb"
)

func NewReadCmd() *cobra.Command {
	var (
		level string
		raw   bool
	)

	cmd := &cobra.Command{
		Use:   "read <uri>",
		Short: "Read a node at a detail level",
		Long: `Read a node as its abstract (one sentence), its overview (a few
paragraphs) or its full detail. Directories have an abstract and an
overview but no detail.

Examples:
  strata read resources/guide.md/install
  strata read resources/guide.md --level overview
  strata read strata://user/alice/memories/preferences --level abstract --raw`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := contextdb.ParseLevel(level)
			if err != nil {
				return err
			}
			u, err := dbopen.ResolveURI(args[0])
			if err != nil {
				return err
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			text, err := db.Read(cmd.Context(), u, lvl)
			if errors.Is(err, contextdb.ErrNotReady) {
				return fmt.Errorf("the %s of %s has not been generated yet; run strata status %s", lvl, u, u)
			}
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if raw {
				fmt.Fprintln(w, text)
				return nil
			}
			rendered, err := cliui.RenderMarkdown(text)
			if err != nil {
				rendered = text
			}
			fmt.Fprint(w, rendered)
			return nil
		},
	}

	dbopen.Register(cmd)
	cmd.Flags().StringVar(&level, "level", "detail", "Level to read (abstract, overview, detail)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the text without markdown rendering")

	return cmd
}
