// Package findcmder provides the find and search retrieval commands.
package findcmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/cmd/strata/dbopen"
	"github.com/papercomputeco/strata/pkg/cliui"
	"github.com/papercomputeco/strata/pkg/contextdb"
	"github.com/papercomputeco/strata/pkg/retrieve"
	"github.com/papercomputeco/strata/pkg/utils"
)

type findCommander struct {
	scope     string
	limit     int
	threshold float32
	trace     bool
	quiet     bool
	asJSON    bool
}

const findLongDesc string = `Find context relevant to a query.

Retrieval starts at the directories whose abstracts best match the query and
walks down the tree, expanding directories that stay relevant. Each result is
shown with its score, its abstract and the path of directories that led to it.

Use --trace to print every exploration step, and --quiet to print only the
result URIs, one per line.

Examples:
  strata find "how do we rotate credentials"
  strata find "retry policy" --scope resources/runbooks --limit 3
  strata find "deploy steps" --quiet | xargs -n1 strata read`

const searchLongDesc string = `Search context with query planning.

The query is first rewritten by the language model into a few focused
conditions. Each condition is resolved like find and the results are merged,
keeping the best score per node.

Examples:
  strata search "what changed in auth and how do I migrate"
  strata search "release process" --trace`

func NewFindCmd() *cobra.Command {
	return newCmd("find <query>", "Find context with directory-recursive retrieval", findLongDesc,
		func(db *contextdb.DB) retrieveFunc { return db.Find })
}

func NewSearchCmd() *cobra.Command {
	return newCmd("search <query>", "Search context with query planning", searchLongDesc,
		func(db *contextdb.DB) retrieveFunc { return db.Search })
}

type retrieveFunc func(context.Context, retrieve.Query) (*retrieve.Trajectory, error)

func newCmd(use, short, long string, pick func(*contextdb.DB) retrieveFunc) *cobra.Command {
	cmder := &findCommander{}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, strings.Join(args, " "), pick)
		},
	}

	dbopen.Register(cmd)
	cmd.Flags().StringVarP(&cmder.scope, "scope", "s", "", "Restrict retrieval to this subtree")
	cmd.Flags().IntVarP(&cmder.limit, "limit", "k", 0, "Number of results (default from retrieval.default_limit)")
	cmd.Flags().Float32Var(&cmder.threshold, "threshold", 0, "Minimum score (default from retrieval.threshold)")
	cmd.Flags().BoolVar(&cmder.trace, "trace", false, "Print every exploration step")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Output only result URIs, one per line (for piping)")
	cmd.Flags().BoolVar(&cmder.asJSON, "json", false, "Print the full trajectory as JSON")

	return cmd
}

func (c *findCommander) run(cmd *cobra.Command, query string, pick func(*contextdb.DB) retrieveFunc) error {
	if c.limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	q := retrieve.Query{Text: query, Limit: c.limit}
	if cmd.Flags().Changed("threshold") {
		q.Threshold = &c.threshold
	}
	if c.scope != "" {
		scope, err := dbopen.ResolveURI(c.scope)
		if err != nil {
			return err
		}
		q.Scope = scope
	}

	db, _, err := dbopen.Open(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	traj, err := pick(db)(cmd.Context(), q)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch {
	case c.asJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(traj)
	case c.quiet:
		for _, r := range traj.Results {
			fmt.Fprintln(w, r.URI)
		}
		return nil
	}

	printTrajectory(w, traj, c.trace)
	return nil
}

func printTrajectory(w io.Writer, traj *retrieve.Trajectory, trace bool) {
	fmt.Fprintf(w, "\n%s %s\n",
		cliui.HeaderStyle.Render("Results for:"),
		cliui.URIStyle.Render(fmt.Sprintf("%q", traj.Query)),
	)
	if len(traj.Conditions) > 0 {
		fmt.Fprintf(w, "%s %s\n", cliui.KeyStyle.Render("Conditions:"), strings.Join(traj.Conditions, " | "))
	}
	if traj.LowConfidence {
		fmt.Fprintf(w, "%s\n", cliui.WarnStyle.Render("Nothing scored above the threshold; showing the closest matches."))
	}
	fmt.Fprintln(w)

	if trace {
		for _, s := range traj.Steps {
			fmt.Fprintf(w, "  %s%s %s %s\n",
				strings.Repeat("  ", s.Depth),
				cliui.DimStyle.Render(string(s.Decision)),
				s.URI,
				cliui.ScoreStyle.Render(fmt.Sprintf("%.4f", s.Score)),
			)
		}
		fmt.Fprintln(w)
	}

	if len(traj.Results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	for i, r := range traj.Results {
		fmt.Fprintf(w, "  %s  %s  %s\n",
			cliui.RankStyle.Render(fmt.Sprintf("#%d", i+1)),
			cliui.ScoreStyle.Render(fmt.Sprintf("score: %.4f", r.Score)),
			cliui.URIStyle.Render(r.URI),
		)
		if r.Abstract != "" {
			fmt.Fprintf(w, "      %s\n", cliui.ValueStyle.Render(utils.Truncate(oneLine(r.Abstract), 96)))
		}
		if r.Snippet != "" {
			fmt.Fprintf(w, "      %s\n", cliui.DimStyle.Render(utils.Truncate(oneLine(r.Snippet), 96)))
		}
		if len(r.Path) > 0 {
			fmt.Fprintf(w, "      %s\n", cliui.DimStyle.Render(strings.Join(r.Path, " > ")))
		}
		fmt.Fprintln(w)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
