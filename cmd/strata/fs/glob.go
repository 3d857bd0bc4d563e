package fscmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/cmd/strata/dbopen"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
)

func NewGlobCmd() *cobra.Command {
	var (
		scope  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "glob <pattern>",
		Short: "Match leaf URIs against a pattern",
		Long: `Match leaf URIs below a scope against a glob pattern. * matches within
one path segment and ** matches any number of segments.

Examples:
  strata glob "**/*.md/*"
  strata glob "*/preferences/*" --scope strata://user`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dbopen.ResolveURI(scope)
			if err != nil {
				return err
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			matches, err := db.Glob(args[0], s)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(w, matches)
			}
			for _, m := range matches {
				fmt.Fprintln(w, m)
			}
			return nil
		},
	}

	dbopen.Register(cmd)
	cmd.Flags().StringVarP(&scope, "scope", "s", uri.Root, "Directory to match under")
	addJSONFlag(cmd, &asJSON)

	return cmd
}

func NewGrepCmd() *cobra.Command {
	var (
		scope  string
		opts   tree.GrepOptions
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "grep <pattern>",
		Short: "Search document content line by line",
		Long: `Search the full content of every document below a scope.

Examples:
  strata grep "connection pool"
  strata grep -i -E "retr(y|ies)" --scope resources`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dbopen.ResolveURI(scope)
			if err != nil {
				return err
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			matches, err := db.Grep(cmd.Context(), args[0], s, opts)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(w, matches)
			}
			for _, m := range matches {
				fmt.Fprintf(w, "%s:%d: %s\n", m.URI, m.Line, m.Text)
			}
			return nil
		},
	}

	dbopen.Register(cmd)
	cmd.Flags().StringVarP(&scope, "scope", "s", uri.Root, "Directory to search under")
	cmd.Flags().BoolVarP(&opts.IgnoreCase, "ignore-case", "i", false, "Match case insensitively")
	cmd.Flags().BoolVarP(&opts.Regex, "regexp", "E", false, "Treat the pattern as a regular expression")
	cmd.Flags().IntVarP(&opts.Limit, "max-count", "m", 0, "Stop after this many matching lines (0 for no limit)")
	addJSONFlag(cmd, &asJSON)

	return cmd
}
