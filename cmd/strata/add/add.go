// Package addcmder provides the add command for importing resources.
package addcmder

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/cmd/strata/dbopen"
	"github.com/papercomputeco/strata/pkg/cliui"
	"github.com/papercomputeco/strata/pkg/config"
	"github.com/papercomputeco/strata/pkg/ingest"
)

type addCommander struct {
	name     string
	target   string
	typeHint string
	timeout  time.Duration
}

const addLongDesc string = `Add a resource to the context database.

The source is a local file or directory, an http(s) URL, or "-" for stdin.
Documents are split into sections, every node gets an abstract and an
overview, and everything is embedded for retrieval. The command returns
once processing has finished.

Examples:
  strata add ./docs
  strata add https://example.com/guide.html --target strata://resources/guides
  cat notes.md | strata add - --name notes.md`

const addShortDesc string = "Add a file, directory or URL"

func NewAddCmd() *cobra.Command {
	cmder := &addCommander{}

	cmd := &cobra.Command{
		Use:   "add <path|url|->",
		Short: addShortDesc,
		Long:  addLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0])
		},
	}

	dbopen.Register(cmd, config.FlagTierWorkers, config.FlagEmbedWorkers)
	cmd.Flags().StringVarP(&cmder.name, "name", "n", "", "Resource name (default: the file or URL base name)")
	cmd.Flags().StringVarP(&cmder.target, "target", "t", "", "Directory to add under (default: strata://resources)")
	cmd.Flags().StringVar(&cmder.typeHint, "type", "", "Parser to use (markdown, html, text)")
	cmd.Flags().DurationVar(&cmder.timeout, "timeout", 10*time.Minute, "How long to wait for processing")

	return cmd
}

func (c *addCommander) source(cmd *cobra.Command, arg string) (ingest.Source, error) {
	src := ingest.Source{Name: c.name, TypeHint: c.typeHint}

	if c.target != "" {
		target, err := dbopen.ResolveURI(c.target)
		if err != nil {
			return src, err
		}
		src.Target = target
	}

	switch {
	case arg == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return src, fmt.Errorf("reading stdin: %w", err)
		}
		if src.Name == "" {
			return src, fmt.Errorf("--name is required when reading stdin")
		}
		src.Data = data
	case strings.HasPrefix(arg, "http://"), strings.HasPrefix(arg, "https://"):
		src.URL = arg
	default:
		src.Path = arg
	}
	return src, nil
}

func (c *addCommander) run(cmd *cobra.Command, arg string) error {
	ctx := cmd.Context()

	src, err := c.source(cmd, arg)
	if err != nil {
		return err
	}

	db, _, err := dbopen.Open(ctx, cmd, config.FlagTierWorkers, config.FlagEmbedWorkers)
	if err != nil {
		return err
	}
	defer db.Close()

	w := cmd.OutOrStdout()

	var root string
	err = cliui.Step(w, "Importing "+arg, func() error {
		var err error
		root, err = db.AddResource(ctx, src)
		return err
	})
	if err != nil {
		return err
	}

	err = cliui.Step(w, "Summarizing and indexing", func() error {
		return db.WaitProcessed(ctx, root, c.timeout)
	})
	if err != nil {
		return err
	}

	st, err := db.Status(root)
	if err != nil {
		return err
	}
	if len(st.FailedNodes) > 0 {
		fmt.Fprintf(w, "  %s %d nodes failed tier generation; see strata status %s\n",
			cliui.WarnStyle.Render("!"), len(st.FailedNodes), root)
	}

	fmt.Fprintf(w, "\n  %s %s\n\n", cliui.KeyStyle.Render("Added"), cliui.URIStyle.Render(root))
	return nil
}
