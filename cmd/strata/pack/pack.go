// Package packcmder provides the export and import commands for portable
// subtree packs.
package packcmder

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/cmd/strata/dbopen"
	"github.com/papercomputeco/strata/pkg/cliui"
	"github.com/papercomputeco/strata/pkg/pack"
	"github.com/papercomputeco/strata/pkg/uri"
)

func NewExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <uri>",
		Short: "Export a subtree to a pack file",
		Long: `Export a subtree, with its tier content and metadata, to a portable
zip pack. The output defaults to <name>` + pack.Extension + ` in the current directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := dbopen.ResolveURI(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = uri.Base(u) + pack.Extension
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating %s: %w", output, err)
			}

			n, err := db.Export(cmd.Context(), u, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(output)
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "  %s Exported %d nodes to %s\n", cliui.SuccessMark, n, output)
			return nil
		},
	}

	dbopen.Register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Pack file to write")
	return cmd
}

func NewImportCmd() *cobra.Command {
	var (
		parent string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a pack file under a directory",
		Long: `Import a pack file under --parent. An existing subtree of the same name is
a conflict unless --force is set, in which case it is replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := dbopen.ResolveURI(parent)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}
			if info.IsDir() {
				return errors.New("import expects a pack file, not a directory")
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			w := cmd.OutOrStdout()
			var root string
			err = cliui.Step(w, "Importing "+args[0], func() error {
				var err error
				root, err = db.Import(cmd.Context(), f, info.Size(), p, pack.ImportOptions{Force: force})
				return err
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(w, "  %s %s\n", cliui.KeyStyle.Render("imported"), cliui.URIStyle.Render(root))
			return nil
		},
	}

	dbopen.Register(cmd)
	cmd.Flags().StringVarP(&parent, "parent", "p", uri.Resources, "Directory to import under")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing subtree")
	return cmd
}
