// Package watchcmder provides the watch command, which mirrors a local
// folder into the context tree.
package watchcmder

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/cmd/strata/dbopen"
	"github.com/papercomputeco/strata/pkg/cliui"
	"github.com/papercomputeco/strata/pkg/config"
	"github.com/papercomputeco/strata/pkg/watch"
)

const watchLongDesc string = `Mirror a local folder into the context tree.

The folder is synced once on start: new files are added, changed files are
updated (which marks their summaries stale) and deleted files are removed.
Further changes are synced as they happen until interrupted. Hidden files and
directories are skipped.

Examples:
  strata watch ./docs
  strata watch ./notes --target resources/notes`

func NewWatchCmd() *cobra.Command {
	var (
		target   string
		debounce time.Duration
		maxBytes int64
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Keep a folder in sync with the context tree",
		Long:  watchLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if target != "" {
				var err error
				if target, err = dbopen.ResolveURI(target); err != nil {
					return err
				}
			}

			db, _, err := dbopen.Open(ctx, cmd, config.FlagTierWorkers, config.FlagEmbedWorkers)
			if err != nil {
				return err
			}
			defer db.Close()

			w := cmd.OutOrStdout()
			var watcher *watch.Watcher
			err = cliui.Step(w, "Syncing "+args[0], func() error {
				var err error
				watcher, err = db.Watch(ctx, watch.Config{
					Dir:          args[0],
					Target:       target,
					Debounce:     debounce,
					MaxFileBytes: maxBytes,
				})
				return err
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(w, "  Watching %s %s %s\n",
				args[0], cliui.DimStyle.Render("->"), cliui.URIStyle.Render(watcher.Target()))
			fmt.Fprintln(w, cliui.DimStyle.Render("  Press Ctrl+C to stop."))

			<-ctx.Done()
			watcher.Stop()
			return nil
		},
	}

	dbopen.Register(cmd, config.FlagTierWorkers, config.FlagEmbedWorkers)
	cmd.Flags().StringVarP(&target, "target", "t", "", "Tree directory to mirror into (default: strata://resources/<dir name>)")
	cmd.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "Quiet period before syncing a burst of changes")
	cmd.Flags().Int64Var(&maxBytes, "max-file-bytes", 8<<20, "Skip files larger than this")
	return cmd
}
