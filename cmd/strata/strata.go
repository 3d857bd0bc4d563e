// Package stratacmder is the root of the strata CLI.
package stratacmder

import (
	"github.com/spf13/cobra"

	addcmder "github.com/papercomputeco/strata/cmd/strata/add"
	authcmder "github.com/papercomputeco/strata/cmd/strata/auth"
	configcmder "github.com/papercomputeco/strata/cmd/strata/config"
	decaycmder "github.com/papercomputeco/strata/cmd/strata/decay"
	findcmder "github.com/papercomputeco/strata/cmd/strata/find"
	fscmder "github.com/papercomputeco/strata/cmd/strata/fs"
	initcmder "github.com/papercomputeco/strata/cmd/strata/init"
	packcmder "github.com/papercomputeco/strata/cmd/strata/pack"
	servecmder "github.com/papercomputeco/strata/cmd/strata/serve"
	sessioncmder "github.com/papercomputeco/strata/cmd/strata/session"
	skillcmder "github.com/papercomputeco/strata/cmd/strata/skill"
	versioncmder "github.com/papercomputeco/strata/cmd/strata/version"
	watchcmder "github.com/papercomputeco/strata/cmd/strata/watch"
)

const strataLongDesc string = `Strata is a context database for AI agents.

Resources, memories and skills live in one virtual filesystem addressed by
strata:// URIs. Every node carries three tiers: a one-line abstract, an
overview and the full detail, so agents can read only as deep as they need.

Get started:
  strata init                  Create a .strata directory here
  strata add ./docs            Import a folder of documents
  strata find "how do I..."    Retrieve context for a query
  strata serve                 Run the HTTP API and MCP server`

const strataShortDesc string = "Strata - Context Database for Agents"

func NewStrataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "strata",
		Short:        strataShortDesc,
		Long:         strataLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Directory holding .strata state (default: ./.strata, then ~/.strata)")

	cmd.AddGroup(
		&cobra.Group{ID: "setup", Title: "Setup:"},
		&cobra.Group{ID: "context", Title: "Context:"},
		&cobra.Group{ID: "memory", Title: "Memory:"},
	)

	add := func(group string, cmds ...*cobra.Command) {
		for _, c := range cmds {
			c.GroupID = group
			cmd.AddCommand(c)
		}
	}

	add("setup",
		initcmder.NewInitCmd(),
		configcmder.NewConfigCmd(),
		authcmder.NewAuthCmd(),
		servecmder.NewServeCmd(),
	)
	add("context",
		addcmder.NewAddCmd(),
		watchcmder.NewWatchCmd(),
		fscmder.NewLsCmd(),
		fscmder.NewTreeCmd(),
		fscmder.NewReadCmd(),
		fscmder.NewGlobCmd(),
		fscmder.NewGrepCmd(),
		fscmder.NewMkdirCmd(),
		fscmder.NewMvCmd(),
		fscmder.NewRmCmd(),
		fscmder.NewStatusCmd(),
		findcmder.NewFindCmd(),
		findcmder.NewSearchCmd(),
		packcmder.NewExportCmd(),
		packcmder.NewImportCmd(),
	)
	add("memory",
		sessioncmder.NewSessionCmd(),
		skillcmder.NewSkillCmd(),
		decaycmder.NewDecayCmd(),
	)
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
