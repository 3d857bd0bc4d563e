// Package servecmder provides the serve command that runs the HTTP API, the
// MCP endpoint and the memory decay loop over one context database.
package servecmder

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/api"
	"github.com/papercomputeco/strata/api/mcp"
	"github.com/papercomputeco/strata/cmd/strata/dbopen"
	"github.com/papercomputeco/strata/pkg/config"
)

type serveCommander struct {
	noMCP       bool
	mcpReadOnly bool
	noDecay     bool
}

const serveLongDesc string = `Run the strata server.

Serves the HTTP API, an MCP endpoint at /mcp for agent tool use, and a
background loop that decays unreferenced session memories. All three share
one context database opened from the resolved configuration.

Examples:
  strata serve
  strata serve --listen :9000 --storage postgres --storage-dsn postgres://localhost/strata
  strata serve --mcp-read-only`

const serveShortDesc string = "Run the strata API and MCP server"

var serveFlags = []string{
	config.FlagAPIListen,
	config.FlagDecayAction,
	config.FlagTierWorkers,
	config.FlagEmbedWorkers,
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	dbopen.Register(cmd, serveFlags...)
	cmd.Flags().BoolVar(&cmder.noMCP, "no-mcp", false, "Do not mount the MCP endpoint")
	cmd.Flags().BoolVar(&cmder.mcpReadOnly, "mcp-read-only", false, "Expose only read tools over MCP")
	cmd.Flags().BoolVar(&cmder.noDecay, "no-decay", false, "Do not run the memory decay loop")

	return cmd
}

func (c *serveCommander) run(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := dbopen.Logger(cmd)

	db, cfg, err := dbopen.Open(ctx, cmd, serveFlags...)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("closing context database", "err", err)
		}
	}()

	mcpServer, err := mcp.NewServer(mcp.Config{
		DB:       db,
		ReadOnly: c.mcpReadOnly,
		Noop:     c.noMCP,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	var handler http.Handler
	if !c.noMCP {
		handler = mcpServer.Handler()
	}
	server := api.NewServer(api.Config{ListenAddr: cfg.API.Listen}, db, handler, log)

	if !c.noDecay {
		db.StartDecay(ctx)
	}

	log.Info("starting strata",
		"api_addr", cfg.API.Listen,
		"mcp", !c.noMCP,
		"storage", cfg.Storage.Backend,
		"vector_store", cfg.VectorStore.Provider,
		"llm", cfg.LLM.Provider,
	)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		log.Info("received signal, shutting down")
	}

	return server.Shutdown()
}
