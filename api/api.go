package api

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/strata/pkg/contextdb"
)

// Server is the API server for managing and querying a context database.
type Server struct {
	config Config
	db     *contextdb.DB
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server over db.
// The db is injected so the CLI can share it with the MCP server and the
// decay loop. When mcpHandler is non-nil it is mounted at /mcp.
func NewServer(config Config, db *contextdb.DB, mcpHandler http.Handler, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             config.bodyLimit(),
	})

	s := &Server{
		config: config,
		db:     db,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")

	v1.Post("/resources", s.handleAddResource)
	v1.Post("/resources/wait", s.handleWait)
	v1.Post("/resources/reprocess", s.handleReprocess)
	v1.Get("/status", s.handleStatus)

	fs := v1.Group("/fs")
	fs.Get("/ls", s.handleLs)
	fs.Get("/tree", s.handleTree)
	fs.Get("/glob", s.handleGlob)
	fs.Get("/grep", s.handleGrep)
	fs.Get("/read", s.handleRead)
	fs.Post("/mkdir", s.handleMkdir)
	fs.Post("/move", s.handleMove)
	v1.Delete("/fs", s.handleRemove)

	v1.Post("/find", s.handleFind)
	v1.Post("/search", s.handleSearch)

	v1.Post("/sessions", s.handleNewSession)
	v1.Get("/sessions", s.handleListSessions)
	v1.Get("/sessions/:id", s.handleGetSession)
	v1.Delete("/sessions/:id", s.handleDeleteSession)
	v1.Post("/sessions/:id/messages", s.handleAddMessage)
	v1.Post("/sessions/:id/extract", s.handleExtract)
	v1.Post("/sessions/:id/commit", s.handleCommit)

	v1.Post("/skills", s.handleAddSkill)
	v1.Get("/skills", s.handleListSkills)
	v1.Post("/skills/generate", s.handleGenerateSkill)

	v1.Post("/decay", s.handleDecay)
	v1.Get("/export", s.handleExport)
	v1.Post("/import", s.handleImport)

	if mcpHandler != nil {
		app.All("/mcp", adaptor.HTTPHandler(mcpHandler))
	}

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		"listen", s.config.ListenAddr,
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
