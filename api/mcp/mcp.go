// Package mcp provides an MCP (Model Context Protocol) server over a strata
// context database.
package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/strata/pkg/contextdb"
	"github.com/papercomputeco/strata/pkg/utils"
)

type Config struct {
	// DB serves every tool.
	DB *contextdb.DB

	// ReadOnly registers only the tools that do not modify the database.
	ReadOnly bool

	// Noop for empty MCP server
	Noop bool

	// Logger is the configured slog logger
	Logger *slog.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server exposing the context database tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "strata",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if !c.Noop {
		if c.DB == nil {
			return nil, errors.New("context database is required")
		}
		if c.Logger == nil {
			return nil, errors.New("logger is required")
		}
		s.addTools(mcpServer)
	}

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

func (s *Server) addTools(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{Name: findToolName, Description: findDescription}, s.handleFind)
	mcp.AddTool(server, &mcp.Tool{Name: searchToolName, Description: searchDescription}, s.handleSearch)
	mcp.AddTool(server, &mcp.Tool{Name: readToolName, Description: readDescription}, s.handleRead)
	mcp.AddTool(server, &mcp.Tool{Name: lsToolName, Description: lsDescription}, s.handleLs)
	mcp.AddTool(server, &mcp.Tool{Name: globToolName, Description: globDescription}, s.handleGlob)
	mcp.AddTool(server, &mcp.Tool{Name: grepToolName, Description: grepDescription}, s.handleGrep)
	mcp.AddTool(server, &mcp.Tool{Name: skillsToolName, Description: skillsDescription}, s.handleSkills)

	if s.config.ReadOnly {
		return
	}

	mcp.AddTool(server, &mcp.Tool{Name: addResourceToolName, Description: addResourceDescription}, s.handleAddResource)
	mcp.AddTool(server, &mcp.Tool{Name: addMessageToolName, Description: addMessageDescription}, s.handleAddMessage)
	mcp.AddTool(server, &mcp.Tool{Name: commitToolName, Description: commitDescription}, s.handleCommit)
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

// jsonResult serializes out into a TextContent block alongside the
// structured output, for clients that only read text content.
func jsonResult[T any](out T) (*mcp.CallToolResult, T, error) {
	jsonBytes, err := json.Marshal(out)
	if err != nil {
		var zero T
		return toolError("Failed to serialize results: %v", err), zero, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, out, nil
}
