package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/strata/pkg/ingest"
	"github.com/papercomputeco/strata/pkg/session"
)

var (
	addResourceToolName    = "add_resource"
	addResourceDescription = "Add a resource to the context database from a URL or inline content. The resource is split into sections and summarized in the background; set wait to block until it is searchable."

	addMessageToolName    = "session_add_message"
	addMessageDescription = "Append a message to a session. Omit session_id to open a new session; the returned session_id must be passed on later calls."

	commitToolName    = "session_commit"
	commitDescription = "Commit a session: durable memories are extracted from its messages, merged into the user and agent memory directories, and the session is archived. Committing twice is a no-op."
)

const waitTimeout = 2 * time.Minute

// AddResourceInput represents the input arguments for the add_resource tool.
type AddResourceInput struct {
	URL     string `json:"url,omitempty" jsonschema:"an http(s) URL to fetch"`
	Content string `json:"content,omitempty" jsonschema:"inline document content, used when url is empty"`
	Name    string `json:"name,omitempty" jsonschema:"the resource name, e.g. notes.md"`
	Target  string `json:"target,omitempty" jsonschema:"the strata:// directory to add under (default: strata://resources)"`
	Wait    bool   `json:"wait,omitempty" jsonschema:"block until summaries and vectors are ready"`
}

// URIOutput carries the URI produced by a tool.
type URIOutput struct {
	URI string `json:"uri"`
}

// AddMessageInput represents the input arguments for the session_add_message tool.
type AddMessageInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"the session to append to; empty opens a new one"`
	User      string `json:"user,omitempty" jsonschema:"the user the session belongs to, used when opening a session"`
	Role      string `json:"role" jsonschema:"user, assistant, system or tool"`
	Text      string `json:"text" jsonschema:"the message text"`
}

// AddMessageOutput represents the output of the session_add_message tool.
type AddMessageOutput struct {
	SessionID string `json:"session_id"`
	Messages  int    `json:"messages"`
}

// CommitInput represents the input arguments for the session_commit tool.
type CommitInput struct {
	SessionID string `json:"session_id" jsonschema:"the session to commit"`
}

// CommitOutput represents the output of the session_commit tool.
type CommitOutput struct {
	SessionID  string   `json:"session_id"`
	Status     string   `json:"status"`
	MemoryURIs []string `json:"memory_uris"`
	ArchiveURI string   `json:"archive_uri"`
}

func (s *Server) handleAddResource(ctx context.Context, _ *mcp.CallToolRequest, input AddResourceInput) (*mcp.CallToolResult, URIOutput, error) {
	src := ingest.Source{
		URL:    input.URL,
		Name:   input.Name,
		Target: input.Target,
	}
	if input.URL == "" {
		src.Data = []byte(input.Content)
	}

	u, err := s.config.DB.AddResource(ctx, src)
	if err != nil {
		return toolError("Adding resource failed: %v", err), URIOutput{}, nil
	}
	if input.Wait {
		if err := s.config.DB.WaitProcessed(ctx, u, waitTimeout); err != nil {
			return toolError("Resource %s added but processing did not finish: %v", u, err), URIOutput{}, nil
		}
	}

	s.config.Logger.Info("MCP resource added", "uri", u)
	return jsonResult(URIOutput{URI: u})
}

func (s *Server) handleAddMessage(ctx context.Context, _ *mcp.CallToolRequest, input AddMessageInput) (*mcp.CallToolResult, AddMessageOutput, error) {
	if input.Text == "" {
		return toolError("text is required"), AddMessageOutput{}, nil
	}

	id := input.SessionID
	if id == "" {
		sess, err := s.config.DB.NewSession(ctx, input.User, "")
		if err != nil {
			return toolError("Opening session failed: %v", err), AddMessageOutput{}, nil
		}
		id = sess.ID
	}

	if _, err := s.config.DB.AddMessage(ctx, id, input.Role, session.TextPart(input.Text)); err != nil {
		return toolError("Adding message failed: %v", err), AddMessageOutput{}, nil
	}
	sess, err := s.config.DB.GetSession(ctx, id)
	if err != nil {
		return toolError("Loading session failed: %v", err), AddMessageOutput{}, nil
	}

	return jsonResult(AddMessageOutput{SessionID: id, Messages: len(sess.Messages)})
}

func (s *Server) handleCommit(ctx context.Context, _ *mcp.CallToolRequest, input CommitInput) (*mcp.CallToolResult, CommitOutput, error) {
	if input.SessionID == "" {
		return toolError("session_id is required"), CommitOutput{}, nil
	}

	res, err := s.config.DB.Commit(ctx, input.SessionID)
	if err != nil {
		return toolError("Commit failed: %v", err), CommitOutput{}, nil
	}

	uris := res.MemoryURIs
	if uris == nil {
		uris = []string{}
	}
	return jsonResult(CommitOutput{
		SessionID:  res.SessionID,
		Status:     string(res.Status),
		MemoryURIs: uris,
		ArchiveURI: res.ArchiveURI,
	})
}
