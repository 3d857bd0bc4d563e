package api

import (
	"bytes"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/strata/pkg/ingest"
	"github.com/papercomputeco/strata/pkg/pack"
	"github.com/papercomputeco/strata/pkg/retrieve"
	"github.com/papercomputeco/strata/pkg/session"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
)

// AddResourceRequest is the body of POST /v1/resources. Exactly one of
// Path, URL or Data is set.
type AddResourceRequest struct {
	Path     string `json:"path,omitempty"`
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
	Name     string `json:"name,omitempty"`
	TypeHint string `json:"type_hint,omitempty"`
	Target   string `json:"target,omitempty"`

	// Wait blocks the request until the resource is fully processed.
	Wait bool `json:"wait,omitempty"`
}

// URIResponse carries the URI an operation produced.
type URIResponse struct {
	URI string `json:"uri"`
}

// WaitRequest is the body of POST /v1/resources/wait.
type WaitRequest struct {
	Scope   string `json:"scope"`
	Timeout string `json:"timeout,omitempty"`
}

// ReadResponse is returned by GET /v1/fs/read.
type ReadResponse struct {
	URI     string     `json:"uri"`
	Level   tree.Level `json:"level"`
	Content string     `json:"content"`
}

// MoveRequest is the body of POST /v1/fs/move.
type MoveRequest struct {
	Source    string `json:"source"`
	DstParent string `json:"dst_parent"`
	Name      string `json:"name,omitempty"`
}

// QueryRequest is the body of POST /v1/find and POST /v1/search.
type QueryRequest struct {
	Query      string   `json:"query"`
	Scope      string   `json:"scope,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	Mode       string   `json:"mode,omitempty"`
	Threshold  *float32 `json:"threshold,omitempty"`
	IgnoreCase bool     `json:"ignore_case,omitempty"`
	Regex      bool     `json:"regex,omitempty"`
}

// NewSessionRequest is the body of POST /v1/sessions.
type NewSessionRequest struct {
	User  string `json:"user"`
	Agent string `json:"agent,omitempty"`
}

// AddMessageRequest is the body of POST /v1/sessions/:id/messages. Text is
// shorthand for a single leading text part.
type AddMessageRequest struct {
	Role  string         `json:"role"`
	Text  string         `json:"text,omitempty"`
	Parts []session.Part `json:"parts,omitempty"`
}

// DecayRequest is the body of POST /v1/decay. Now defaults to the current time.
type DecayRequest struct {
	Now time.Time `json:"now,omitzero"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

func (s *Server) handleAddResource(c *fiber.Ctx) error {
	var req AddResourceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	src := ingest.Source{
		Path:     req.Path,
		URL:      req.URL,
		Name:     req.Name,
		TypeHint: req.TypeHint,
		Target:   req.Target,
	}
	if req.Data != "" {
		src.Data = []byte(req.Data)
	}

	ctx := c.Context()
	u, err := s.db.AddResource(ctx, src)
	if err != nil {
		return s.fail(c, err)
	}

	if !req.Wait {
		return c.Status(fiber.StatusAccepted).JSON(URIResponse{URI: u})
	}
	if err := s.db.WaitProcessed(ctx, u, s.config.waitTimeout()); err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(URIResponse{URI: u})
}

func (s *Server) handleWait(c *fiber.Ctx) error {
	var req WaitRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	timeout := s.config.waitTimeout()
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			return badRequest(c, "timeout must be a positive duration")
		}
		timeout = d
	}

	scope := req.Scope
	if scope == "" {
		scope = uri.Root
	}
	if err := s.db.WaitProcessed(c.Context(), scope, timeout); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleReprocess(c *fiber.Ctx) error {
	var req URIResponse
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := s.db.Reprocess(c.Context(), req.URI); err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(req)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	st, err := s.db.Status(c.Query("uri"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(st)
}

func (s *Server) handleLs(c *fiber.Ctx) error {
	entries, err := s.db.Ls(c.Context(), c.Query("uri", uri.Root), c.QueryBool("recursive"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(entries)
}

func (s *Server) handleTree(c *fiber.Ctx) error {
	depth := c.QueryInt("depth", 3)
	if depth < 0 {
		return badRequest(c, "depth must not be negative")
	}
	entries, err := s.db.TreeView(c.Context(), c.Query("uri", uri.Root), depth)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(entries)
}

func (s *Server) handleGlob(c *fiber.Ctx) error {
	pattern := c.Query("pattern")
	if pattern == "" {
		return badRequest(c, "pattern parameter is required")
	}
	matches, err := s.db.Glob(pattern, c.Query("scope", uri.Root))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(matches)
}

func (s *Server) handleGrep(c *fiber.Ctx) error {
	pattern := c.Query("pattern")
	if pattern == "" {
		return badRequest(c, "pattern parameter is required")
	}
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return badRequest(c, "limit must not be negative")
	}
	matches, err := s.db.Grep(c.Context(), pattern, c.Query("scope", uri.Root), tree.GrepOptions{
		Regex:      c.QueryBool("regex"),
		IgnoreCase: c.QueryBool("ignore_case"),
		Limit:      limit,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(matches)
}

func (s *Server) handleRead(c *fiber.Ctx) error {
	u := c.Query("uri")
	if u == "" {
		return badRequest(c, "uri parameter is required")
	}
	level, ok := tree.ParseLevel(c.Query("level"))
	if !ok {
		return badRequest(c, fmt.Sprintf("unknown level %q", c.Query("level")))
	}
	text, err := s.db.Read(c.Context(), u, level)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(ReadResponse{URI: u, Level: level, Content: text})
}

func (s *Server) handleMkdir(c *fiber.Ctx) error {
	var req URIResponse
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	n, err := s.db.Mkdir(c.Context(), req.URI)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(URIResponse{URI: n.URI})
}

func (s *Server) handleMove(c *fiber.Ctx) error {
	var req MoveRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	u, err := s.db.Move(c.Context(), req.Source, req.DstParent, req.Name)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(URIResponse{URI: u})
}

func (s *Server) handleRemove(c *fiber.Ctx) error {
	u := c.Query("uri")
	if u == "" {
		return badRequest(c, "uri parameter is required")
	}
	removed, err := s.db.Remove(c.Context(), u)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(map[string]any{
		"count":   len(removed),
		"removed": removed,
	})
}

func (s *Server) handleFind(c *fiber.Ctx) error {
	q, err := parseQuery(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	traj, err := s.db.Find(c.Context(), q)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(traj)
}

func (s *Server) handleSearch(c *fiber.Ctx) error {
	q, err := parseQuery(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	traj, err := s.db.Search(c.Context(), q)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(traj)
}

func parseQuery(c *fiber.Ctx) (retrieve.Query, error) {
	var req QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return retrieve.Query{}, fmt.Errorf("invalid request body")
	}
	if req.Query == "" {
		return retrieve.Query{}, fmt.Errorf("query is required")
	}
	if req.Limit < 0 {
		return retrieve.Query{}, fmt.Errorf("limit must not be negative")
	}
	return retrieve.Query{
		Text:       req.Query,
		Scope:      req.Scope,
		Limit:      req.Limit,
		Mode:       retrieve.Mode(req.Mode),
		Threshold:  req.Threshold,
		IgnoreCase: req.IgnoreCase,
		Regex:      req.Regex,
	}, nil
}

func (s *Server) handleNewSession(c *fiber.Ctx) error {
	var req NewSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	sess, err := s.db.NewSession(c.Context(), req.User, req.Agent)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sess)
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	sessions, err := s.db.ListSessions(c.Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	sess, err := s.db.GetSession(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(sess)
}

func (s *Server) handleDeleteSession(c *fiber.Ctx) error {
	if err := s.db.DeleteSession(c.Context(), c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleAddMessage(c *fiber.Ctx) error {
	var req AddMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	parts := req.Parts
	if req.Text != "" {
		parts = append([]session.Part{session.TextPart(req.Text)}, parts...)
	}
	msg, err := s.db.AddMessage(c.Context(), c.Params("id"), req.Role, parts...)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

func (s *Server) handleExtract(c *fiber.Ctx) error {
	candidates, err := s.db.Extract(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(map[string]any{
		"count":      len(candidates),
		"candidates": candidates,
	})
}

func (s *Server) handleCommit(c *fiber.Ctx) error {
	res, err := s.db.Commit(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(res)
}

func (s *Server) handleDecay(c *fiber.Ctx) error {
	var req DecayRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	report, err := s.db.Decay(c.Context(), req.Now)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(report)
}

func (s *Server) handleExport(c *fiber.Ctx) error {
	u := c.Query("uri")
	if u == "" {
		return badRequest(c, "uri parameter is required")
	}
	var buf bytes.Buffer
	n, err := s.db.Export(c.Context(), u, &buf)
	if err != nil {
		return s.fail(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", uri.Base(u)+pack.Extension))
	c.Set("X-Strata-Nodes", fmt.Sprint(n))
	return c.Send(buf.Bytes())
}

func (s *Server) handleImport(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return badRequest(c, "request body must be a pack archive")
	}
	u, err := s.db.Import(c.Context(), bytes.NewReader(body), int64(len(body)),
		c.Query("parent", uri.Resources), pack.ImportOptions{Force: c.QueryBool("force")})
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(URIResponse{URI: u})
}
