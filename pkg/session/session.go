// Package session accumulates conversation turns and, on commit, distills
// them into long-term memory nodes and archives the message log.
//
// A session moves OPEN -> COMMITTED -> ARCHIVED. Records live in the blob
// store at sessions/<id>.json.
package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/memory"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusOpen Status = "open"

	// StatusCommitting freezes the message log while memories are
	// extracted. A failed extraction reopens the session.
	StatusCommitting Status = "committing"

	StatusCommitted Status = "committed"
	StatusArchived  Status = "archived"
)

// PartType discriminates message parts.
type PartType string

const (
	PartText    PartType = "text"
	PartContext PartType = "context"
	PartTool    PartType = "tool"
)

// Part is one piece of a message: plain text, a reference to a context
// node the agent used, or a tool call.
type Part struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`

	// Context parts.
	URI         string `json:"uri,omitempty"`
	ContextType string `json:"context_type,omitempty"`
	Abstract    string `json:"abstract,omitempty"`

	// Tool parts.
	ToolID     string         `json:"tool_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolOutput string         `json:"tool_output,omitempty"`
	ToolStatus string         `json:"tool_status,omitempty"`
}

// TextPart is a convenience constructor for a plain text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

func (p Part) validate() error {
	switch p.Type {
	case PartText:
		if strings.TrimSpace(p.Text) == "" {
			return errs.Invalid("text", p.Text, "empty text part")
		}
	case PartContext:
		if p.URI == "" {
			return errs.Invalid("uri", p.URI, "context part needs a uri")
		}
	case PartTool:
		if p.ToolName == "" {
			return errs.Invalid("tool_name", p.ToolName, "tool part needs a name")
		}
	default:
		return errs.Invalid("type", string(p.Type), "unknown part type")
	}
	return nil
}

// render writes the part as transcript text.
func (p Part) render() string {
	switch p.Type {
	case PartContext:
		if p.Abstract == "" {
			return fmt.Sprintf("[context %s]", p.URI)
		}
		return fmt.Sprintf("[context %s] %s", p.URI, p.Abstract)
	case PartTool:
		s := fmt.Sprintf("[tool %s %s]", p.ToolName, p.ToolStatus)
		if len(p.ToolInput) > 0 {
			if in, err := json.Marshal(p.ToolInput); err == nil {
				s += " input=" + string(in)
			}
		}
		if p.ToolOutput != "" {
			s += " output=" + p.ToolOutput
		}
		return s
	default:
		return p.Text
	}
}

// Message is one conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"created_at"`
}

// Text renders every part of the message, one per line.
func (m Message) Text() string {
	lines := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		lines = append(lines, p.render())
	}
	return strings.Join(lines, "\n")
}

var roles = map[string]bool{"user": true, "assistant": true, "system": true, "tool": true}

// Session is a bounded conversation whose commit produces memories.
type Session struct {
	ID          string    `json:"id"`
	User        string    `json:"user"`
	Agent       string    `json:"agent"`
	Status      Status    `json:"status"`
	Messages    []Message `json:"messages"`
	MemoryURIs  []string  `json:"memory_uris,omitempty"`
	ArchiveURI  string    `json:"archive_uri,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CommittedAt time.Time `json:"committed_at,omitzero"`
}

// Turns renders the message log for memory extraction.
func (s *Session) Turns() []memory.Turn {
	out := make([]memory.Turn, 0, len(s.Messages))
	for _, m := range s.Messages {
		out = append(out, memory.Turn{Role: m.Role, Text: m.Text()})
	}
	return out
}

// Transcript renders the full message log as archived.
func (s *Session) Transcript() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\nuser: %s\nagent: %s\n", s.ID, s.User, s.Agent)
	for _, m := range s.Messages {
		fmt.Fprintf(&b, "\n## %s (%s)\n\n%s\n", m.Role, m.CreatedAt.UTC().Format(time.RFC3339), m.Text())
	}
	return b.String()
}

// CommitResult reports the memories a commit produced.
type CommitResult struct {
	SessionID  string   `json:"session_id"`
	Status     Status   `json:"status"`
	MemoryURIs []string `json:"memory_uris"`
	ArchiveURI string   `json:"archive_uri"`
}

func (s *Session) result() *CommitResult {
	return &CommitResult{
		SessionID:  s.ID,
		Status:     s.Status,
		MemoryURIs: append([]string{}, s.MemoryURIs...),
		ArchiveURI: s.ArchiveURI,
	}
}
