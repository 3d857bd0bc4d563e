package skill

import (
	"fmt"
	"strings"
	"time"

	"github.com/papercomputeco/strata/pkg/errs"
)

// Render renders a Skill as its SKILL.md representation (frontmatter +
// body).
func Render(sk *Skill) string {
	var b strings.Builder

	b.WriteString("---\n")
	fmt.Fprintf(&b, "name: %s\n", sk.Name)
	fmt.Fprintf(&b, "description: %s\n", oneLine(sk.Description))
	fmt.Fprintf(&b, "version: %s\n", sk.Version)
	if len(sk.Tags) > 0 {
		fmt.Fprintf(&b, "tags: [%s]\n", strings.Join(sk.Tags, ", "))
	}
	if sk.Type != "" {
		fmt.Fprintf(&b, "type: %s\n", sk.Type)
	}
	if len(sk.Sessions) > 0 {
		fmt.Fprintf(&b, "sessions: [%s]\n", strings.Join(sk.Sessions, ", "))
	}
	if !sk.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "created_at: %s\n", sk.CreatedAt.UTC().Format(time.RFC3339))
	}
	b.WriteString("---\n\n")
	b.WriteString(sk.Content)

	if !strings.HasSuffix(sk.Content, "\n") {
		b.WriteString("\n")
	}

	return b.String()
}

// Parse reads a SKILL.md document.
func Parse(content string) (*Skill, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(content, "---\n") {
		return nil, errs.Invalid("skill", "", "missing frontmatter delimiter")
	}

	frontmatter, body, ok := strings.Cut(content[4:], "\n---\n")
	if !ok {
		return nil, errs.Invalid("skill", "", "missing closing frontmatter delimiter")
	}

	sk := &Skill{
		Content: strings.TrimSpace(body),
		Version: defaultVersion,
	}

	for line := range strings.SplitSeq(frontmatter, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = unquote(strings.TrimSpace(value))

		switch strings.TrimSpace(key) {
		case "name":
			sk.Name = value
		case "description":
			sk.Description = value
		case "version":
			sk.Version = value
		case "type":
			sk.Type = value
		case "tags":
			sk.Tags = parseBracketList(value)
		case "sessions":
			sk.Sessions = parseBracketList(value)
		case "created_at":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				sk.CreatedAt = t
			}
		}
	}

	return sk, nil
}

func parseBracketList(s string) []string {
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = unquote(strings.TrimSpace(p))
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
