// Package skill stores reusable agent skills as nodes of the context tree
// and distills new ones from session transcripts.
//
// A skill is a SKILL.md document: YAML-like frontmatter (name, description,
// tags, type) followed by markdown instructions. Skills live under
// strata://agent/<agent>/skills/<name> and are retrieved like any other
// node.
package skill

import (
	"slices"
	"strings"
	"time"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/uri"
)

// Skill is a reusable set of instructions for an agent.
type Skill struct {
	URI         string    `json:"uri,omitempty"`
	Name        string    `json:"name"`        // kebab-case identifier
	Description string    `json:"description"` // when the agent should use it
	Version     string    `json:"version"`     // semver, default "0.1.0"
	Tags        []string  `json:"tags"`
	Type        string    `json:"type"` // workflow, domain-knowledge, prompt-template
	Content     string    `json:"content"`
	Sessions    []string  `json:"sessions,omitempty"` // source session IDs
	CreatedAt   time.Time `json:"created_at"`
}

const defaultVersion = "0.1.0"

// SkillTypes enumerates valid skill type values.
var SkillTypes = []string{"workflow", "domain-knowledge", "prompt-template"}

// ValidSkillType returns true if the given type is a recognized skill type.
func ValidSkillType(t string) bool {
	return slices.Contains(SkillTypes, t)
}

// Validate checks the fields a stored skill needs and fills defaults.
func (sk *Skill) Validate() error {
	sk.Name = uri.Slug(sk.Name, "")
	if sk.Name == "" {
		return errs.Invalid("name", sk.Name, "skill needs a name")
	}
	if strings.TrimSpace(sk.Content) == "" {
		return errs.Invalid("content", "", "skill has no instructions")
	}
	if sk.Type == "" {
		sk.Type = SkillTypes[0]
	}
	if !ValidSkillType(sk.Type) {
		return errs.Invalid("type", sk.Type, "expected one of "+strings.Join(SkillTypes, ", "))
	}
	if sk.Version == "" {
		sk.Version = defaultVersion
	}
	return nil
}

// Dir returns the directory holding an agent's skills.
func Dir(agent string) string {
	return uri.Join(uri.Join(uri.Join(uri.Root, "agent"), agent), "skills")
}
