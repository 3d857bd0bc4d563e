package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var (
	skillsToolName    = "skills"
	skillsDescription = "List the skills stored for an agent: reusable instructions with a description of when to use each. Read a skill's URI at detail level for its full instructions."
)

// SkillsInput represents the input arguments for the skills tool.
type SkillsInput struct {
	Agent string `json:"agent,omitempty" jsonschema:"the agent whose skills to list (default: default)"`
}

// SkillSummary describes one stored skill.
type SkillSummary struct {
	URI         string   `json:"uri"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	Tags        []string `json:"tags,omitempty"`
}

// SkillsOutput represents the output of the skills tool.
type SkillsOutput struct {
	Skills []SkillSummary `json:"skills"`
	Count  int            `json:"count"`
}

func (s *Server) handleSkills(ctx context.Context, _ *mcp.CallToolRequest, input SkillsInput) (*mcp.CallToolResult, SkillsOutput, error) {
	skills, err := s.config.DB.Skills(ctx, input.Agent)
	if err != nil {
		return toolError("Listing skills failed: %v", err), SkillsOutput{}, nil
	}

	out := SkillsOutput{Skills: make([]SkillSummary, 0, len(skills))}
	for _, sk := range skills {
		out.Skills = append(out.Skills, SkillSummary{
			URI:         sk.URI,
			Name:        sk.Name,
			Description: sk.Description,
			Type:        sk.Type,
			Tags:        sk.Tags,
		})
	}
	out.Count = len(out.Skills)
	return jsonResult(out)
}
