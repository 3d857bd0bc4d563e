package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/strata/pkg/skill"
)

// AddSkillRequest stores a skill. Markdown, when set, is a SKILL.md
// document and takes precedence over the individual fields.
type AddSkillRequest struct {
	Agent       string   `json:"agent"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	Tags        []string `json:"tags"`
	Content     string   `json:"content"`
	Markdown    string   `json:"markdown"`
	Replace     bool     `json:"replace"`
}

// GenerateSkillRequest distills a skill from sessions.
type GenerateSkillRequest struct {
	Sessions []string `json:"sessions"`
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Replace  bool     `json:"replace"`
}

func (s *Server) handleAddSkill(c *fiber.Ctx) error {
	var req AddSkillRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	var (
		u   string
		err error
	)
	if req.Markdown != "" {
		u, err = s.db.ImportSkill(c.Context(), req.Agent, req.Markdown, req.Replace)
	} else {
		u, err = s.db.AddSkill(c.Context(), req.Agent, &skill.Skill{
			Name:        req.Name,
			Description: req.Description,
			Type:        req.Type,
			Tags:        req.Tags,
			Content:     req.Content,
		}, req.Replace)
	}
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(URIResponse{URI: u})
}

func (s *Server) handleListSkills(c *fiber.Ctx) error {
	skills, err := s.db.Skills(c.Context(), c.Query("agent"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(skills)
}

func (s *Server) handleGenerateSkill(c *fiber.Ctx) error {
	var req GenerateSkillRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Name == "" {
		return badRequest(c, "name is required")
	}

	u, err := s.db.GenerateSkill(c.Context(), req.Sessions, req.Name, req.Type, req.Replace)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(URIResponse{URI: u})
}
