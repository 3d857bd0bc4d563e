package skill

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/llm"
	"github.com/papercomputeco/strata/pkg/logger"
)

const (
	maxGenerateRetries = 3

	// maxTranscriptChars truncates long transcripts before prompting.
	maxTranscriptChars = 30000
)

const systemPrompt = `You distill reusable skills from agent sessions. Reply with a single JSON object and nothing else.`

// Transcript is one conversation a skill is distilled from.
type Transcript struct {
	SessionID string
	Text      string
}

// Generator extracts skills from session transcripts via an LLM.
type Generator struct {
	completer llm.Completer
	now       func() time.Time
	logger    *slog.Logger
}

// NewGenerator creates a Generator over completer.
func NewGenerator(completer llm.Completer, log *slog.Logger) *Generator {
	if log == nil {
		log = logger.Nop()
	}
	return &Generator{
		completer: completer,
		now:       time.Now,
		logger:    logger.Component(log, "skill"),
	}
}

// Generate distills one skill named name from the given transcripts.
func (g *Generator) Generate(ctx context.Context, transcripts []Transcript, name, skillType string) (*Skill, error) {
	if len(transcripts) == 0 {
		return nil, errs.Invalid("sessions", "", "at least one session is required")
	}
	if skillType == "" {
		skillType = SkillTypes[0]
	}
	if !ValidSkillType(skillType) {
		return nil, errs.Invalid("type", skillType, "expected one of "+strings.Join(SkillTypes, ", "))
	}

	texts := make([]string, 0, len(transcripts))
	sessions := make([]string, 0, len(transcripts))
	for _, t := range transcripts {
		texts = append(texts, t.Text)
		sessions = append(sessions, t.SessionID)
	}
	combined := strings.Join(texts, "\n---\n")
	if len(combined) > maxTranscriptChars {
		combined = combined[:maxTranscriptChars]
	}

	req := llm.Request{
		System:  systemPrompt,
		Prompt:  buildPrompt(name, skillType),
		Context: "Transcript(s):\n" + combined,
		JSON:    true,
	}

	var lastErr error
	for attempt := range maxGenerateRetries {
		if attempt > 0 {
			req.Prompt = buildPrompt(name, skillType) + "\n\nReturn ONLY valid JSON, no markdown."
			g.logger.Debug("retrying skill generation", "name", name, "attempt", attempt+1)
		}

		response, err := g.completer.Complete(ctx, req)
		if err != nil {
			return nil, err
		}

		var sk Skill
		if err := llm.DecodeJSON(response, &sk); err != nil {
			lastErr = fmt.Errorf("parse response (attempt %d): %w", attempt+1, err)
			continue
		}
		if strings.TrimSpace(sk.Content) == "" {
			lastErr = fmt.Errorf("response has no content (attempt %d)", attempt+1)
			continue
		}

		sk.Name = name
		sk.Type = skillType
		sk.Sessions = sessions
		sk.Version = defaultVersion
		sk.CreatedAt = g.now().UTC()
		return &sk, nil
	}

	return nil, errs.Provider("llm", "skill generation", lastErr)
}

func buildPrompt(name, skillType string) string {
	return fmt.Sprintf(`Analyze the following agent session transcript(s) and extract a reusable skill.

The skill should be named %q and categorized as %q.

Return ONLY valid JSON with these fields:

{
  "description": "A clear description with trigger phrases for when an agent should use this skill. Start with an action verb.",
  "tags": ["array", "of", "relevant", "tags"],
  "content": "Markdown body with step-by-step instructions in imperative form. Use ## headers and numbered steps."
}

Guidelines for extraction:
- Identify the reusable pattern or workflow from the session(s)
- Write a clear description with trigger phrases (e.g. "Use when debugging flaky tests")
- Write step-by-step instructions in imperative form
- Focus on the generalizable technique, not session-specific details
- Include any important caveats or edge cases observed`, name, skillType)
}
