package contextdb

import (
	"cmp"
	"context"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/session"
	"github.com/papercomputeco/strata/pkg/skill"
	"github.com/papercomputeco/strata/pkg/tree"
)

// AddSkill stores sk for agent; an empty agent is the default agent.
func (db *DB) AddSkill(ctx context.Context, agent string, sk *skill.Skill, replace bool) (string, error) {
	if err := db.checkOpen(); err != nil {
		return "", err
	}
	return db.skills.Add(ctx, cmp.Or(agent, session.DefaultAgent), sk, skill.AddOptions{
		Replace:    replace,
		Provenance: tree.Provenance{Source: "skill:" + sk.Name, Origin: tree.OriginResource},
	})
}

// ImportSkill parses a SKILL.md document and stores it for agent.
func (db *DB) ImportSkill(ctx context.Context, agent, markdown string, replace bool) (string, error) {
	sk, err := skill.Parse(markdown)
	if err != nil {
		return "", err
	}
	return db.AddSkill(ctx, agent, sk, replace)
}

// GenerateSkill distills a skill named name from the given sessions and
// stores it for the agent of the first session.
func (db *DB) GenerateSkill(ctx context.Context, sessionIDs []string, name, skillType string, replace bool) (string, error) {
	if err := db.checkOpen(); err != nil {
		return "", err
	}
	if len(sessionIDs) == 0 {
		return "", errs.Invalid("sessions", "", "at least one session is required")
	}

	var (
		agent       string
		transcripts []skill.Transcript
	)
	for _, id := range sessionIDs {
		s, err := db.sessions.Get(ctx, id)
		if err != nil {
			return "", err
		}
		if len(s.Messages) == 0 {
			return "", errs.Invalid("session", id, "session has no messages")
		}
		if agent == "" {
			agent = s.Agent
		}
		transcripts = append(transcripts, skill.Transcript{SessionID: s.ID, Text: s.Transcript()})
	}

	sk, err := db.skillGen.Generate(ctx, transcripts, name, skillType)
	if err != nil {
		return "", err
	}
	return db.skills.Add(ctx, agent, sk, skill.AddOptions{
		Replace:    replace,
		Provenance: tree.Provenance{Source: "session:" + sessionIDs[0], Origin: tree.OriginSession},
	})
}

// Skill loads the skill stored at u.
func (db *DB) Skill(ctx context.Context, u string) (*skill.Skill, error) {
	return db.skills.Get(ctx, u)
}

// Skills lists the skills of agent; an empty agent is the default agent.
func (db *DB) Skills(ctx context.Context, agent string) ([]*skill.Skill, error) {
	return db.skills.List(ctx, cmp.Or(agent, session.DefaultAgent))
}
