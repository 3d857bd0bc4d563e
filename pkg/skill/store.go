package skill

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/ingest"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
)

const conflictRetries = 5

// AddOptions control how a skill is written.
type AddOptions struct {
	// Replace overwrites an existing skill of the same name.
	Replace bool

	Provenance tree.Provenance
}

// Store reads and writes skill nodes.
type Store struct {
	tree   *tree.Tree
	ingest *ingest.Pipeline
	logger *slog.Logger
}

// NewStore creates a Store over the tree and ingestion pipeline.
func NewStore(t *tree.Tree, p *ingest.Pipeline, log *slog.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{tree: t, ingest: p, logger: logger.Component(log, "skill")}
}

// Add writes sk under the agent's skill directory and queues its tiers and
// embeddings. It returns the skill's URI.
func (s *Store) Add(ctx context.Context, agent string, sk *Skill, opts AddOptions) (string, error) {
	if err := uri.ValidSegment(agent); err != nil {
		return "", err
	}
	if err := sk.Validate(); err != nil {
		return "", err
	}
	if opts.Provenance.Origin == "" {
		opts.Provenance.Origin = tree.OriginResource
	}

	content := Render(sk)
	labels := map[string]string{
		"skill_type": sk.Type,
		"version":    sk.Version,
	}

	n, err := s.ingest.WriteLeaf(ctx, ingest.LeafRequest{
		Parent:     Dir(agent),
		Name:       sk.Name,
		Kind:       tree.KindSkill,
		Content:    content,
		Provenance: opts.Provenance,
		Labels:     labels,
	})
	if err == nil {
		s.logger.Info("skill added", "uri", n.URI, "type", sk.Type)
		return n.URI, nil
	}
	if !errs.IsConflict(err) || !opts.Replace {
		return "", err
	}

	target := uri.Join(Dir(agent), sk.Name)
	existing, err := s.tree.Resolve(target)
	if err != nil {
		return "", err
	}
	if existing.Kind != tree.KindSkill {
		return "", errs.ConflictError{URI: target, Actual: existing.Version}
	}

	if _, err := s.ingest.UpdateContent(ctx, target, content); err != nil {
		return "", err
	}
	err = tree.RetryOnConflict(ctx, conflictRetries, func() error {
		n, err := s.tree.Resolve(target)
		if err != nil {
			return err
		}
		_, err = s.tree.Update(ctx, target, n.Version, func(n *tree.Node) error {
			if n.Labels == nil {
				n.Labels = map[string]string{}
			}
			maps.Copy(n.Labels, labels)
			return nil
		})
		return err
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("skill replaced", "uri", target, "type", sk.Type)
	return target, nil
}

// Get loads the skill stored at u.
func (s *Store) Get(ctx context.Context, u string) (*Skill, error) {
	n, err := s.tree.Resolve(u)
	if err != nil {
		return nil, err
	}
	if n.Kind != tree.KindSkill {
		return nil, errs.Invalid("uri", n.URI, "not a skill")
	}

	content, err := s.tree.Content(ctx, n.URI)
	if err != nil {
		return nil, err
	}
	sk, err := Parse(content)
	if err != nil {
		return nil, err
	}
	sk.URI = n.URI
	return sk, nil
}

// List returns the skills of an agent in name order. An agent without a
// skill directory has none.
func (s *Store) List(ctx context.Context, agent string) ([]*Skill, error) {
	if err := uri.ValidSegment(agent); err != nil {
		return nil, err
	}
	dir := Dir(agent)
	if !s.tree.Exists(dir) {
		return []*Skill{}, nil
	}

	nodes, err := s.tree.List(dir, false)
	if err != nil {
		return nil, err
	}

	out := []*Skill{}
	for _, n := range nodes {
		if n.Kind != tree.KindSkill {
			continue
		}
		sk, err := s.Get(ctx, n.URI)
		if err != nil {
			s.logger.Warn("skipping unreadable skill", "uri", n.URI, "err", err)
			continue
		}
		out = append(out, sk)
	}
	slices.SortFunc(out, func(a, b *Skill) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}
