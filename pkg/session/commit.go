package session

import (
	"context"
	"strconv"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/eventstream"
	"github.com/papercomputeco/strata/pkg/ingest"
	"github.com/papercomputeco/strata/pkg/memory"
	"github.com/papercomputeco/strata/pkg/retrieve"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
)

// ArchiveName is the leaf holding a committed session's message log.
const ArchiveName = "messages"

// Commit consolidates a session into memories and archives its log.
// Concurrent calls for one session share a single execution; calls on a
// committed session return the stored result without extracting again.
func (m *Manager) Commit(ctx context.Context, id string) (*CommitResult, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}

	v, err, shared := m.commits.Do(id, func() (any, error) {
		return m.commit(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Debug("commit shared with a concurrent caller", "session_id", id)
	}
	res := v.(*CommitResult)
	return &CommitResult{
		SessionID:  res.SessionID,
		Status:     res.Status,
		MemoryURIs: append([]string{}, res.MemoryURIs...),
		ArchiveURI: res.ArchiveURI,
	}, nil
}

func (m *Manager) commit(ctx context.Context, id string) (*CommitResult, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch s.Status {
	case StatusArchived:
		return s.result(), nil
	case StatusCommitted:
		// memories were written but the log was not archived yet
		return m.archive(ctx, s)
	}

	if s.Status == StatusOpen {
		if s, err = m.setStatus(ctx, id, StatusCommitting); err != nil {
			return nil, err
		}
	}

	cands, err := m.extract(ctx, s)
	if err != nil {
		m.reopen(ctx, id)
		return nil, err
	}
	uris, err := m.consolidate(ctx, s, cands)
	if err != nil {
		m.reopen(ctx, id)
		return nil, err
	}

	s, err = m.update(ctx, id, func(s *Session) {
		s.Status = StatusCommitted
		s.MemoryURIs = uris
		s.CommittedAt = m.now().UTC()
	})
	if err != nil {
		return nil, err
	}
	return m.archive(ctx, s)
}

func (m *Manager) setStatus(ctx context.Context, id string, status Status) (*Session, error) {
	return m.update(ctx, id, func(s *Session) { s.Status = status })
}

// reopen returns a session whose commit failed to the open state so it can
// take more messages and be committed again.
func (m *Manager) reopen(ctx context.Context, id string) {
	if _, err := m.setStatus(context.WithoutCancel(ctx), id, StatusOpen); err != nil {
		m.logger.Warn("reopening session failed", "session_id", id, "err", err)
	}
}

// consolidate writes each candidate as a new memory or merges it into a
// near-duplicate, returning the touched memory URIs in candidate order.
func (m *Manager) consolidate(ctx context.Context, s *Session, cands []memory.Candidate) ([]string, error) {
	var (
		out     = []string{}
		touched = map[string]bool{}
		seen    = map[string]string{}
	)
	keep := func(u string) {
		if !touched[u] {
			touched[u] = true
			out = append(out, u)
		}
	}

	prov := tree.Provenance{Source: "session:" + s.ID, Origin: tree.OriginSession}
	created, merged := 0, 0
	for _, c := range cands {
		key := string(c.Type) + "\x00" + memory.Normalize(c.Content)
		if u, ok := seen[key]; ok {
			keep(u)
			continue
		}

		parent := memory.Parent(s.User, s.Agent, c.Type)
		dup, err := m.nearest(ctx, parent, c.Content)
		if err != nil {
			return nil, err
		}

		if dup != "" {
			if err := m.merge(ctx, dup, c.Content); err != nil {
				return nil, err
			}
			merged++
			seen[key] = dup
			keep(dup)
			continue
		}

		n, err := m.ingest.WriteLeaf(ctx, ingest.LeafRequest{
			Parent:     parent,
			Name:       memory.Name(c),
			Kind:       tree.KindMemory,
			Content:    c.Content,
			Provenance: prov,
			Labels: map[string]string{
				"memory_type": string(c.Type),
				"title":       c.Title,
				"session":     s.ID,
			},
			Unique: true,
		})
		if err != nil {
			return nil, err
		}
		created++
		seen[key] = n.URI
		keep(n.URI)
	}

	m.logger.Info("session consolidated",
		"session_id", s.ID, "candidates", len(cands), "created", created, "merged", merged,
	)
	return out, nil
}

// nearest returns the memory under parent most similar to content when it
// clears the merge threshold.
func (m *Manager) nearest(ctx context.Context, parent, content string) (string, error) {
	if !m.tree.Exists(parent) {
		return "", nil
	}

	tr, err := m.retrieve.Find(ctx, retrieve.Query{
		Text:      content,
		Scope:     parent,
		Mode:      retrieve.ModeFlat,
		Threshold: &m.cfg.MergeThreshold,
		Limit:     1,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		m.logger.Warn("duplicate check failed, writing a new memory", "scope", parent, "err", err)
		return "", nil
	}
	// lexical scores do not measure similarity
	if tr.LowConfidence || len(tr.Results) == 0 {
		return "", nil
	}
	return tr.Results[0].URI, nil
}

func (m *Manager) merge(ctx context.Context, u, content string) error {
	current, err := m.tree.Content(ctx, u)
	if err == nil && memory.Normalize(current) == memory.Normalize(content) {
		return nil
	}
	_, err = m.ingest.UpdateContent(ctx, u, content)
	return err
}

// archive stores the message log as a read-only leaf and finishes the
// commit.
func (m *Manager) archive(ctx context.Context, s *Session) (*CommitResult, error) {
	parent := uri.Join(uri.Join(uri.Join(uri.Root, "session"), s.User), s.ID)
	target := uri.Join(parent, ArchiveName)

	if !m.tree.Exists(target) {
		_, err := m.ingest.WriteLeaf(ctx, ingest.LeafRequest{
			Parent:     parent,
			Name:       ArchiveName,
			Kind:       tree.KindDocument,
			Content:    s.Transcript(),
			Provenance: tree.Provenance{Source: "session:" + s.ID, Origin: tree.OriginSession},
			Labels:     map[string]string{"session": s.ID},
			ReadOnly:   true,
		})
		if err != nil && !errs.IsConflict(err) {
			return nil, err
		}
	}

	s, err := m.update(ctx, s.ID, func(s *Session) {
		s.Status = StatusArchived
		s.ArchiveURI = target
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("session committed", "session_id", s.ID, "memories", len(s.MemoryURIs), "archive", target)
	ev := eventstream.NewEvent(eventstream.EventTypeSessionCommitted, target, map[string]string{
		"session_id": s.ID,
		"memories":   strconv.Itoa(len(s.MemoryURIs)),
	})
	if err := m.publisher.Publish(ctx, ev); err != nil {
		m.logger.Warn("publishing event failed", "event_type", ev.EventType, "err", err)
	}
	return s.result(), nil
}
