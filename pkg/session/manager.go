package session

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/eventstream"
	"github.com/papercomputeco/strata/pkg/eventstream/nop"
	"github.com/papercomputeco/strata/pkg/ingest"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/memory"
	"github.com/papercomputeco/strata/pkg/retrieve"
	"github.com/papercomputeco/strata/pkg/storage"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
)

const (
	recordPrefix = "sessions/"

	// DefaultUser and DefaultAgent stand in for unnamed participants.
	DefaultUser  = "default"
	DefaultAgent = "default"

	DefaultMergeThreshold = 0.95
)

// Config tunes consolidation.
type Config struct {
	// MergeThreshold is the similarity above which a candidate updates an
	// existing memory instead of creating a new one.
	MergeThreshold float32
}

// Manager owns session records and their consolidation into memories.
type Manager struct {
	blobs     storage.Driver
	tree      *tree.Tree
	ingest    *ingest.Pipeline
	retrieve  *retrieve.Engine
	extractor memory.Extractor
	publisher eventstream.Publisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	// mu serializes read-modify-write cycles on session records.
	mu      sync.Mutex
	commits singleflight.Group
}

// New creates a manager. A nil extractor makes Commit and Extract fail
// with memory.ErrNotConfigured; a nil publisher drops events.
func New(blobs storage.Driver, t *tree.Tree, p *ingest.Pipeline, r *retrieve.Engine, ex memory.Extractor, pub eventstream.Publisher, cfg Config, log *slog.Logger) *Manager {
	if cfg.MergeThreshold <= 0 {
		cfg.MergeThreshold = DefaultMergeThreshold
	}
	if pub == nil {
		pub = nop.NewPublisher()
	}
	return &Manager{
		blobs:     blobs,
		tree:      t,
		ingest:    p,
		retrieve:  r,
		extractor: ex,
		publisher: pub,
		cfg:       cfg,
		logger:    logger.Component(log, "session"),
		now:       time.Now,
	}
}

func recordPath(id string) string {
	return recordPrefix + id + ".json"
}

func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errs.Invalid("session_id", id, "not a uuid")
	}
	return nil
}

// New opens a session for user and agent. Empty names use the defaults.
func (m *Manager) New(ctx context.Context, user, agent string) (*Session, error) {
	user = cmp.Or(user, DefaultUser)
	agent = cmp.Or(agent, DefaultAgent)
	if err := uri.ValidSegment(user); err != nil {
		return nil, err
	}
	if err := uri.ValidSegment(agent); err != nil {
		return nil, err
	}

	s := &Session{
		ID:        uuid.NewString(),
		User:      user,
		Agent:     agent,
		Status:    StatusOpen,
		Messages:  []Message{},
		CreatedAt: m.now().UTC(),
	}
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}

	m.logger.Debug("session opened", "session_id", s.ID, "user", user, "agent", agent)
	return s, nil
}

// Get loads a session.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}

	data, err := m.blobs.Get(ctx, recordPath(id))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, errs.NotFoundError{URI: "session:" + id}
		}
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &s, nil
}

// List returns every session, oldest first.
func (m *Manager) List(ctx context.Context) ([]*Session, error) {
	paths, err := m.blobs.List(ctx, recordPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	out := make([]*Session, 0, len(paths))
	for _, p := range paths {
		id := p[len(recordPrefix) : len(p)-len(".json")]
		s, err := m.Get(ctx, id)
		if err != nil {
			if errs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, s)
	}

	slices.SortFunc(out, func(a, b *Session) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Delete discards an open session. Committed sessions are part of the
// provenance of their memories and cannot be deleted.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.Status != StatusOpen {
		return errs.Invalid("status", string(s.Status), "only open sessions can be deleted")
	}
	return m.blobs.Delete(ctx, recordPath(id))
}

// AddMessage appends a turn to an open session.
func (m *Manager) AddMessage(ctx context.Context, id, role string, parts ...Part) (*Message, error) {
	if !roles[role] {
		return nil, errs.Invalid("role", role, "expected user, assistant, system or tool")
	}
	if len(parts) == 0 {
		return nil, errs.Invalid("parts", "", "a message needs at least one part")
	}
	for _, p := range parts {
		if err := p.validate(); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusOpen {
		return nil, errs.Invalid("status", string(s.Status), "session is not open")
	}

	msg := Message{Role: role, Parts: slices.Clone(parts), CreatedAt: m.now().UTC()}
	s.Messages = append(s.Messages, msg)
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Extract returns the memory candidates of a session without writing
// anything.
func (m *Manager) Extract(ctx context.Context, id string) ([]memory.Candidate, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.extract(ctx, s)
}

func (m *Manager) extract(ctx context.Context, s *Session) ([]memory.Candidate, error) {
	if m.extractor == nil {
		return nil, memory.ErrNotConfigured
	}
	if len(s.Messages) == 0 {
		return nil, nil
	}
	cands, err := m.extractor.Extract(ctx, s.Turns())
	if err != nil {
		return nil, fmt.Errorf("extracting memories of session %s: %w", s.ID, err)
	}
	return cands, nil
}

func (m *Manager) save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", s.ID, err)
	}
	if err := m.blobs.Put(ctx, recordPath(s.ID), data); err != nil {
		return fmt.Errorf("saving session %s: %w", s.ID, err)
	}
	return nil
}

// update applies fn to the stored record under the manager lock.
func (m *Manager) update(ctx context.Context, id string, fn func(s *Session)) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	fn(s)
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}
