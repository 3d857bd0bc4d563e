package contextdb

import (
	"context"
	"io"
	"time"

	"github.com/papercomputeco/strata/pkg/memory"
	"github.com/papercomputeco/strata/pkg/pack"
	"github.com/papercomputeco/strata/pkg/session"
	"github.com/papercomputeco/strata/pkg/watch"
)

// Sessions exposes the session manager.
func (db *DB) Sessions() *session.Manager {
	return db.sessions
}

// NewSession opens a session for user and agent; empty names use the
// defaults.
func (db *DB) NewSession(ctx context.Context, user, agent string) (*session.Session, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.sessions.New(ctx, user, agent)
}

// GetSession loads a session record.
func (db *DB) GetSession(ctx context.Context, id string) (*session.Session, error) {
	return db.sessions.Get(ctx, id)
}

// ListSessions returns every session, oldest first.
func (db *DB) ListSessions(ctx context.Context) ([]*session.Session, error) {
	return db.sessions.List(ctx)
}

// DeleteSession removes an open session.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.sessions.Delete(ctx, id)
}

// AddMessage appends a message to an open session.
func (db *DB) AddMessage(ctx context.Context, id, role string, parts ...session.Part) (*session.Message, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.sessions.AddMessage(ctx, id, role, parts...)
}

// Extract previews the memories a commit of id would consolidate.
func (db *DB) Extract(ctx context.Context, id string) ([]memory.Candidate, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.sessions.Extract(ctx, id)
}

// Commit consolidates a session into memories and archives its log.
func (db *DB) Commit(ctx context.Context, id string) (*session.CommitResult, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.sessions.Commit(ctx, id)
}

// Decay runs one memory decay pass as of now.
func (db *DB) Decay(ctx context.Context, now time.Time) (*session.DecayReport, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.decayer.Run(ctx, now)
}

// StartDecay runs decay passes periodically until Close.
func (db *DB) StartDecay(ctx context.Context) {
	db.decayer.Start(ctx)
}

// Export writes the directory u as a pack to w.
func (db *DB) Export(ctx context.Context, u string, w io.Writer) (int, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	return db.packer.Export(ctx, u, w)
}

// Import restores a pack under parent and returns the restored root.
func (db *DB) Import(ctx context.Context, r io.ReaderAt, size int64, parent string, opts pack.ImportOptions) (string, error) {
	if err := db.checkOpen(); err != nil {
		return "", err
	}
	return db.packer.Import(ctx, r, size, parent, opts)
}

// Watch mirrors an OS folder into the tree until Close. The initial sync
// has completed when Watch returns.
func (db *DB) Watch(ctx context.Context, cfg watch.Config) (*watch.Watcher, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	w, err := watch.New(db.tree, db.pipeline, cfg, db.logger)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		w.Stop()
		return nil, ErrClosed
	}
	db.watchers = append(db.watchers, w)
	return w, nil
}
