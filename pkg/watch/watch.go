// Package watch keeps a node-tree directory in step with a folder on disk.
//
// Sync is one-directional: files become document leaves under the target
// directory, changed files have their content replaced, and leaves whose
// file disappeared are removed. Hidden files and directories are ignored.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/ingest"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/merkle"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
)

// Sink applies changes to the tree and queues their processing.
type Sink interface {
	WriteLeaf(ctx context.Context, req ingest.LeafRequest) (*tree.Node, error)
	UpdateContent(ctx context.Context, u, content string) (*tree.Node, error)
	Remove(ctx context.Context, u string) ([]string, error)
}

// Config selects the folder and the tree directory it mirrors.
type Config struct {
	Dir    string
	Target string

	// Debounce coalesces bursts of file events into one sync. Defaults to
	// 300ms.
	Debounce time.Duration

	// MaxFileBytes skips larger files. Defaults to 8MiB.
	MaxFileBytes int64
}

// Report summarizes one sync pass.
type Report struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
	Skipped []string `json:"skipped"`
}

// Changed reports whether the pass touched the tree.
func (r *Report) Changed() bool {
	return len(r.Created)+len(r.Updated)+len(r.Removed) > 0
}

// Watcher mirrors Config.Dir into Config.Target.
type Watcher struct {
	tree   *tree.Tree
	sink   Sink
	cfg    Config
	source string
	logger *slog.Logger

	// syncMu serializes sync passes.
	syncMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a watcher. Dir must be an existing directory.
func New(t *tree.Tree, sink Sink, cfg Config, log *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, errs.Invalid("dir", cfg.Dir, err.Error())
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, errs.Invalid("dir", cfg.Dir, "not a directory")
	}
	cfg.Dir = abs

	if cfg.Target == "" {
		cfg.Target = uri.Join(uri.Resources, uri.Slug(filepath.Base(abs), "folder"))
	}
	if cfg.Target, err = uri.Parse(cfg.Target); err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 8 << 20
	}

	return &Watcher{
		tree:   t,
		sink:   sink,
		cfg:    cfg,
		source: "watch:" + abs,
		logger: logger.Component(log, "watch").With("dir", abs, "target", cfg.Target),
	}, nil
}

// Target is the mirrored tree directory.
func (w *Watcher) Target() string {
	return w.cfg.Target
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// scan returns the folder's files keyed by their tree URI, and its
// directories.
func (w *Watcher) scan() (map[string]string, []string, error) {
	files := map[string]string{}
	var dirs []string

	err := filepath.WalkDir(w.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if path != w.cfg.Dir && hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(w.cfg.Dir, path)
		if err != nil {
			return err
		}
		target := w.cfg.Target
		if rel != "." {
			for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
				if uri.ValidSegment(seg) != nil {
					return nil
				}
				target = uri.Join(target, seg)
			}
		}

		if d.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		if d.Type().IsRegular() {
			files[target] = path
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scanning %s: %w", w.cfg.Dir, err)
	}
	return files, dirs, nil
}

// Sync reconciles the target with the folder once.
func (w *Watcher) Sync(ctx context.Context) (*Report, error) {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()

	report, _, err := w.sync(ctx)
	return report, err
}

func (w *Watcher) sync(ctx context.Context) (*Report, []string, error) {
	files, dirs, err := w.scan()
	if err != nil {
		return nil, nil, err
	}

	prov := tree.Provenance{Source: w.source, Origin: tree.OriginResource}
	if _, err := w.tree.EnsureDir(ctx, w.cfg.Target, prov); err != nil {
		return nil, nil, err
	}

	report := &Report{}
	targets := make([]string, 0, len(files))
	for u := range files {
		targets = append(targets, u)
	}
	slices.Sort(targets)

	for _, u := range targets {
		if err := ctx.Err(); err != nil {
			return report, dirs, err
		}
		if err := w.upsert(ctx, u, files[u], prov, report); err != nil {
			return report, dirs, err
		}
	}

	if err := w.prune(ctx, files, report); err != nil {
		return report, dirs, err
	}

	if report.Changed() {
		w.logger.Info("folder synced",
			"created", len(report.Created), "updated", len(report.Updated), "removed", len(report.Removed),
		)
	}
	return report, dirs, nil
}

func (w *Watcher) upsert(ctx context.Context, u, path string, prov tree.Provenance, report *Report) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.Size() > w.cfg.MaxFileBytes {
		report.Skipped = append(report.Skipped, u)
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}

	n, err := w.tree.Resolve(u)
	switch {
	case errs.IsNotFound(err):
		parent, _ := uri.Parent(u)
		if _, err := w.sink.WriteLeaf(ctx, ingest.LeafRequest{
			Parent:     parent,
			Name:       uri.Base(u),
			Kind:       tree.KindDocument,
			Content:    string(data),
			Provenance: prov,
			Labels:     map[string]string{"path": path},
		}); err != nil {
			return err
		}
		report.Created = append(report.Created, u)
	case err != nil:
		return err
	case n.IsDir() || n.ReadOnly:
		report.Skipped = append(report.Skipped, u)
	case n.ContentHash != merkle.HashBytes(data):
		if _, err := w.sink.UpdateContent(ctx, u, string(data)); err != nil {
			return err
		}
		report.Updated = append(report.Updated, u)
	}
	return nil
}

// prune removes leaves this watcher created whose file is gone, then
// directories it created that became empty.
func (w *Watcher) prune(ctx context.Context, files map[string]string, report *Report) error {
	nodes, err := w.tree.List(w.cfg.Target, true)
	if err != nil {
		return err
	}

	// deepest first so emptied directories are seen as empty
	slices.SortFunc(nodes, func(a, b *tree.Node) int { return b.Depth() - a.Depth() })

	for _, n := range nodes {
		if n.Provenance.Source != w.source {
			continue
		}
		if !n.IsDir() {
			if _, ok := files[n.URI]; ok {
				continue
			}
		} else {
			cur, err := w.tree.Resolve(n.URI)
			if err != nil || len(cur.Children) > 0 {
				continue
			}
		}

		if _, err := w.sink.Remove(ctx, n.URI); err != nil && !errs.IsNotFound(err) {
			return err
		}
		report.Removed = append(report.Removed, n.URI)
	}
	return nil
}

// Start syncs once and then re-syncs after file events until ctx ends or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating folder watcher: %w", err)
	}

	w.syncMu.Lock()
	_, dirs, err := w.sync(ctx)
	w.syncMu.Unlock()
	if err != nil {
		fw.Close()
		return err
	}
	watched := map[string]bool{}
	w.watch(fw, dirs, watched)

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx, fw, watched, w.done)
	return nil
}

func (w *Watcher) watch(fw *fsnotify.Watcher, dirs []string, watched map[string]bool) {
	for _, d := range dirs {
		if watched[d] {
			continue
		}
		if err := fw.Add(d); err != nil {
			w.logger.Warn("watching directory failed", "path", d, "err", err)
			continue
		}
		watched[d] = true
	}
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher, watched map[string]bool, done chan struct{}) {
	defer close(done)
	defer fw.Close()

	timer := time.NewTimer(w.cfg.Debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if hidden(filepath.Base(ev.Name)) || ev.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("file event", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(w.cfg.Debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("folder watcher error", "err", err)

		case <-timer.C:
			w.syncMu.Lock()
			_, dirs, err := w.sync(ctx)
			w.syncMu.Unlock()
			if err != nil && ctx.Err() == nil {
				w.logger.Error("folder sync failed", "err", err)
			}
			w.watch(fw, dirs, watched)
		}
	}
}

// Stop halts a started watcher and waits for an in-flight sync.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
