package ingest

import (
	"cmp"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/eventstream"
	"github.com/papercomputeco/strata/pkg/jobgraph"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
)

// schedule queues the overview, abstract and embedding jobs of u. The
// overview waits on after; the returned id is the abstract job, which
// parents wait on in turn.
func (p *Pipeline) schedule(u string, after []jobgraph.ID) (jobgraph.ID, error) {
	l1, err := p.graph.Add(jobgraph.Spec{
		Kind:    jobgraph.KindTier,
		Key:     "tier:L1:" + u,
		URI:     u,
		After:   after,
		Run:     p.tierRun(u, tree.L1),
		OnRetry: p.tierRetrying(u, tree.L1),
		OnFail:  p.tierFailed(u, tree.L1),
	})
	if err != nil {
		return jobgraph.ID{}, err
	}

	l0, err := p.graph.Add(jobgraph.Spec{
		Kind:    jobgraph.KindTier,
		Key:     "tier:L0:" + u,
		URI:     u,
		After:   []jobgraph.ID{l1},
		Run:     p.tierRun(u, tree.L0),
		OnRetry: p.tierRetrying(u, tree.L0),
		OnFail:  p.tierFailed(u, tree.L0),
	})
	if err != nil {
		return jobgraph.ID{}, err
	}

	_, err = p.graph.Add(jobgraph.Spec{
		Kind:  jobgraph.KindEmbed,
		Key:   "embed:" + u,
		URI:   u,
		After: []jobgraph.ID{l0},
		Run: func(ctx context.Context) error {
			_, err := p.index.Index(ctx, u)
			return ignoreGone(err)
		},
		OnFail: func(_ context.Context, err error) {
			p.logger.Warn("indexing gave up", "uri", u, "err", err)
		},
	})
	if err != nil {
		return jobgraph.ID{}, err
	}

	return l0, nil
}

// scheduleSubtree queues jobs for u and every descendant, children before
// their directories.
func (p *Pipeline) scheduleSubtree(u string) (jobgraph.ID, error) {
	n, err := p.tree.Resolve(u)
	if err != nil {
		return jobgraph.ID{}, err
	}

	var after []jobgraph.ID
	if n.IsDir() {
		children, err := p.tree.List(u, false)
		if err != nil {
			return jobgraph.ID{}, err
		}
		for _, c := range children {
			id, err := p.scheduleSubtree(c.URI)
			if err != nil {
				return jobgraph.ID{}, err
			}
			after = append(after, id)
		}
	}

	return p.schedule(u, after)
}

// scheduleUp requeues the directories between from (exclusive) and top
// (inclusive) so they regenerate after last. Jobs already waiting for these
// directories absorb the new dependency.
func (p *Pipeline) scheduleUp(from, top string, last jobgraph.ID) error {
	if from == top || !uri.Within(from, top) {
		return nil
	}

	for cur := from; cur != top; {
		parent, ok := uri.Parent(cur)
		if !ok {
			return nil
		}
		id, err := p.schedule(parent, []jobgraph.ID{last})
		if err != nil {
			return err
		}
		cur, last = parent, id
	}
	return nil
}

func (p *Pipeline) tierRun(u string, level tree.Level) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		outcome, err := p.tiers.Generate(ctx, u, level)
		if err != nil {
			return ignoreGone(err)
		}
		p.logger.Debug("tier job done", "uri", u, "level", level, "outcome", outcome)
		return nil
	}
}

func (p *Pipeline) tierFailed(u string, level tree.Level) func(ctx context.Context, err error) {
	return func(ctx context.Context, cause error) {
		if err := p.tiers.Fail(ctx, u, level, cause); err != nil && !errs.IsNotFound(err) {
			p.logger.Warn("recording tier failure failed", "uri", u, "level", level, "err", err)
		}
		p.publish(ctx, eventstream.EventTypeTierFailed, u, map[string]string{
			"level": string(level),
			"error": cause.Error(),
		})
	}
}

// tierRetrying records a failed attempt on the tier while the job backs off.
func (p *Pipeline) tierRetrying(u string, level tree.Level) func(ctx context.Context, err error, attempt int) {
	return func(ctx context.Context, cause error, _ int) {
		if err := p.tiers.Fail(ctx, u, level, cause); err != nil && !errs.IsNotFound(err) {
			p.logger.Warn("recording tier attempt failed", "uri", u, "level", level, "err", err)
		}
	}
}

func isDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, errs.Invalid("path", path, err.Error())
	}
	return info.IsDir(), nil
}

// walkFolder mirrors a local directory under root: one directory node per
// folder and one parsed subtree per file. Folder tier jobs wait on the parse
// jobs of their files; each parse job then extends them with the file's
// own abstract job.
func (p *Pipeline) walkFolder(ctx context.Context, root string, src Source) error {
	prov := tree.Provenance{Origin: tree.OriginResource, Source: src.origin()}
	dirs := map[string]string{filepath.Clean(src.Path): root}
	folders := []string{root}
	deps := make(map[string][]jobgraph.ID)

	err := filepath.WalkDir(src.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		path = filepath.Clean(path)
		if _, ok := dirs[path]; ok {
			return nil
		}
		if skipEntry(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		parent := dirs[filepath.Dir(path)]
		if d.IsDir() {
			n, err := p.createUnique(ctx, tree.CreateRequest{
				Parent: parent, Name: uri.Slug(d.Name(), "folder"),
				Kind: tree.KindDirectory, Provenance: prov,
			})
			if err != nil {
				return err
			}
			dirs[path] = n.URI
			folders = append(folders, n.URI)
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		fileSrc := Source{Path: path, TypeHint: src.TypeHint}
		n, err := p.createUnique(ctx, tree.CreateRequest{
			Parent: parent, Name: uri.Slug(d.Name(), "file"),
			Kind:       tree.KindDirectory,
			Provenance: tree.Provenance{Origin: tree.OriginResource, Source: fileSrc.origin()},
			Labels:     map[string]string{"source": fileSrc.origin()},
		})
		if err != nil {
			return err
		}

		id, err := p.graph.Add(jobgraph.Spec{
			Kind: jobgraph.KindParse,
			Key:  "parse:" + n.URI,
			URI:  n.URI,
			Run: func(ctx context.Context) error {
				return p.parseResource(ctx, n.URI, root, fileSrc)
			},
			OnFail: func(ctx context.Context, err error) { p.parseFailed(ctx, n.URI, err) },
		})
		if err != nil {
			return err
		}
		deps[parent] = append(deps[parent], id)
		return nil
	})
	if err != nil {
		return err
	}

	// deepest folders first so parents can wait on them
	slices.SortStableFunc(folders, func(a, b string) int {
		return cmp.Compare(uri.Depth(b), uri.Depth(a))
	})
	for _, f := range folders {
		id, err := p.schedule(f, deps[f])
		if err != nil {
			return err
		}
		if parent, ok := uri.Parent(f); ok && f != root {
			deps[parent] = append(deps[parent], id)
		}
	}

	p.publish(ctx, eventstream.EventTypeResourceProcessed, root, map[string]string{"type": "folder"})
	return nil
}
