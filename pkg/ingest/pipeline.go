// Package ingest turns external resources into node subtrees and schedules
// the background tier generation and indexing that populate them.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/eventstream"
	"github.com/papercomputeco/strata/pkg/eventstream/nop"
	"github.com/papercomputeco/strata/pkg/index"
	"github.com/papercomputeco/strata/pkg/jobgraph"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/parser"
	"github.com/papercomputeco/strata/pkg/tier"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
	"github.com/papercomputeco/strata/pkg/worker"
)

const (
	// BodyName is the leaf holding a section's own text when the section
	// also has subsections.
	BodyName = "_body"

	conflictRetries = 5
)

// Config sizes the background queues and the retry policy.
type Config struct {
	ParseWorkers uint
	TierWorkers  uint
	EmbedWorkers uint
	QueueSize    uint

	// MaxPending bounds unfinished jobs; AddResource fails with a capacity
	// error beyond it.
	MaxPending int

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// HTTPClient fetches URL sources. Defaults to a client with a 60s timeout.
	HTTPClient *http.Client

	// MaxFetchBytes caps downloaded resources. Defaults to 32 MiB.
	MaxFetchBytes int64
}

// Pipeline is the ingestion pipeline.
type Pipeline struct {
	tree      *tree.Tree
	parser    parser.Parser
	tiers     *tier.Generator
	index     *index.Indexer
	graph     *jobgraph.Graph
	pools     []*worker.Pool
	publisher eventstream.Publisher
	http      *http.Client
	cfg       Config
	logger    *slog.Logger
}

// New creates a pipeline with one worker pool per job kind.
func New(t *tree.Tree, p parser.Parser, gen *tier.Generator, ix *index.Indexer, pub eventstream.Publisher, cfg Config, log *slog.Logger) (*Pipeline, error) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.MaxFetchBytes <= 0 {
		cfg.MaxFetchBytes = 32 << 20
	}
	if pub == nil {
		pub = nop.NewPublisher()
	}
	log = logger.Component(log, "ingest")

	pools := make(map[jobgraph.Kind]*worker.Pool, 3)
	closeAll := func() {
		for _, pool := range pools {
			pool.Close()
		}
	}
	for kind, workers := range map[jobgraph.Kind]uint{
		jobgraph.KindParse: cfg.ParseWorkers,
		jobgraph.KindTier:  cfg.TierWorkers,
		jobgraph.KindEmbed: cfg.EmbedWorkers,
	} {
		pool, err := worker.NewPool(&worker.Config{
			Name:       string(kind),
			NumWorkers: workers,
			QueueSize:  cfg.QueueSize,
			Logger:     log,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("creating %s pool: %w", kind, err)
		}
		pools[kind] = pool
	}

	graph, err := jobgraph.New(jobgraph.Config{
		Pools:          pools,
		MaxPending:     cfg.MaxPending,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Logger:         log,
	})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("creating job graph: %w", err)
	}

	pl := &Pipeline{
		tree:      t,
		parser:    p,
		tiers:     gen,
		index:     ix,
		graph:     graph,
		publisher: pub,
		http:      cfg.HTTPClient,
		cfg:       cfg,
		logger:    log,
	}
	for _, pool := range pools {
		pl.pools = append(pl.pools, pool)
	}
	return pl, nil
}

// Close abandons queued jobs and waits for running ones.
func (p *Pipeline) Close() {
	p.graph.Close()
	for _, pool := range p.pools {
		pool.Close()
	}
}

// Busy reports whether unfinished jobs target u or its descendants.
func (p *Pipeline) Busy(u string) bool {
	return p.graph.Pending(u) > 0
}

// AddResource creates the resource root under the source's target and
// queues its parse job. It returns the root URI without waiting for
// parsing, tier generation or indexing.
func (p *Pipeline) AddResource(ctx context.Context, src Source) (string, error) {
	if err := src.validate(); err != nil {
		return "", err
	}

	target := src.Target
	if target == "" {
		target = uri.Resources
	}
	target, err := uri.Parse(target)
	if err != nil {
		return "", err
	}

	dir := false
	if src.Path != "" {
		dir, err = isDir(src.Path)
		if err != nil {
			return "", err
		}
	}

	prov := tree.Provenance{Origin: tree.OriginResource, Source: src.origin()}
	if _, err := p.tree.EnsureDir(ctx, target, tree.Provenance{Origin: tree.OriginResource}); err != nil {
		return "", err
	}

	root, err := p.createUnique(ctx, tree.CreateRequest{
		Parent:     target,
		Name:       src.rootName(),
		Kind:       tree.KindDirectory,
		Provenance: prov,
		Labels:     map[string]string{"source": prov.Source},
	})
	if err != nil {
		return "", err
	}

	run := func(ctx context.Context) error { return p.parseResource(ctx, root.URI, root.URI, src) }
	if dir {
		run = func(ctx context.Context) error { return p.walkFolder(ctx, root.URI, src) }
	}

	_, err = p.graph.Add(jobgraph.Spec{
		Kind:   jobgraph.KindParse,
		Key:    "parse:" + root.URI,
		URI:    root.URI,
		Run:    run,
		OnFail: func(ctx context.Context, err error) { p.parseFailed(ctx, root.URI, err) },
	})
	if err != nil {
		if _, derr := p.tree.Delete(ctx, root.URI, root.Version); derr != nil {
			p.logger.Warn("rolling back resource root failed", "uri", root.URI, "err", derr)
		}
		return "", err
	}

	p.publish(ctx, eventstream.EventTypeResourceAdded, root.URI, map[string]string{"source": prov.Source})
	p.logger.Info("resource added", "uri", root.URI, "source", prov.Source)
	return root.URI, nil
}

// createUnique creates req, suffixing the name when a sibling holds it.
func (p *Pipeline) createUnique(ctx context.Context, req tree.CreateRequest) (*tree.Node, error) {
	base := req.Name
	for range conflictRetries {
		req.Name = uri.Unique(base, func(name string) bool {
			return p.tree.Exists(uri.Join(req.Parent, name))
		})
		n, err := p.tree.Create(ctx, req)
		if !errs.IsConflict(err) {
			return n, err
		}
	}
	return nil, errs.ConflictError{URI: uri.Join(req.Parent, base)}
}

// parseResource parses one file-like source into the directory at u.
// top is the resource root that tier scheduling climbs to.
func (p *Pipeline) parseResource(ctx context.Context, u, top string, src Source) error {
	data, hint, err := p.load(ctx, src)
	if err != nil {
		return err
	}

	doc, err := p.parser.Parse(ctx, data, hint)
	if err != nil {
		return err
	}

	if !p.tree.Exists(u) {
		// removed while queued
		return nil
	}

	prov := tree.Provenance{Origin: tree.OriginResource, Source: src.origin()}
	if err := p.mirror(ctx, u, doc.Root, prov); err != nil {
		return fmt.Errorf("mirroring %s: %w", u, err)
	}

	last, err := p.scheduleSubtree(u)
	if err != nil {
		return err
	}
	if err := p.scheduleUp(u, top, last); err != nil {
		return err
	}

	p.publish(ctx, eventstream.EventTypeResourceProcessed, u, map[string]string{"type": doc.Type})
	p.logger.Debug("resource parsed", "uri", u, "type", doc.Type)
	return nil
}

// mirror creates nodes under dir for the content and subsections of s.
func (p *Pipeline) mirror(ctx context.Context, dir string, s *parser.Section, prov tree.Provenance) error {
	if s.Text != "" || len(s.Media) > 0 {
		if _, err := p.createUnique(ctx, leafRequest(dir, BodyName, s, prov)); err != nil {
			return err
		}
	}

	for i, c := range s.Children {
		name := uri.Slug(c.Title, fmt.Sprintf("section-%d", i+1))
		if c.IsLeaf() {
			if _, err := p.createUnique(ctx, leafRequest(dir, name, c, prov)); err != nil {
				return err
			}
			continue
		}

		sub, err := p.createUnique(ctx, tree.CreateRequest{
			Parent:     dir,
			Name:       name,
			Kind:       tree.KindDirectory,
			Provenance: prov,
			Labels:     titleLabel(c.Title),
		})
		if err != nil {
			return err
		}
		if err := p.mirror(ctx, sub.URI, c, prov); err != nil {
			return err
		}
	}
	return nil
}

func leafRequest(parent, name string, s *parser.Section, prov tree.Provenance) tree.CreateRequest {
	req := tree.CreateRequest{
		Parent:     parent,
		Name:       name,
		Kind:       tree.KindDocument,
		Provenance: prov,
		Content:    []byte(s.Text),
		Labels:     titleLabel(s.Title),
	}
	if len(s.Media) > 0 {
		req.MediaRef = s.Media[0]
	}
	if s.End > s.Start {
		if req.Labels == nil {
			req.Labels = map[string]string{}
		}
		req.Labels["span"] = fmt.Sprintf("%d-%d", s.Start, s.End)
	}
	return req
}

func titleLabel(title string) map[string]string {
	if title == "" {
		return nil
	}
	return map[string]string{"title": title}
}

func (p *Pipeline) parseFailed(ctx context.Context, u string, cause error) {
	p.logger.Error("parsing resource failed", "uri", u, "err", cause)
	for _, level := range []tree.Level{tree.L1, tree.L0} {
		if err := p.tiers.Fail(ctx, u, level, cause); err != nil && !errs.IsNotFound(err) {
			p.logger.Warn("recording parse failure failed", "uri", u, "err", err)
		}
	}
	p.publish(ctx, eventstream.EventTypeTierFailed, u, map[string]string{"stage": "parse", "error": cause.Error()})
}

func (p *Pipeline) publish(ctx context.Context, eventType, u string, detail map[string]string) {
	if err := p.publisher.Publish(ctx, eventstream.NewEvent(eventType, u, detail)); err != nil {
		p.logger.Warn("publishing event failed", "event_type", eventType, "uri", u, "err", err)
	}
}

// ignoreGone treats a node removed while its job was queued as done.
func ignoreGone(err error) error {
	if errs.IsNotFound(err) {
		return nil
	}
	return err
}
