// Package contextdb wires the node tree, ingestion pipeline, tier generator,
// vector indexer, retrieval engine and session engine into one database
// handle. Transports and the CLI talk to a *DB and nothing else.
package contextdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/papercomputeco/strata/pkg/embeddings"
	"github.com/papercomputeco/strata/pkg/eventstream"
	"github.com/papercomputeco/strata/pkg/eventstream/nop"
	"github.com/papercomputeco/strata/pkg/index"
	"github.com/papercomputeco/strata/pkg/ingest"
	"github.com/papercomputeco/strata/pkg/llm"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/memory"
	"github.com/papercomputeco/strata/pkg/memory/model"
	"github.com/papercomputeco/strata/pkg/pack"
	"github.com/papercomputeco/strata/pkg/parser"
	parserutils "github.com/papercomputeco/strata/pkg/parser/utils"
	"github.com/papercomputeco/strata/pkg/ratelimit"
	"github.com/papercomputeco/strata/pkg/retrieve"
	"github.com/papercomputeco/strata/pkg/session"
	"github.com/papercomputeco/strata/pkg/skill"
	"github.com/papercomputeco/strata/pkg/storage"
	"github.com/papercomputeco/strata/pkg/tier"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/vector"
	"github.com/papercomputeco/strata/pkg/watch"
)

// Options are the collaborators and settings of a DB. Blobs, Vectors,
// Embedder and Completer are required.
type Options struct {
	Blobs     storage.Driver
	Vectors   vector.VectorDriver
	Embedder  embeddings.Embedder
	Completer llm.Completer

	// Parser defaults to the markdown/html/text registry.
	Parser parser.Parser

	// Publisher defaults to a no-op publisher.
	Publisher eventstream.Publisher

	// Extractor defaults to the model-backed extractor over Completer.
	Extractor memory.Extractor

	Config Config
	Logger *slog.Logger
}

// Config groups the per-component settings.
type Config struct {
	// ProviderConcurrency caps concurrent embedding and completion calls.
	ProviderConcurrency int

	// MaxConditions caps sub-queries generated by Search. Defaults to 4.
	MaxConditions int

	Tier     tier.Config
	Index    index.Config
	Ingest   ingest.Config
	Retrieve retrieve.Config
	Session  session.Config
	Decay    session.DecayConfig
}

// DB is an open context database.
type DB struct {
	blobs     storage.Driver
	vectors   vector.VectorDriver
	embedder  embeddings.Embedder
	completer llm.Completer
	extractor memory.Extractor
	ownsEx    bool
	publisher eventstream.Publisher
	limiter   *ratelimit.Limiter

	tree     *tree.Tree
	tiers    *tier.Generator
	index    *index.Indexer
	pipeline *ingest.Pipeline
	engine   *retrieve.Engine
	sessions *session.Manager
	decayer  *session.Decayer
	packer   *pack.Packer
	skills   *skill.Store
	skillGen *skill.Generator

	mu       sync.Mutex
	watchers []*watch.Watcher
	closed   bool

	logger *slog.Logger
}

// New opens the node tree from opts.Blobs and starts the ingestion workers.
func New(ctx context.Context, opts Options) (*DB, error) {
	switch {
	case opts.Blobs == nil:
		return nil, errors.New("contextdb: blob store is required")
	case opts.Vectors == nil:
		return nil, errors.New("contextdb: vector store is required")
	case opts.Embedder == nil:
		return nil, errors.New("contextdb: embedder is required")
	case opts.Completer == nil:
		return nil, errors.New("contextdb: completer is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	cfg := opts.Config
	if cfg.MaxConditions <= 0 {
		cfg.MaxConditions = 4
	}

	db := &DB{
		blobs:     opts.Blobs,
		vectors:   opts.Vectors,
		embedder:  opts.Embedder,
		completer: opts.Completer,
		extractor: opts.Extractor,
		publisher: opts.Publisher,
		limiter:   ratelimit.New(cfg.ProviderConcurrency),
		logger:    logger.Component(log, "contextdb"),
	}
	if db.publisher == nil {
		db.publisher = nop.NewPublisher()
	}

	p := opts.Parser
	if p == nil {
		p = parserutils.NewRegistry(0)
	}

	emb := ratelimit.Embedder(opts.Embedder, db.limiter)
	comp := ratelimit.Completer(opts.Completer, db.limiter)
	if db.extractor == nil {
		db.extractor = model.NewExtractor(comp, model.Config{}, log)
	} else {
		db.ownsEx = true
	}

	t, err := tree.Open(ctx, opts.Blobs, tree.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("opening node tree: %w", err)
	}
	db.tree = t

	tcfg := cfg.Tier
	tcfg.Busy = func(u string) bool {
		return db.pipeline != nil && db.pipeline.Busy(u)
	}
	db.tiers = tier.New(t, opts.Blobs, comp, tcfg, log)
	db.index = index.New(t, emb, opts.Vectors, cfg.Index, log)

	db.pipeline, err = ingest.New(t, p, db.tiers, db.index, db.publisher, cfg.Ingest, log)
	if err != nil {
		return nil, fmt.Errorf("starting ingestion: %w", err)
	}

	db.engine = retrieve.New(t, db.index, retrieve.NewLLMConditions(comp, cfg.MaxConditions, log), cfg.Retrieve, log)
	db.sessions = session.New(opts.Blobs, t, db.pipeline, db.engine, db.extractor, db.publisher, cfg.Session, log)

	db.decayer, err = session.NewDecayer(t, db.pipeline, db.publisher, cfg.Decay, log)
	if err != nil {
		db.pipeline.Close()
		return nil, err
	}
	db.packer = pack.New(t, db.pipeline, log)
	db.skills = skill.NewStore(t, db.pipeline, log)
	db.skillGen = skill.NewGenerator(comp, log)

	db.logger.Info("context database opened", "nodes", t.Count())
	return db, nil
}

// Tree exposes the node tree for read-only inspection.
func (db *DB) Tree() *tree.Tree {
	return db.tree
}

// Limiter exposes the provider concurrency limiter.
func (db *DB) Limiter() *ratelimit.Limiter {
	return db.limiter
}

// Close stops background work and releases every collaborator. It is safe
// to call more than once.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	watchers := db.watchers
	db.watchers = nil
	db.mu.Unlock()

	for _, w := range watchers {
		w.Stop()
	}
	db.decayer.Stop()
	db.pipeline.Close()

	var errsList []error
	if db.ownsEx {
		errsList = append(errsList, db.extractor.Close())
	}
	errsList = append(errsList,
		db.publisher.Close(),
		db.embedder.Close(),
		db.completer.Close(),
		db.vectors.Close(),
		db.blobs.Close(),
	)
	return errors.Join(errsList...)
}

func (db *DB) checkOpen() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return nil
}
