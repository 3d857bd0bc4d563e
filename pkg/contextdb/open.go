package contextdb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/papercomputeco/strata/pkg/config"
	embeddingutils "github.com/papercomputeco/strata/pkg/embeddings/utils"
	"github.com/papercomputeco/strata/pkg/eventstream"
	"github.com/papercomputeco/strata/pkg/eventstream/kafka"
	"github.com/papercomputeco/strata/pkg/eventstream/nop"
	"github.com/papercomputeco/strata/pkg/index"
	"github.com/papercomputeco/strata/pkg/ingest"
	"github.com/papercomputeco/strata/pkg/llm/provider"
	"github.com/papercomputeco/strata/pkg/memory"
	"github.com/papercomputeco/strata/pkg/memory/local"
	"github.com/papercomputeco/strata/pkg/retrieve"
	"github.com/papercomputeco/strata/pkg/session"
	storageutils "github.com/papercomputeco/strata/pkg/storage/utils"
	"github.com/papercomputeco/strata/pkg/tier"
	vectorutils "github.com/papercomputeco/strata/pkg/vector/utils"
)

// Open builds every collaborator named by cfg and opens a DB over them.
// Unset paths for the local, sqlite and sqlite-vec stores default to files
// under dataDir.
func Open(ctx context.Context, cfg *config.Config, dataDir string, log *slog.Logger) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var closers []io.Closer
	fail := func(err error) (*DB, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
		return nil, err
	}

	storePath := cfg.Storage.Path
	if storePath == "" && dataDir != "" {
		switch cfg.Storage.Backend {
		case "local":
			storePath = filepath.Join(dataDir, "blobs")
		case "sqlite":
			storePath = filepath.Join(dataDir, "strata.db")
		}
	}
	blobs, err := storageutils.NewDriver(ctx, storageutils.NewDriverOpts{
		Backend:   cfg.Storage.Backend,
		Path:      storePath,
		SQLDriver: cfg.Storage.SQLiteDriver,
		DSN:       cfg.Storage.DSN,
	})
	if err != nil {
		return fail(fmt.Errorf("opening blob store: %w", err))
	}
	closers = append(closers, blobs)

	vectorTarget := cfg.VectorStore.Target
	if vectorTarget == "" && dataDir != "" && cfg.VectorStore.Provider == "sqlite" {
		vectorTarget = filepath.Join(dataDir, "vectors.db")
	}
	vectors, err := vectorutils.NewVectorDriver(ctx, &vectorutils.NewVectorDriverOpts{
		ProviderType: cfg.VectorStore.Provider,
		TargetURL:    vectorTarget,
		Collection:   cfg.VectorStore.Collection,
		APIKey:       cfg.VectorStore.APIKey,
		Dimensions:   cfg.Embedding.Dimensions,
		Logger:       log,
	})
	if err != nil {
		return fail(fmt.Errorf("opening vector store: %w", err))
	}
	closers = append(closers, vectors)

	embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: cfg.Embedding.Provider,
		TargetURL:    cfg.Embedding.Target,
		Model:        cfg.Embedding.Model,
		APIKey:       apiKey(cfg.Embedding.APIKey, cfg.Embedding.Provider),
		Dimensions:   int(cfg.Embedding.Dimensions),
	})
	if err != nil {
		return fail(fmt.Errorf("creating embedder: %w", err))
	}
	closers = append(closers, embedder)

	completer, err := provider.New(provider.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.Target,
		APIKey:   apiKey(cfg.LLM.APIKey, cfg.LLM.Provider),
		Timeout:  cfg.LLM.Timeout.D(),
	})
	if err != nil {
		return fail(fmt.Errorf("creating completer: %w", err))
	}
	closers = append(closers, completer)

	publisher, err := newPublisher(cfg.EventStream, log)
	if err != nil {
		return fail(fmt.Errorf("creating event publisher: %w", err))
	}
	closers = append(closers, publisher)

	var extractor memory.Extractor
	if cfg.Session.Extractor == "local" {
		extractor = local.NewExtractor(local.Config{Enabled: true})
	}

	dbCfg, err := componentConfig(cfg)
	if err != nil {
		return fail(err)
	}

	db, err := New(ctx, Options{
		Blobs:     blobs,
		Vectors:   vectors,
		Embedder:  embedder,
		Completer: completer,
		Publisher: publisher,
		Extractor: extractor,
		Config:    dbCfg,
		Logger:    log,
	})
	if err != nil {
		return fail(err)
	}
	return db, nil
}

func apiKey(configured, providerName string) string {
	if configured != "" {
		return configured
	}
	return provider.APIKeyFromEnv(providerName)
}

func newPublisher(c config.EventStreamConfig, log *slog.Logger) (eventstream.Publisher, error) {
	switch c.Provider {
	case "", "nop":
		return nop.NewPublisher(), nil
	case "kafka":
		return kafka.NewPublisher(kafka.Config{Brokers: c.BrokerList(), Topic: c.Topic}, log)
	default:
		return nil, fmt.Errorf("unsupported event stream provider: %s", c.Provider)
	}
}

// componentConfig maps the persisted configuration onto component configs.
func componentConfig(cfg *config.Config) (Config, error) {
	tok, err := tier.NewTokenizer(cfg.Tier.Tokenizer)
	if err != nil {
		return Config{}, err
	}
	action, err := session.ParseDecayAction(cfg.Session.DecayAction)
	if err != nil {
		return Config{}, err
	}

	return Config{
		ProviderConcurrency: cfg.Limits.ProviderConcurrency,
		Tier: tier.Config{
			OverviewTokens: cfg.Tier.OverviewTokens,
			MaxInputTokens: cfg.Tier.MaxInputTokens,
			SmallFanout:    cfg.Tier.SmallFanout,
			Tokenizer:      tok,
		},
		Index: index.Config{ChunkSize: cfg.Index.ChunkSize},
		Ingest: ingest.Config{
			ParseWorkers:   cfg.Limits.ParseWorkers,
			TierWorkers:    cfg.Limits.TierWorkers,
			EmbedWorkers:   cfg.Limits.EmbedWorkers,
			QueueSize:      cfg.Limits.QueueSize,
			MaxPending:     cfg.Limits.MaxPendingJobs,
			MaxRetries:     cfg.Tier.MaxRetries,
			InitialBackoff: cfg.Tier.InitialBackoff.D(),
			MaxBackoff:     cfg.Tier.MaxBackoff.D(),
		},
		Retrieve: retrieve.Config{
			Threshold:              float32(cfg.Retrieval.Threshold),
			MaxDepth:               cfg.Retrieval.MaxDepth,
			DirTopK:                cfg.Retrieval.DirTopK,
			DefaultLimit:           cfg.Retrieval.DefaultLimit,
			DisableLexicalFallback: !cfg.Retrieval.LexicalFallback,
		},
		Session: session.Config{MergeThreshold: float32(cfg.Session.MergeThreshold)},
		Decay: session.DecayConfig{
			MaxAge:   cfg.Session.DecayMaxAge.D(),
			Interval: cfg.Session.DecayInterval.D(),
			Action:   action,
		},
	}, nil
}
