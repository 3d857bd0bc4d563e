package config

import "time"

const (
	defaultOllamaTarget = "http://localhost:11434"
	defaultAPIListen    = ":8081"

	defaultStorageBackend = "sqlite"
	defaultSQLiteDriver   = "sqlite3"

	defaultVectorProvider   = "sqlite"
	defaultVectorCollection = "strata"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingModel      = "embeddinggemma"
	defaultEmbeddingDimensions = 768

	defaultLLMProvider = "ollama"
	defaultLLMModel    = "gemma3"
	defaultLLMTimeout  = 120 * time.Second

	defaultProviderConcurrency = 4
	defaultWorkers             = 4
	defaultQueueSize           = 256
	defaultMaxPendingJobs      = 10000

	defaultOverviewTokens = 2000
	defaultMaxInputTokens = 8000
	defaultSmallFanout    = 8
	defaultMaxRetries     = 3
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
	defaultTokenizer      = "approx"

	defaultChunkSize = 2000

	defaultThreshold    = 0.30
	defaultMaxDepth     = 8
	defaultDirTopK      = 5
	defaultResultLimit  = 10
	defaultSessionMerge = 0.95

	defaultExtractor     = "llm"
	defaultDecayMaxAge   = 30 * 24 * time.Hour
	defaultDecayInterval = time.Hour
	defaultDecayAction   = "demote"

	defaultEventProvider = "nop"
	defaultEventTopic    = "strata.events"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Backend:      defaultStorageBackend,
			SQLiteDriver: defaultSQLiteDriver,
		},
		VectorStore: VectorStoreConfig{
			Provider:   defaultVectorProvider,
			Collection: defaultVectorCollection,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultOllamaTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		LLM: LLMConfig{
			Provider: defaultLLMProvider,
			Target:   defaultOllamaTarget,
			Model:    defaultLLMModel,
			Timeout:  Duration(defaultLLMTimeout),
		},
		Limits: LimitsConfig{
			ProviderConcurrency: defaultProviderConcurrency,
			ParseWorkers:        defaultWorkers,
			TierWorkers:         defaultWorkers,
			EmbedWorkers:        defaultWorkers,
			QueueSize:           defaultQueueSize,
			MaxPendingJobs:      defaultMaxPendingJobs,
		},
		Tier: TierConfig{
			OverviewTokens: defaultOverviewTokens,
			MaxInputTokens: defaultMaxInputTokens,
			SmallFanout:    defaultSmallFanout,
			MaxRetries:     defaultMaxRetries,
			InitialBackoff: Duration(defaultInitialBackoff),
			MaxBackoff:     Duration(defaultMaxBackoff),
			Tokenizer:      defaultTokenizer,
		},
		Index: IndexConfig{
			ChunkSize: defaultChunkSize,
		},
		Retrieval: RetrievalConfig{
			Threshold:       defaultThreshold,
			MaxDepth:        defaultMaxDepth,
			DirTopK:         defaultDirTopK,
			DefaultLimit:    defaultResultLimit,
			LexicalFallback: true,
		},
		Session: SessionConfig{
			Extractor:      defaultExtractor,
			MergeThreshold: defaultSessionMerge,
			DecayMaxAge:    Duration(defaultDecayMaxAge),
			DecayInterval:  Duration(defaultDecayInterval),
			DecayAction:    defaultDecayAction,
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventProvider,
			Topic:    defaultEventTopic,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
	}
}
