package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config represents the persistent strata configuration stored as config.toml
// in the .strata/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	LLM         LLMConfig         `toml:"llm"`
	Limits      LimitsConfig      `toml:"limits"`
	Tier        TierConfig        `toml:"tier"`
	Index       IndexConfig       `toml:"index"`
	Retrieval   RetrievalConfig   `toml:"retrieval"`
	Session     SessionConfig     `toml:"session"`
	EventStream EventStreamConfig `toml:"eventstream"`
	API         APIConfig         `toml:"api"`
}

// StorageConfig selects the blob store holding nodes, tiers and sessions.
type StorageConfig struct {
	Backend      string `toml:"backend,omitempty"`
	Path         string `toml:"path,omitempty"`
	DSN          string `toml:"dsn,omitempty"`
	SQLiteDriver string `toml:"sqlite_driver,omitempty"`
}

// VectorStoreConfig holds vector store settings.
type VectorStoreConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Collection string `toml:"collection,omitempty"`
	APIKey     string `toml:"api_key,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
	APIKey     string `toml:"api_key,omitempty"`
}

// LLMConfig holds the language model used for tiers, conditions and memory
// extraction.
type LLMConfig struct {
	Provider string   `toml:"provider,omitempty"`
	Target   string   `toml:"target,omitempty"`
	Model    string   `toml:"model,omitempty"`
	APIKey   string   `toml:"api_key,omitempty"`
	Timeout  Duration `toml:"timeout,omitempty"`
}

// LimitsConfig bounds provider concurrency and the ingestion queues.
type LimitsConfig struct {
	ProviderConcurrency int  `toml:"provider_concurrency,omitempty"`
	ParseWorkers        uint `toml:"parse_workers,omitempty"`
	TierWorkers         uint `toml:"tier_workers,omitempty"`
	EmbedWorkers        uint `toml:"embed_workers,omitempty"`
	QueueSize           uint `toml:"queue_size,omitempty"`
	MaxPendingJobs      int  `toml:"max_pending_jobs,omitempty"`
}

// TierConfig holds abstract/overview generation settings.
type TierConfig struct {
	OverviewTokens int      `toml:"overview_tokens,omitempty"`
	MaxInputTokens int      `toml:"max_input_tokens,omitempty"`
	SmallFanout    int      `toml:"small_fanout,omitempty"`
	MaxRetries     int      `toml:"max_retries,omitempty"`
	InitialBackoff Duration `toml:"initial_backoff,omitempty"`
	MaxBackoff     Duration `toml:"max_backoff,omitempty"`
	Tokenizer      string   `toml:"tokenizer,omitempty"`
}

// IndexConfig holds vector indexing settings.
type IndexConfig struct {
	ChunkSize int `toml:"chunk_size,omitempty"`
}

// RetrievalConfig holds the recursive retrieval constants.
type RetrievalConfig struct {
	Threshold       float64 `toml:"threshold,omitempty"`
	MaxDepth        int     `toml:"max_depth,omitempty"`
	DirTopK         int     `toml:"dir_top_k,omitempty"`
	DefaultLimit    int     `toml:"default_limit,omitempty"`
	LexicalFallback bool    `toml:"lexical_fallback"`
}

// SessionConfig holds memory extraction, consolidation and decay settings.
type SessionConfig struct {
	Extractor      string   `toml:"extractor,omitempty"`
	MergeThreshold float64  `toml:"merge_threshold,omitempty"`
	DecayMaxAge    Duration `toml:"decay_max_age,omitempty"`
	DecayInterval  Duration `toml:"decay_interval,omitempty"`
	DecayAction    string   `toml:"decay_action,omitempty"`
}

// EventStreamConfig selects the lifecycle event publisher.
type EventStreamConfig struct {
	Provider string `toml:"provider,omitempty"`
	Brokers  string `toml:"brokers,omitempty"`
	Topic    string `toml:"topic,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// Duration is a time.Duration that reads and writes as a Go duration string
// ("30s", "720h") in TOML.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string {
	if d == 0 {
		return ""
	}
	return time.Duration(d).String()
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func intKey(name string, field func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.Itoa(*field(c))
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			if n < 0 {
				return fmt.Errorf("invalid value for %s: must not be negative", name)
			}
			*field(c) = n
			return nil
		},
	}
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

func floatKey(name string, field func(c *Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatFloat(*field(c), 'g', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			if f < 0 || f > 1 {
				return fmt.Errorf("invalid value for %s: must be between 0 and 1", name)
			}
			*field(c) = f
			return nil
		},
	}
}

func boolKey(name string, field func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = b
			return nil
		},
	}
}

func durationKey(name string, field func(c *Config) *Duration) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return field(c).String() },
		set: func(c *Config, v string) error {
			var d Duration
			if err := d.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			if d < 0 {
				return fmt.Errorf("invalid value for %s: must not be negative", name)
			}
			*field(c) = d
			return nil
		},
	}
}

// orderedKeys lists every supported key in TOML section order.
var orderedKeys = []string{
	"storage.backend",
	"storage.path",
	"storage.dsn",
	"storage.sqlite_driver",
	"vector_store.provider",
	"vector_store.target",
	"vector_store.collection",
	"vector_store.api_key",
	"embedding.provider",
	"embedding.target",
	"embedding.model",
	"embedding.dimensions",
	"embedding.api_key",
	"llm.provider",
	"llm.target",
	"llm.model",
	"llm.api_key",
	"llm.timeout",
	"limits.provider_concurrency",
	"limits.parse_workers",
	"limits.tier_workers",
	"limits.embed_workers",
	"limits.queue_size",
	"limits.max_pending_jobs",
	"tier.overview_tokens",
	"tier.max_input_tokens",
	"tier.small_fanout",
	"tier.max_retries",
	"tier.initial_backoff",
	"tier.max_backoff",
	"tier.tokenizer",
	"index.chunk_size",
	"retrieval.threshold",
	"retrieval.max_depth",
	"retrieval.dir_top_k",
	"retrieval.default_limit",
	"retrieval.lexical_fallback",
	"session.extractor",
	"session.merge_threshold",
	"session.decay_max_age",
	"session.decay_interval",
	"session.decay_action",
	"eventstream.provider",
	"eventstream.brokers",
	"eventstream.topic",
	"api.listen",
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.backend":       stringKey(func(c *Config) *string { return &c.Storage.Backend }),
	"storage.path":          stringKey(func(c *Config) *string { return &c.Storage.Path }),
	"storage.dsn":           stringKey(func(c *Config) *string { return &c.Storage.DSN }),
	"storage.sqlite_driver": stringKey(func(c *Config) *string { return &c.Storage.SQLiteDriver }),

	"vector_store.provider":   stringKey(func(c *Config) *string { return &c.VectorStore.Provider }),
	"vector_store.target":     stringKey(func(c *Config) *string { return &c.VectorStore.Target }),
	"vector_store.collection": stringKey(func(c *Config) *string { return &c.VectorStore.Collection }),
	"vector_store.api_key":    stringKey(func(c *Config) *string { return &c.VectorStore.APIKey }),

	"embedding.provider":   stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":     stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":      stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.dimensions": uintKey("embedding.dimensions", func(c *Config) *uint { return &c.Embedding.Dimensions }),
	"embedding.api_key":    stringKey(func(c *Config) *string { return &c.Embedding.APIKey }),

	"llm.provider": stringKey(func(c *Config) *string { return &c.LLM.Provider }),
	"llm.target":   stringKey(func(c *Config) *string { return &c.LLM.Target }),
	"llm.model":    stringKey(func(c *Config) *string { return &c.LLM.Model }),
	"llm.api_key":  stringKey(func(c *Config) *string { return &c.LLM.APIKey }),
	"llm.timeout":  durationKey("llm.timeout", func(c *Config) *Duration { return &c.LLM.Timeout }),

	"limits.provider_concurrency": intKey("limits.provider_concurrency", func(c *Config) *int { return &c.Limits.ProviderConcurrency }),
	"limits.parse_workers":        uintKey("limits.parse_workers", func(c *Config) *uint { return &c.Limits.ParseWorkers }),
	"limits.tier_workers":         uintKey("limits.tier_workers", func(c *Config) *uint { return &c.Limits.TierWorkers }),
	"limits.embed_workers":        uintKey("limits.embed_workers", func(c *Config) *uint { return &c.Limits.EmbedWorkers }),
	"limits.queue_size":           uintKey("limits.queue_size", func(c *Config) *uint { return &c.Limits.QueueSize }),
	"limits.max_pending_jobs":     intKey("limits.max_pending_jobs", func(c *Config) *int { return &c.Limits.MaxPendingJobs }),

	"tier.overview_tokens":  intKey("tier.overview_tokens", func(c *Config) *int { return &c.Tier.OverviewTokens }),
	"tier.max_input_tokens": intKey("tier.max_input_tokens", func(c *Config) *int { return &c.Tier.MaxInputTokens }),
	"tier.small_fanout":     intKey("tier.small_fanout", func(c *Config) *int { return &c.Tier.SmallFanout }),
	"tier.max_retries":      intKey("tier.max_retries", func(c *Config) *int { return &c.Tier.MaxRetries }),
	"tier.initial_backoff":  durationKey("tier.initial_backoff", func(c *Config) *Duration { return &c.Tier.InitialBackoff }),
	"tier.max_backoff":      durationKey("tier.max_backoff", func(c *Config) *Duration { return &c.Tier.MaxBackoff }),
	"tier.tokenizer":        stringKey(func(c *Config) *string { return &c.Tier.Tokenizer }),

	"index.chunk_size": intKey("index.chunk_size", func(c *Config) *int { return &c.Index.ChunkSize }),

	"retrieval.threshold":        floatKey("retrieval.threshold", func(c *Config) *float64 { return &c.Retrieval.Threshold }),
	"retrieval.max_depth":        intKey("retrieval.max_depth", func(c *Config) *int { return &c.Retrieval.MaxDepth }),
	"retrieval.dir_top_k":        intKey("retrieval.dir_top_k", func(c *Config) *int { return &c.Retrieval.DirTopK }),
	"retrieval.default_limit":    intKey("retrieval.default_limit", func(c *Config) *int { return &c.Retrieval.DefaultLimit }),
	"retrieval.lexical_fallback": boolKey("retrieval.lexical_fallback", func(c *Config) *bool { return &c.Retrieval.LexicalFallback }),

	"session.extractor":       stringKey(func(c *Config) *string { return &c.Session.Extractor }),
	"session.merge_threshold": floatKey("session.merge_threshold", func(c *Config) *float64 { return &c.Session.MergeThreshold }),
	"session.decay_max_age":   durationKey("session.decay_max_age", func(c *Config) *Duration { return &c.Session.DecayMaxAge }),
	"session.decay_interval":  durationKey("session.decay_interval", func(c *Config) *Duration { return &c.Session.DecayInterval }),
	"session.decay_action":    stringKey(func(c *Config) *string { return &c.Session.DecayAction }),

	"eventstream.provider": stringKey(func(c *Config) *string { return &c.EventStream.Provider }),
	"eventstream.brokers":  stringKey(func(c *Config) *string { return &c.EventStream.Brokers }),
	"eventstream.topic":    stringKey(func(c *Config) *string { return &c.EventStream.Topic }),

	"api.listen": stringKey(func(c *Config) *string { return &c.API.Listen }),
}
