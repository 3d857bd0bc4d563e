package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline, so the same logical flag
// (e.g. --storage on "strata serve" and "strata add") cannot drift.
type Flag struct {
	// Name is the long flag name (e.g. "storage").
	Name string

	// Shorthand is the one-letter short flag (e.g. "l"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "storage.backend").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddUintFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagAPIListen       = "api-listen"
	FlagStorage         = "storage"
	FlagStoragePath     = "storage-path"
	FlagStorageDSN      = "storage-dsn"
	FlagVectorStoreProv = "vector-store-provider"
	FlagVectorStoreTgt  = "vector-store-target"
	FlagEmbeddingProv   = "embedding-provider"
	FlagEmbeddingTgt    = "embedding-target"
	FlagEmbeddingModel  = "embedding-model"
	FlagEmbeddingDims   = "embedding-dimensions"
	FlagLLMProvider     = "llm-provider"
	FlagLLMTarget       = "llm-target"
	FlagLLMModel        = "llm-model"
	FlagExtractor       = "extractor"
	FlagEventProvider   = "eventstream-provider"
	FlagEventBrokers    = "eventstream-brokers"
	FlagDecayAction     = "decay-action"
	FlagTierWorkers     = "tier-workers"
	FlagEmbedWorkers    = "embed-workers"
)

// StrataFlags is the registry shared by every strata subcommand.
var StrataFlags = FlagSet{
	FlagAPIListen: {
		Name: "listen", Shorthand: "l", ViperKey: "api.listen",
		Description: "Address for the HTTP API to listen on",
	},
	FlagStorage: {
		Name: "storage", ViperKey: "storage.backend",
		Description: "Blob store backend (memory, local, sqlite, postgres)",
	},
	FlagStoragePath: {
		Name: "storage-path", ViperKey: "storage.path",
		Description: "Directory or database file for the local and sqlite backends",
	},
	FlagStorageDSN: {
		Name: "storage-dsn", ViperKey: "storage.dsn",
		Description: "PostgreSQL connection string",
	},
	FlagVectorStoreProv: {
		Name: "vector-store-provider", ViperKey: "vector_store.provider",
		Description: "Vector store provider (memory, sqlite, chroma, qdrant)",
	},
	FlagVectorStoreTgt: {
		Name: "vector-store-target", ViperKey: "vector_store.target",
		Description: "Vector store database path or server address",
	},
	FlagEmbeddingProv: {
		Name: "embedding-provider", ViperKey: "embedding.provider",
		Description: "Embedding provider (ollama, openai)",
	},
	FlagEmbeddingTgt: {
		Name: "embedding-target", ViperKey: "embedding.target",
		Description: "Embedding provider URL",
	},
	FlagEmbeddingModel: {
		Name: "embedding-model", ViperKey: "embedding.model",
		Description: "Embedding model name",
	},
	FlagEmbeddingDims: {
		Name: "embedding-dimensions", ViperKey: "embedding.dimensions",
		Description: "Embedding vector dimensions",
	},
	FlagLLMProvider: {
		Name: "llm-provider", ViperKey: "llm.provider",
		Description: "Language model provider (ollama, openai, anthropic)",
	},
	FlagLLMTarget: {
		Name: "llm-target", ViperKey: "llm.target",
		Description: "Language model provider URL",
	},
	FlagLLMModel: {
		Name: "llm-model", ViperKey: "llm.model",
		Description: "Language model name",
	},
	FlagExtractor: {
		Name: "extractor", ViperKey: "session.extractor",
		Description: "Memory extractor used on commit (llm, local)",
	},
	FlagEventProvider: {
		Name: "eventstream-provider", ViperKey: "eventstream.provider",
		Description: "Lifecycle event publisher (nop, kafka)",
	},
	FlagEventBrokers: {
		Name: "eventstream-brokers", ViperKey: "eventstream.brokers",
		Description: "Comma separated kafka broker addresses",
	},
	FlagDecayAction: {
		Name: "action", ViperKey: "session.decay_action",
		Description: "What to do with decayed memories (demote, delete)",
	},
	FlagTierWorkers: {
		Name: "tier-workers", ViperKey: "limits.tier_workers",
		Description: "Concurrent tier generation workers",
	},
	FlagEmbedWorkers: {
		Name: "embed-workers", ViperKey: "limits.embed_workers",
		Description: "Concurrent embedding workers",
	},
}

// BackendFlags are the registry keys every command that opens the database
// registers.
var BackendFlags = []string{
	FlagStorage,
	FlagStoragePath,
	FlagStorageDSN,
	FlagVectorStoreProv,
	FlagVectorStoreTgt,
	FlagEmbeddingProv,
	FlagEmbeddingTgt,
	FlagEmbeddingModel,
	FlagLLMProvider,
	FlagLLMTarget,
	FlagLLMModel,
	FlagExtractor,
	FlagEventProvider,
	FlagEventBrokers,
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *uint) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultUint(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().UintVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultUint returns the default uint value for a viper key from NewDefaultConfig.
func defaultUint(viperKey string) uint {
	v := viper.New()
	setViperDefaults(v)
	return v.GetUint(viperKey)
}

var uintFlags = map[string]bool{
	FlagEmbeddingDims: true,
	FlagTierWorkers:   true,
	FlagEmbedWorkers:  true,
}

// RegisterFlags adds the flags named by registryKeys to cmd. Values are read
// back through viper after BindRegisteredFlags, so no targets are kept.
func RegisterFlags(cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, key := range registryKeys {
		if uintFlags[key] {
			AddUintFlag(cmd, fs, key, new(uint))
			continue
		}
		AddStringFlag(cmd, fs, key, new(string))
	}
}
