package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/pkg/config"
)

var _ = Describe("Configer config", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	writeConfig := func(data string) {
		err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("LoadConfig", func() {
		It("returns default config when no config file exists", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(Equal(config.NewDefaultConfig()))
		})

		It("loads all config sections", func() {
			writeConfig(`version = 0

[storage]
backend = "postgres"
dsn = "postgres://localhost/strata"

[vector_store]
provider = "qdrant"
target = "localhost:6334"
collection = "ctx"

[embedding]
provider = "openai"
model = "text-embedding-3-small"
dimensions = 1536

[llm]
provider = "anthropic"
model = "claude-haiku-4-5"
timeout = "45s"

[limits]
provider_concurrency = 2
tier_workers = 8
max_pending_jobs = 50

[tier]
overview_tokens = 500
initial_backoff = "100ms"
max_backoff = "2s"
tokenizer = "tiktoken"

[retrieval]
threshold = 0.5
dir_top_k = 3
lexical_fallback = false

[session]
extractor = "local"
merge_threshold = 0.9
decay_max_age = "168h"
decay_action = "delete"

[eventstream]
provider = "kafka"
brokers = "a:9092, b:9092"
topic = "ctx.events"

[api]
listen = ":9091"
`)

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage.Backend).To(Equal("postgres"))
			Expect(cfg.Storage.DSN).To(Equal("postgres://localhost/strata"))
			Expect(cfg.VectorStore.Provider).To(Equal("qdrant"))
			Expect(cfg.VectorStore.Collection).To(Equal("ctx"))
			Expect(cfg.Embedding.Dimensions).To(Equal(uint(1536)))
			Expect(cfg.LLM.Provider).To(Equal("anthropic"))
			Expect(cfg.LLM.Timeout.D()).To(Equal(45 * time.Second))
			Expect(cfg.Limits.ProviderConcurrency).To(Equal(2))
			Expect(cfg.Limits.TierWorkers).To(Equal(uint(8)))
			Expect(cfg.Limits.MaxPendingJobs).To(Equal(50))
			Expect(cfg.Tier.OverviewTokens).To(Equal(500))
			Expect(cfg.Tier.InitialBackoff.D()).To(Equal(100 * time.Millisecond))
			Expect(cfg.Tier.Tokenizer).To(Equal("tiktoken"))
			Expect(cfg.Retrieval.Threshold).To(Equal(0.5))
			Expect(cfg.Retrieval.DirTopK).To(Equal(3))
			Expect(cfg.Retrieval.LexicalFallback).To(BeFalse())
			Expect(cfg.Session.Extractor).To(Equal("local"))
			Expect(cfg.Session.DecayMaxAge.D()).To(Equal(7 * 24 * time.Hour))
			Expect(cfg.Session.DecayAction).To(Equal("delete"))
			Expect(cfg.EventStream.BrokerList()).To(Equal([]string{"a:9092", "b:9092"}))
			Expect(cfg.API.Listen).To(Equal(":9091"))
		})

		It("fills in defaults for unset fields in a partial config", func() {
			writeConfig(`[llm]
model = "llama3"
`)

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())

			defaults := config.NewDefaultConfig()
			Expect(cfg.LLM.Model).To(Equal("llama3"))
			Expect(cfg.LLM.Provider).To(Equal(defaults.LLM.Provider))
			Expect(cfg.Retrieval).To(Equal(defaults.Retrieval))
			Expect(cfg.Session).To(Equal(defaults.Session))
		})

		It("returns error for malformed TOML", func() {
			writeConfig("not valid toml [[[")

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.LoadConfig()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("parsing config TOML"))
		})

		It("returns error for a bad duration", func() {
			writeConfig(`[session]
decay_max_age = "soon"
`)

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.LoadConfig()
			Expect(err).To(HaveOccurred())
		})

		It("rejects an unsupported version", func() {
			writeConfig("version = 99\n")

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.LoadConfig()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unsupported config version 99"))
		})
	})

	Describe("SaveConfig", func() {
		It("round trips through config.toml", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg := config.NewDefaultConfig()
			cfg.Session.DecayInterval = config.Duration(15 * time.Minute)
			cfg.Retrieval.LexicalFallback = false
			Expect(c.SaveConfig(cfg)).To(Succeed())

			data, err := os.ReadFile(filepath.Join(tmpDir, "config.toml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`decay_interval = "15m0s"`))

			loaded, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(cfg))
		})

		It("writes the file with owner-only permissions", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SaveConfig(config.NewDefaultConfig())).To(Succeed())

			info, err := os.Stat(c.GetTarget())
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))
		})

		It("rejects a nil config", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SaveConfig(nil)).To(MatchError(ContainSubstring("nil config")))
		})
	})

	Describe("SetConfigValue and GetConfigValue", func() {
		It("persists typed values", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			Expect(c.SetConfigValue("retrieval.threshold", "0.45")).To(Succeed())
			Expect(c.SetConfigValue("limits.embed_workers", "6")).To(Succeed())
			Expect(c.SetConfigValue("session.decay_max_age", "48h")).To(Succeed())

			v, err := c.GetConfigValue("retrieval.threshold")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("0.45"))

			v, err = c.GetConfigValue("limits.embed_workers")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("6"))

			v, err = c.GetConfigValue("session.decay_max_age")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("48h0m0s"))
		})

		It("rejects unknown keys", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			Expect(c.SetConfigValue("proxy.listen", ":1")).To(MatchError(ContainSubstring("unknown config key")))
			_, err = c.GetConfigValue("nope")
			Expect(err).To(MatchError(ContainSubstring("unknown config key")))
		})

		DescribeTable("rejects invalid values",
			func(key, value string) {
				c, err := config.NewConfiger(tmpDir)
				Expect(err).NotTo(HaveOccurred())
				Expect(c.SetConfigValue(key, value)).NotTo(Succeed())
			},
			Entry("non-numeric dimensions", "embedding.dimensions", "many"),
			Entry("negative depth", "retrieval.max_depth", "-1"),
			Entry("threshold above one", "retrieval.threshold", "1.5"),
			Entry("bad duration", "tier.max_backoff", "later"),
			Entry("bad bool", "retrieval.lexical_fallback", "sometimes"),
			Entry("unknown backend", "storage.backend", "s3"),
			Entry("unknown decay action", "session.decay_action", "archive"),
			Entry("kafka without brokers", "eventstream.provider", "kafka"),
		)
	})

	Describe("ValidConfigKeys", func() {
		It("lists every key once in section order", func() {
			keys := config.ValidConfigKeys()
			Expect(keys[0]).To(Equal("storage.backend"))
			Expect(keys[len(keys)-1]).To(Equal("api.listen"))
			Expect(keys).To(ContainElements("llm.model", "session.merge_threshold", "eventstream.brokers"))

			seen := map[string]bool{}
			for _, k := range keys {
				Expect(seen[k]).To(BeFalse(), k)
				seen[k] = true
				Expect(config.IsValidConfigKey(k)).To(BeTrue())
			}
		})

		It("marks credentials as secret", func() {
			Expect(config.IsSecretKey("llm.api_key")).To(BeTrue())
			Expect(config.IsSecretKey("storage.dsn")).To(BeTrue())
			Expect(config.IsSecretKey("llm.model")).To(BeFalse())
		})
	})

	Describe("Validate", func() {
		It("accepts the defaults", func() {
			Expect(config.NewDefaultConfig().Validate()).To(Succeed())
		})

		It("requires a dsn for postgres", func() {
			cfg := config.NewDefaultConfig()
			cfg.Storage.Backend = "postgres"
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("storage.dsn")))
		})

		It("rejects an initial backoff above the cap", func() {
			cfg := config.NewDefaultConfig()
			cfg.Tier.InitialBackoff = config.Duration(time.Minute)
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("tier.initial_backoff")))
		})
	})

	Describe("PresetConfig", func() {
		It("switches both providers for openai", func() {
			cfg, err := config.PresetConfig("openai")
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.LLM.Provider).To(Equal("openai"))
			Expect(cfg.Embedding.Provider).To(Equal("openai"))
			Expect(cfg.Embedding.Dimensions).To(Equal(uint(1536)))
			Expect(cfg.Validate()).To(Succeed())
		})

		It("keeps ollama embeddings for anthropic", func() {
			cfg, err := config.PresetConfig("Anthropic")
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.LLM.Provider).To(Equal("anthropic"))
			Expect(cfg.Embedding.Provider).To(Equal("ollama"))
		})

		It("rejects unknown presets", func() {
			_, err := config.PresetConfig("bedrock")
			Expect(err).To(MatchError(ContainSubstring("unknown preset")))
			Expect(config.ValidPresetNames()).To(ConsistOf("openai", "anthropic", "ollama"))
		})
	})
})

var _ = Describe("InitViper", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	It("resolves defaults when no config file exists", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(config.NewDefaultConfig()))
	})

	It("layers file values over defaults", func() {
		data := `[retrieval]
threshold = 0.6
lexical_fallback = false

[session]
decay_interval = "10m"
`
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Retrieval.Threshold).To(Equal(0.6))
		Expect(cfg.Retrieval.LexicalFallback).To(BeFalse())
		Expect(cfg.Session.DecayInterval.D()).To(Equal(10 * time.Minute))
		Expect(cfg.Retrieval.MaxDepth).To(Equal(config.NewDefaultConfig().Retrieval.MaxDepth))
	})

	It("lets STRATA_ environment variables override the file", func() {
		data := `[llm]
model = "from-file"
`
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())
		GinkgoT().Setenv("STRATA_LLM_MODEL", "from-env")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.LLM.Model).To(Equal("from-env"))
	})

	It("surfaces invalid resolved values", func() {
		GinkgoT().Setenv("STRATA_STORAGE_BACKEND", "tape")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		_, err = config.FromViper(v)
		Expect(err).To(MatchError(ContainSubstring("storage.backend")))
	})
})

var _ = Describe("Flag registry", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	It("flag values take precedence over config and env", func() {
		data := `[api]
listen = ":5555"
`
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())
		GinkgoT().Setenv("STRATA_API_LISTEN", ":6666")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		config.RegisterFlags(cmd, config.StrataFlags, []string{config.FlagAPIListen})
		Expect(cmd.Flags().Set("listen", ":7777")).To(Succeed())

		config.BindRegisteredFlags(v, cmd, config.StrataFlags, []string{config.FlagAPIListen})
		Expect(v.GetString("api.listen")).To(Equal(":7777"))
	})

	It("falls through to config when flag not set", func() {
		data := `[api]
listen = ":5555"
`
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		config.RegisterFlags(cmd, config.StrataFlags, []string{config.FlagAPIListen})
		config.BindRegisteredFlags(v, cmd, config.StrataFlags, []string{config.FlagAPIListen})

		Expect(v.GetString("api.listen")).To(Equal(":5555"))
	})

	It("skips bindings for nonexistent registry keys", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		config.BindRegisteredFlags(v, cmd, config.FlagSet{}, []string{"nonexistent"})

		Expect(v.GetString("api.listen")).To(Equal(config.NewDefaultConfig().API.Listen))
	})

	It("pulls name, shorthand, description and default from the registry", func() {
		cmd := &cobra.Command{Use: "test"}
		config.RegisterFlags(cmd, config.StrataFlags, []string{config.FlagAPIListen, config.FlagStorage})

		f := cmd.Flags().Lookup("listen")
		Expect(f).NotTo(BeNil())
		Expect(f.Shorthand).To(Equal("l"))
		Expect(f.DefValue).To(Equal(config.NewDefaultConfig().API.Listen))

		f = cmd.Flags().Lookup("storage")
		Expect(f).NotTo(BeNil())
		Expect(f.Usage).To(ContainSubstring("postgres"))
	})

	It("registers numeric flags as uint", func() {
		cmd := &cobra.Command{Use: "test"}
		config.RegisterFlags(cmd, config.StrataFlags, []string{config.FlagTierWorkers})

		f := cmd.Flags().Lookup("tier-workers")
		Expect(f).NotTo(BeNil())
		Expect(f.Value.Type()).To(Equal("uint"))
		Expect(f.DefValue).To(Equal("4"))
	})
})
