package dbopen_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/cmd/strata/dbopen"
	"github.com/papercomputeco/strata/pkg/config"
	"github.com/papercomputeco/strata/pkg/credentials"
	"github.com/papercomputeco/strata/pkg/errs"
)

func newCmd(configDir string, args ...string) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config-dir", "", "")
	cmd.Flags().Bool("debug", false, "")
	dbopen.Register(cmd, config.FlagDecayAction)
	Expect(cmd.Flags().Parse(append([]string{"--config-dir", configDir}, args...))).To(Succeed())
	return cmd
}

var _ = Describe("dbopen", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	DescribeTable("ResolveURI",
		func(arg, want string) {
			got, err := dbopen.ResolveURI(arg)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("full URI", "strata://resources/doc.md", "strata://resources/doc.md"),
		Entry("relative path", "resources/doc.md", "strata://resources/doc.md"),
		Entry("leading slash", "/user/alice", "strata://user/alice"),
		Entry("root", "", "strata://"),
	)

	It("rejects invalid paths", func() {
		_, err := dbopen.ResolveURI("resources/../etc")
		Expect(errs.IsValidation(err)).To(BeTrue())
	})

	Describe("Load", func() {
		It("uses defaults without a config file", func() {
			cfg, err := dbopen.Load(newCmd(dir), config.FlagDecayAction)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage.Backend).To(Equal("sqlite"))
		})

		It("lets flags override the config file", func() {
			cfger, err := config.NewConfiger(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfger.SetConfigValue("storage.backend", "local")).To(Succeed())

			cfg, err := dbopen.Load(newCmd(dir), config.FlagDecayAction)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage.Backend).To(Equal("local"))

			cfg, err = dbopen.Load(newCmd(dir, "--storage", "memory", "--action", "delete"), config.FlagDecayAction)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage.Backend).To(Equal("memory"))
			Expect(cfg.Session.DecayAction).To(Equal("delete"))
		})

		It("rejects invalid flag values", func() {
			_, err := dbopen.Load(newCmd(dir, "--storage", "floppy"))
			Expect(err).To(HaveOccurred())
		})
	})

	It("opens a database in the data directory", func() {
		cmd := newCmd(dir,
			"--storage", "memory",
			"--vector-store-provider", "memory",
			"--extractor", "local",
		)
		db, cfg, err := dbopen.Open(context.Background(), cmd)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)
		Expect(cfg.VectorStore.Provider).To(Equal("memory"))

		entries, err := db.Ls(context.Background(), "strata://", false)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(4))
	})

	It("fills provider keys from the credentials store", func() {
		GinkgoT().Setenv("ANTHROPIC_API_KEY", "")
		creds, err := credentials.NewManager(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(creds.SetKey("anthropic", "sk-stored")).To(Succeed())

		cmd := newCmd(dir,
			"--storage", "memory",
			"--vector-store-provider", "memory",
			"--llm-provider", "anthropic",
		)
		db, cfg, err := dbopen.Open(context.Background(), cmd)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)
		Expect(cfg.LLM.APIKey).To(Equal("sk-stored"))
		Expect(cfg.Embedding.APIKey).To(BeEmpty())
	})
})
