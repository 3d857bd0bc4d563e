package authcmder_test

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	authcmder "github.com/papercomputeco/strata/cmd/strata/auth"
	"github.com/papercomputeco/strata/pkg/credentials"
)

var _ = Describe("Auth Command", func() {
	var (
		tmpDir string
		out    *bytes.Buffer
	)

	run := func(stdin string, args ...string) error {
		cmd := authcmder.NewAuthCmd()
		cmd.PersistentFlags().String("config-dir", "", "")
		out = &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetIn(strings.NewReader(stdin))
		cmd.SetArgs(append(args, "--config-dir", tmpDir))
		return cmd.Execute()
	}

	stored := func(provider string) string {
		mgr, err := credentials.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		key, err := mgr.GetKey(provider)
		Expect(err).NotTo(HaveOccurred())
		return key
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	It("creates a command with expected flags", func() {
		cmd := authcmder.NewAuthCmd()
		Expect(cmd.Use).To(Equal("auth [provider]"))
		Expect(cmd.Flags().Lookup("list")).NotTo(BeNil())
		Expect(cmd.Flags().Lookup("remove")).NotTo(BeNil())
	})

	It("stores a key read from stdin", func() {
		Expect(run("sk-test\n", "anthropic")).To(Succeed())
		Expect(stored("anthropic")).To(Equal("sk-test"))
		Expect(out.String()).To(ContainSubstring("Stored"))
	})

	It("lists and removes stored keys", func() {
		Expect(run("sk-test\n", "openai")).To(Succeed())

		Expect(run("", "--list")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("openai"))
		Expect(out.String()).NotTo(ContainSubstring("sk-test"))

		Expect(run("", "--remove", "openai")).To(Succeed())
		Expect(stored("openai")).To(BeEmpty())
	})

	It("shows a hint when nothing is stored", func() {
		Expect(run("", "--list")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("No stored credentials"))
	})

	It("rejects unsupported providers", func() {
		Expect(run("sk\n", "ollama")).To(MatchError(ContainSubstring("unsupported provider")))
	})

	It("rejects empty keys", func() {
		Expect(run("   \n", "openai")).To(MatchError(ContainSubstring("cannot be empty")))
	})

	It("requires a provider", func() {
		Expect(run("")).To(MatchError(ContainSubstring("provider argument required")))
	})
})
