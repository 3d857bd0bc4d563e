package local_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/memory"
	"github.com/papercomputeco/strata/pkg/memory/local"
)

var _ = Describe("Local Extractor", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("classifies user turns", func() {
		e := local.NewExtractor(local.Config{Enabled: true})
		got, err := e.Extract(ctx, []memory.Turn{
			{Role: "user", Text: "I prefer tabs over spaces"},
			{Role: "assistant", Text: "Noted, I will use tabs from now on"},
			{Role: "user", Text: "The staging cluster runs in eu-west-1"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]memory.Candidate{
			{Type: memory.TypePreference, Content: "I prefer tabs over spaces"},
			{Type: memory.TypeFact, Content: "The staging cluster runs in eu-west-1"},
		}))
	})

	It("skips short and repeated turns", func() {
		e := local.NewExtractor(local.Config{Enabled: true})
		got, err := e.Extract(ctx, []memory.Turn{
			{Role: "user", Text: "thanks!"},
			{Role: "user", Text: "The build uses  Bazel"},
			{Role: "user", Text: "the build uses bazel"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
	})

	It("returns nothing when disabled", func() {
		e := local.NewExtractor(local.Config{})
		got, err := e.Extract(ctx, []memory.Turn{{Role: "user", Text: "I prefer dark mode always"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeNil())
		Expect(e.Close()).To(Succeed())
	})
})
