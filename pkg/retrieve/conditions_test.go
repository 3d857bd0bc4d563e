package retrieve_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/retrieve"
	testutils "github.com/papercomputeco/strata/pkg/utils/test"
)

var _ = Describe("LLMConditions", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("puts the raw query first and dedupes", func() {
		c := testutils.NewMockCompleter(`{"queries": ["Token refresh", "auth flow", "AUTH FLOW", "how does auth work"]}`)
		got, err := retrieve.NewLLMConditions(c, 0, nil).Conditions(ctx, "how does auth work")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]string{"how does auth work", "Token refresh", "auth flow"}))
		Expect(c.Requests()[0].JSON).To(BeTrue())
	})

	It("caps the number of conditions", func() {
		c := testutils.NewMockCompleter(`{"queries": ["a1", "b2", "c3"]}`)
		got, err := retrieve.NewLLMConditions(c, 2, nil).Conditions(ctx, "q")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]string{"q", "a1"}))
	})

	It("accepts a bare array", func() {
		c := testutils.NewMockCompleter(`Sure: ["first aspect", "second aspect"]`)
		got, err := retrieve.NewLLMConditions(c, 0, nil).Conditions(ctx, "q")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]string{"q", "first aspect", "second aspect"}))
	})

	It("falls back to the raw query on provider failure", func() {
		c := testutils.NewMockCompleter()
		c.FailAll(true)
		got, err := retrieve.NewLLMConditions(c, 0, nil).Conditions(ctx, "q")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]string{"q"}))
	})

	It("falls back to the raw query on unparseable output", func() {
		c := testutils.NewMockCompleter("no json here")
		got, err := retrieve.NewLLMConditions(c, 0, nil).Conditions(ctx, "q")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]string{"q"}))
	})

	It("returns cancellation", func() {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := retrieve.NewLLMConditions(testutils.NewMockCompleter(), 0, nil).Conditions(cctx, "q")
		Expect(err).To(MatchError(context.Canceled))
	})
})

var _ = Describe("Static conditions", func() {
	It("ignores the query", func() {
		got, err := retrieve.Static{"a", "b"}.Conditions(context.Background(), "q")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]string{"a", "b"}))
	})
})
