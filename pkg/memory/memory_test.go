package memory_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/memory"
)

var _ = Describe("Memory", func() {
	DescribeTable("ParseType",
		func(in string, want memory.Type) {
			got, err := memory.ParseType(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("preference", "preference", memory.TypePreference),
		Entry("fact", " Fact ", memory.TypeFact),
		Entry("task outcome", "task-outcome", memory.TypeTaskOutcome),
	)

	It("rejects unknown types", func() {
		_, err := memory.ParseType("opinion")
		Expect(errs.IsValidation(err)).To(BeTrue())
	})

	It("places memories per user or agent", func() {
		Expect(memory.Parent("alice", "coder", memory.TypePreference)).To(Equal("strata://user/alice/memories/preferences"))
		Expect(memory.Parent("alice", "coder", memory.TypeFact)).To(Equal("strata://user/alice/memories/facts"))
		Expect(memory.Parent("alice", "coder", memory.TypeTaskOutcome)).To(Equal("strata://agent/coder/memories/task_outcomes"))
	})

	It("names memories from their title or content", func() {
		Expect(memory.Name(memory.Candidate{Title: "Dark Mode"})).To(Equal("dark-mode"))
		Expect(memory.Name(memory.Candidate{Content: "User likes tea with milk and no sugar at all"})).To(Equal("user-likes-tea-with-milk-and"))
		Expect(memory.Name(memory.Candidate{})).To(Equal("memory"))
	})

	It("normalizes whitespace and case", func() {
		Expect(memory.Normalize("  Tabs   over\nSpaces ")).To(Equal("tabs over spaces"))
	})
})
