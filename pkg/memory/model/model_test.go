package model_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/memory"
	"github.com/papercomputeco/strata/pkg/memory/model"
	testutils "github.com/papercomputeco/strata/pkg/utils/test"
)

var turns = []memory.Turn{
	{Role: "user", Text: "I prefer dark mode in every editor."},
	{Role: "assistant", Text: "Switched the theme to dark."},
}

var _ = Describe("Extractor", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("parses typed candidates", func() {
		c := testutils.NewMockCompleter(`{"memories": [
			{"type": "preference", "title": "Dark mode", "content": " User prefers dark mode. "},
			{"type": "task-outcome", "title": "Theme switch", "content": "Switched editor theme successfully."},
			{"type": "opinion", "content": "dropped"},
			{"type": "fact", "content": ""}
		]}`)
		got, err := model.NewExtractor(c, model.Config{}, nil).Extract(ctx, turns)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]memory.Candidate{
			{Type: memory.TypePreference, Title: "Dark mode", Content: "User prefers dark mode."},
			{Type: memory.TypeTaskOutcome, Title: "Theme switch", Content: "Switched editor theme successfully."},
		}))

		req := c.Requests()[0]
		Expect(req.JSON).To(BeTrue())
		Expect(req.Context).To(Equal("user: I prefer dark mode in every editor.\n\nassistant: Switched the theme to dark."))
	})

	It("skips the model for empty conversations", func() {
		c := testutils.NewMockCompleter()
		got, err := model.NewExtractor(c, model.Config{}, nil).Extract(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeEmpty())
		Expect(c.Calls()).To(Equal(0))
	})

	It("reports unparseable answers as provider errors", func() {
		c := testutils.NewMockCompleter("I could not find anything")
		_, err := model.NewExtractor(c, model.Config{}, nil).Extract(ctx, turns)
		Expect(errs.IsProvider(err)).To(BeTrue())
	})

	It("passes provider failures through", func() {
		c := testutils.NewMockCompleter()
		c.FailAll(true)
		_, err := model.NewExtractor(c, model.Config{}, nil).Extract(ctx, turns)
		Expect(errs.IsProvider(err)).To(BeTrue())
	})
})

var _ = Describe("Transcript", func() {
	It("keeps the most recent turns within the budget", func() {
		got := model.Transcript([]memory.Turn{
			{Role: "user", Text: "first message here"},
			{Role: "user", Text: "second"},
			{Role: "assistant", Text: "third"},
		}, 30)
		Expect(got).To(Equal("user: second\n\nassistant: third"))
	})

	It("always keeps the last turn", func() {
		got := model.Transcript([]memory.Turn{{Role: "user", Text: "a very long message"}}, 4)
		Expect(got).To(Equal("user: a very long message"))
	})
})
