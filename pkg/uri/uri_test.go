package uri_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/uri"
)

var _ = Describe("URI", func() {
	Describe("Parse", func() {
		It("canonicalizes trailing slashes", func() {
			u, err := uri.Parse("strata://resources/doc.md/")
			Expect(err).NotTo(HaveOccurred())
			Expect(u).To(Equal("strata://resources/doc.md"))
		})

		It("accepts the bare root", func() {
			u, err := uri.Parse("strata://")
			Expect(err).NotTo(HaveOccurred())
			Expect(u).To(Equal(uri.Root))
		})

		DescribeTable("rejects malformed input with a validation error",
			func(in string) {
				_, err := uri.Parse(in)
				Expect(err).To(HaveOccurred())
				Expect(errs.IsValidation(err)).To(BeTrue())
			},
			Entry("missing scheme", "resources/doc.md"),
			Entry("empty segment", "strata://resources//doc.md"),
			Entry("parent segment", "strata://resources/../user"),
			Entry("dot segment", "strata://resources/./x"),
			Entry("overlong segment", "strata://resources/"+strings.Repeat("a", 256)),
		)
	})

	Describe("navigation", func() {
		It("splits parents and bases", func() {
			p, ok := uri.Parent("strata://resources/doc.md/b")
			Expect(ok).To(BeTrue())
			Expect(p).To(Equal("strata://resources/doc.md"))
			Expect(uri.Base("strata://resources/doc.md/b")).To(Equal("b"))

			p, ok = uri.Parent("strata://resources")
			Expect(ok).To(BeTrue())
			Expect(p).To(Equal(uri.Root))

			_, ok = uri.Parent(uri.Root)
			Expect(ok).To(BeFalse())
		})

		It("lists ancestors root first", func() {
			Expect(uri.Ancestors("strata://resources/doc.md/b")).To(Equal([]string{
				"strata://",
				"strata://resources",
				"strata://resources/doc.md",
			}))
		})

		It("joins and measures depth", func() {
			Expect(uri.Join(uri.Root, "user")).To(Equal("strata://user"))
			Expect(uri.Join("strata://user", "alice")).To(Equal("strata://user/alice"))
			Expect(uri.Depth("strata://user/alice")).To(Equal(2))
			Expect(uri.Depth(uri.Root)).To(Equal(0))
		})

		It("tests scope containment on segment boundaries", func() {
			Expect(uri.Within("strata://resources/doc", "strata://resources")).To(BeTrue())
			Expect(uri.Within("strata://resources", "strata://resources")).To(BeTrue())
			Expect(uri.Within("strata://resourcesX/doc", "strata://resources")).To(BeFalse())
			Expect(uri.Within("strata://user", uri.Root)).To(BeTrue())
		})

		It("computes relative paths", func() {
			Expect(uri.Relative("strata://resources/doc.md/b", "strata://resources")).To(Equal("doc.md/b"))
			Expect(uri.Relative("strata://resources", uri.Root)).To(Equal("resources"))
		})
	})

	Describe("Slug", func() {
		It("normalizes titles", func() {
			Expect(uri.Slug("  Getting Started: Install!  ", "x")).To(Equal("getting-started-install"))
			Expect(uri.Slug("README.md", "x")).To(Equal("readme.md"))
			Expect(uri.Slug("???", "section")).To(Equal("section"))
		})

		It("deduplicates against taken names", func() {
			taken := map[string]bool{"a": true, "a-2": true}
			Expect(uri.Unique("a", func(s string) bool { return taken[s] })).To(Equal("a-3"))
			Expect(uri.Unique("b", func(s string) bool { return taken[s] })).To(Equal("b"))
		})
	})
})
