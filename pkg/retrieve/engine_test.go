package retrieve_test

import (
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/index"
	"github.com/papercomputeco/strata/pkg/retrieve"
	"github.com/papercomputeco/strata/pkg/storage/inmemory"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
	testutils "github.com/papercomputeco/strata/pkg/utils/test"
)

func stepFor(tr *retrieve.Trajectory, u string) (int, *retrieve.Step) {
	for i := range tr.Steps {
		if tr.Steps[i].URI == u {
			return i, &tr.Steps[i]
		}
	}
	return -1, nil
}

func ptr[T any](v T) *T { return &v }

func resultURIs(tr *retrieve.Trajectory) []string {
	out := make([]string, len(tr.Results))
	for i, r := range tr.Results {
		out[i] = r.URI
	}
	return out
}

// expectGrounded checks that every ancestor of every result inside the
// scope was expanded in the trajectory.
func expectGrounded(tr *retrieve.Trajectory) {
	for _, r := range tr.Results {
		_, leaf := stepFor(tr, r.URI)
		Expect(leaf).NotTo(BeNil(), r.URI)
		for _, a := range uri.Ancestors(r.URI) {
			if !uri.Within(a, tr.Scope) {
				continue
			}
			_, s := stepFor(tr, a)
			Expect(s).NotTo(BeNil(), a)
			Expect(s.Decision).To(Equal(retrieve.DecisionExpand), a)
		}
	}
}

var _ = Describe("Engine", func() {
	var (
		ctx      context.Context
		t        *tree.Tree
		embedder *testutils.MockEmbedder
		ix       *index.Indexer
		engine   *retrieve.Engine
		query    = []float32{1, 0, 0, 0}
	)

	mkdir := func(parent, name string) string {
		n, err := t.Create(ctx, tree.CreateRequest{
			Parent: parent, Name: name, Kind: tree.KindDirectory,
			Provenance: tree.Provenance{Origin: tree.OriginResource},
		})
		Expect(err).NotTo(HaveOccurred())
		return n.URI
	}

	// mkleaf creates an indexed leaf whose overview embeds as emb.
	mkleaf := func(parent, name, content string, emb []float32) string {
		n, err := t.Create(ctx, tree.CreateRequest{
			Parent: parent, Name: name, Kind: tree.KindDocument,
			Provenance: tree.Provenance{Origin: tree.OriginResource},
			Content:    []byte(content),
		})
		Expect(err).NotTo(HaveOccurred())

		overview := "overview of " + n.URI
		embedder.Set(overview, emb)
		_, err = t.WriteTier(ctx, n.URI, n.Version, tree.L1, overview, overview)
		Expect(err).NotTo(HaveOccurred())
		_, err = ix.Index(ctx, n.URI)
		Expect(err).NotTo(HaveOccurred())
		return n.URI
	}

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		t, err = tree.Open(ctx, inmemory.NewDriver())
		Expect(err).NotTo(HaveOccurred())

		embedder = testutils.NewMockEmbedder()
		embedder.Set("the query", query)
		ix = index.New(t, embedder, testutils.NewMockVectorDriver(), index.Config{}, nil)
		engine = retrieve.New(t, ix, nil, retrieve.Config{Threshold: 0.5}, nil)
	})

	Describe("recursive mode", func() {
		var d1, d2, x, y, z string

		BeforeEach(func() {
			d1 = mkdir(uri.Resources, "d1")
			d2 = mkdir(uri.Resources, "d2")
			x = mkleaf(d1, "x", "xray notes", []float32{1, 0, 0, 0})
			y = mkleaf(d1, "y", "yankee notes", []float32{0.8, 0.6, 0, 0})
			z = mkleaf(d2, "z", "zulu notes", []float32{0.4, 0.9165, 0, 0})
		})

		It("drills into high-scoring directories and skips low-scoring ones", func() {
			tr, err := engine.Find(ctx, retrieve.Query{Text: "the query", Scope: uri.Resources})
			Expect(err).NotTo(HaveOccurred())

			_, s1 := stepFor(tr, d1)
			Expect(s1.Decision).To(Equal(retrieve.DecisionExpand))
			Expect(s1.Score).To(BeNumerically(">", 0.9))

			_, s2 := stepFor(tr, d2)
			Expect(s2.Decision).To(Equal(retrieve.DecisionReject))
			Expect(s2.Score).To(BeNumerically("~", 0.4, 1e-3))

			for _, s := range tr.Steps {
				Expect(uri.Within(s.URI, d2) && s.URI != d2).To(BeFalse(), "visited "+s.URI)
			}
			Expect(resultURIs(tr)).To(Equal([]string{x, y}))
			Expect(tr.Results[0].Path).To(Equal([]string{uri.Resources, d1}))
			expectGrounded(tr)
		})

		It("visits a directory before the leaves found in it", func() {
			tr, err := engine.Find(ctx, retrieve.Query{Text: "the query"})
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.Scope).To(Equal(uri.Root))

			dirAt, _ := stepFor(tr, d1)
			leafAt, _ := stepFor(tr, x)
			Expect(dirAt).To(BeNumerically("<", leafAt))
			expectGrounded(tr)
		})

		It("stops at the depth limit", func() {
			engine = retrieve.New(t, ix, nil, retrieve.Config{Threshold: 0.5, MaxDepth: 1}, nil)

			tr, err := engine.Find(ctx, retrieve.Query{Text: "the query", Scope: uri.Resources})
			Expect(err).NotTo(HaveOccurred())
			_, s1 := stepFor(tr, d1)
			Expect(s1.Decision).To(Equal(retrieve.DecisionStop))
			Expect(tr.Results).To(BeEmpty())
		})

		It("expands at most the top-K directories per level", func() {
			d3 := mkdir(uri.Resources, "d3")
			mkleaf(d3, "w", "whiskey notes", []float32{0.9, 0.1, 0, 0})
			engine = retrieve.New(t, ix, nil, retrieve.Config{Threshold: 0.3, DirTopK: 1}, nil)

			tr, err := engine.Find(ctx, retrieve.Query{Text: "the query", Scope: uri.Resources})
			Expect(err).NotTo(HaveOccurred())

			expanded := 0
			for _, s := range tr.Steps {
				if s.Depth == 1 && s.Decision == retrieve.DecisionExpand {
					expanded++
				}
			}
			Expect(expanded).To(Equal(1))
			expectGrounded(tr)
		})

		It("limits and ranks results", func() {
			tr, err := engine.Find(ctx, retrieve.Query{Text: "the query", Scope: uri.Resources, Limit: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(resultURIs(tr)).To(Equal([]string{x}))
			Expect(tr.Results[0].Score).To(BeNumerically("~", 1, 1e-3))
			Expect(tr.Results[0].Kind).To(Equal(tree.KindDocument))
		})

		It("ignores vectors of tiers that are no longer ready", func() {
			n, err := t.Resolve(x)
			Expect(err).NotTo(HaveOccurred())
			_, err = t.WriteContent(ctx, x, n.Version, []byte("rewritten"))
			Expect(err).NotTo(HaveOccurred())

			tr, err := engine.Find(ctx, retrieve.Query{Text: "the query", Scope: d1})
			Expect(err).NotTo(HaveOccurred())
			Expect(resultURIs(tr)).To(Equal([]string{y}))
		})

		It("halves the score of demoted nodes", func() {
			n, err := t.Resolve(x)
			Expect(err).NotTo(HaveOccurred())
			_, err = t.Update(ctx, x, n.Version, func(n *tree.Node) error {
				n.Demoted = true
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			tr, err := engine.Find(ctx, retrieve.Query{Text: "the query", Scope: d1, Threshold: ptr(float32(0.6))})
			Expect(err).NotTo(HaveOccurred())
			Expect(resultURIs(tr)).To(Equal([]string{y}))
			_, s := stepFor(tr, x)
			Expect(s.Score).To(BeNumerically("~", 0.5, 1e-3))
			Expect(s.Decision).To(Equal(retrieve.DecisionReject))
		})

		It("honors an explicit zero threshold", func() {
			tr, err := engine.Find(ctx, retrieve.Query{Text: "the query", Scope: uri.Resources, Threshold: ptr(float32(0))})
			Expect(err).NotTo(HaveOccurred())

			_, s2 := stepFor(tr, d2)
			Expect(s2.Decision).To(Equal(retrieve.DecisionExpand))
			Expect(resultURIs(tr)).To(ConsistOf(x, y, z))
			expectGrounded(tr)
		})

		It("scores a leaf scope directly", func() {
			tr, err := engine.Find(ctx, retrieve.Query{Text: "the query", Scope: x})
			Expect(err).NotTo(HaveOccurred())
			Expect(resultURIs(tr)).To(Equal([]string{x}))
		})

		It("records references for decay", func() {
			_, err := engine.Find(ctx, retrieve.Query{Text: "the query", Scope: uri.Resources})
			Expect(err).NotTo(HaveOccurred())

			n, err := t.Resolve(x)
			Expect(err).NotTo(HaveOccurred())
			Expect(n.ReferencedAt).NotTo(BeZero())

			n, err = t.Resolve(z)
			Expect(err).NotTo(HaveOccurred())
			Expect(n.ReferencedAt).To(BeZero())
		})

		It("runs every generated condition", func() {
			embedder.Set("about zulu", []float32{0.4, 0.9165, 0, 0})
			engine = retrieve.New(t, ix, retrieve.Static{"the query", "about zulu"}, retrieve.Config{Threshold: 0.5}, nil)

			tr, err := engine.Search(ctx, retrieve.Query{Text: "anything", Scope: uri.Resources})
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.Conditions).To(Equal([]string{"the query", "about zulu"}))
			Expect(resultURIs(tr)).To(ContainElements(x, z))

			for _, r := range tr.Results {
				if r.URI == z {
					Expect(r.Condition).To(Equal("about zulu"))
				}
			}
			expectGrounded(tr)
		})

		It("degrades to lexical matching when embedding fails", func() {
			embedder.FailAll(true)

			tr, err := engine.Find(ctx, retrieve.Query{Text: "zulu notes", Scope: uri.Resources})
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.LowConfidence).To(BeTrue())
			Expect(tr.Results[0].URI).To(Equal(z))
			Expect(tr.Results[0].LowConfidence).To(BeTrue())
			Expect(tr.Results[0].Snippet).To(Equal("zulu notes"))
		})

		It("keeps a sibling above the threshold next to a leaf with many matching chunks", func() {
			ix = index.New(t, embedder, testutils.NewMockVectorDriver(), index.Config{ChunkSize: 20}, nil)
			engine = retrieve.New(t, ix, nil, retrieve.Config{Threshold: 0.5}, nil)

			embedder.Set("needle words", query)
			crowd := mkdir(uri.Resources, "crowd")
			big := mkleaf(crowd, "big", strings.Repeat("needle words\n\n", 100), []float32{0, 1, 0, 0})
			small := mkleaf(crowd, "small", "small notes", []float32{0.8, 0.6, 0, 0})

			tr, err := engine.Find(ctx, retrieve.Query{Text: "the query", Scope: crowd})
			Expect(err).NotTo(HaveOccurred())

			_, s := stepFor(tr, small)
			Expect(s).NotTo(BeNil())
			Expect(s.Decision).NotTo(Equal(retrieve.DecisionReject))
			Expect(s.Score).To(BeNumerically(">=", 0.8-1e-3))
			Expect(resultURIs(tr)).To(ConsistOf(big, small))
		})

		It("fails on embedding errors when the fallback is disabled", func() {
			engine = retrieve.New(t, ix, nil, retrieve.Config{DisableLexicalFallback: true}, nil)
			embedder.FailAll(true)

			_, err := engine.Find(ctx, retrieve.Query{Text: "zulu", Scope: uri.Resources})
			Expect(errs.IsProvider(err)).To(BeTrue())
		})
	})

	Describe("flat mode", func() {
		It("ranks leaves across the scope", func() {
			d := mkdir(uri.Resources, "d")
			a := mkleaf(d, "a", "alpha", []float32{1, 0, 0, 0})
			b := mkleaf(uri.Resources, "b", "bravo", []float32{0.6, 0.8, 0, 0})
			mkleaf(uri.Resources, "c", "charlie", []float32{0, 1, 0, 0})

			tr, err := engine.Find(ctx, retrieve.Query{Text: "the query", Mode: retrieve.ModeFlat})
			Expect(err).NotTo(HaveOccurred())
			Expect(resultURIs(tr)).To(Equal([]string{a, b}))
			Expect(tr.Results[0].Path).To(Equal([]string{uri.Root, uri.Resources, d}))
		})
	})

	Describe("glob and grep modes", func() {
		BeforeEach(func() {
			d := mkdir(uri.Resources, "docs")
			mkleaf(d, "a.md", "Alpha line\nsecond line", []float32{1, 0, 0, 0})
			mkleaf(d, "b.txt", "bravo", []float32{1, 0, 0, 0})
		})

		It("matches paths without vectors", func() {
			embedder.FailAll(true)
			tr, err := engine.Find(ctx, retrieve.Query{Text: "**/*.md", Scope: uri.Resources, Mode: retrieve.ModeGlob})
			Expect(err).NotTo(HaveOccurred())
			Expect(resultURIs(tr)).To(Equal([]string{"strata://resources/docs/a.md"}))
		})

		It("matches content lines", func() {
			tr, err := engine.Find(ctx, retrieve.Query{Text: "alpha", Mode: retrieve.ModeGrep, IgnoreCase: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(resultURIs(tr)).To(Equal([]string{"strata://resources/docs/a.md"}))
			Expect(tr.Results[0].Snippet).To(Equal("Alpha line"))
		})
	})

	It("fails for unknown scopes", func() {
		_, err := engine.Find(ctx, retrieve.Query{Text: "q", Scope: "strata://resources/missing"})
		Expect(errs.IsNotFound(err)).To(BeTrue())
	})

	It("rejects empty queries", func() {
		_, err := engine.Find(ctx, retrieve.Query{Text: "  "})
		Expect(errs.IsValidation(err)).To(BeTrue())
	})
})

var _ = Describe("ParseMode", func() {
	It("defaults to recursive", func() {
		m, err := retrieve.ParseMode("")
		Expect(err).NotTo(HaveOccurred())
		Expect(m).To(Equal(retrieve.ModeRecursive))
	})

	It("accepts every mode", func() {
		for _, name := range []string{"recursive", "flat", "glob", "GREP"} {
			_, err := retrieve.ParseMode(name)
			Expect(err).NotTo(HaveOccurred())
		}
	})

	It("rejects unknown modes", func() {
		_, err := retrieve.ParseMode("fuzzy")
		Expect(errs.IsValidation(err)).To(BeTrue())
	})
})
