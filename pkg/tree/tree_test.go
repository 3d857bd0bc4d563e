package tree_test

import (
	"context"
	"slices"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/storage/inmemory"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
)

func uris(nodes []*tree.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.URI
	}
	return out
}

var _ = Describe("Tree", func() {
	var (
		ctx   context.Context
		blobs *inmemory.Driver
		t     *tree.Tree
	)

	mkdir := func(parent, name string) *tree.Node {
		n, err := t.Create(ctx, tree.CreateRequest{
			Parent: parent, Name: name, Kind: tree.KindDirectory,
			Provenance: tree.Provenance{Origin: tree.OriginResource},
		})
		Expect(err).NotTo(HaveOccurred())
		return n
	}

	mkleaf := func(parent, name, content string) *tree.Node {
		n, err := t.Create(ctx, tree.CreateRequest{
			Parent: parent, Name: name, Kind: tree.KindDocument,
			Provenance: tree.Provenance{Origin: tree.OriginResource, Source: "test"},
			Content:    []byte(content),
		})
		Expect(err).NotTo(HaveOccurred())
		return n
	}

	BeforeEach(func() {
		ctx = context.Background()
		blobs = inmemory.NewDriver()
		var err error
		t, err = tree.Open(ctx, blobs)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Open", func() {
		It("creates the root and the top-level spaces", func() {
			root, err := t.Resolve(uri.Root)
			Expect(err).NotTo(HaveOccurred())
			Expect(root.Children).To(Equal([]string{"agent", "resources", "session", "user"}))
			Expect(t.Count()).To(Equal(5))
		})

		It("rebuilds the tree from the blob store", func() {
			dir := mkdir(uri.Resources, "docs")
			mkleaf(dir.URI, "a.md", "alpha")

			reopened, err := tree.Open(ctx, blobs)
			Expect(err).NotTo(HaveOccurred())
			Expect(reopened.Count()).To(Equal(t.Count()))

			n, err := reopened.Resolve("strata://resources/docs/a.md")
			Expect(err).NotTo(HaveOccurred())
			Expect(n.Provenance.Source).To(Equal("test"))

			content, err := reopened.Content(ctx, n.URI)
			Expect(err).NotTo(HaveOccurred())
			Expect(content).To(Equal("alpha"))
		})
	})

	Describe("Create and Resolve", func() {
		It("round-trips a created node", func() {
			created := mkleaf(uri.Resources, "note.txt", "hello")

			resolved, err := t.Resolve(created.URI)
			Expect(err).NotTo(HaveOccurred())
			Expect(resolved).To(Equal(created))
			Expect(resolved.Detail.Status).To(Equal(tree.StatusReady))
			Expect(resolved.Abstract.Status).To(Equal(tree.StatusPending))
		})

		It("rejects duplicates with a conflict", func() {
			mkdir(uri.Resources, "x")
			_, err := t.Create(ctx, tree.CreateRequest{Parent: uri.Resources, Name: "x", Kind: tree.KindDirectory})
			Expect(errs.IsConflict(err)).To(BeTrue())
		})

		It("rejects a missing parent", func() {
			_, err := t.Create(ctx, tree.CreateRequest{Parent: "strata://resources/nope", Name: "x", Kind: tree.KindDirectory})
			Expect(errs.IsNotFound(err)).To(BeTrue())
		})

		It("rejects creating beneath a leaf", func() {
			leaf := mkleaf(uri.Resources, "leaf", "x")
			_, err := t.Create(ctx, tree.CreateRequest{Parent: leaf.URI, Name: "child", Kind: tree.KindDocument})
			Expect(errs.IsValidation(err)).To(BeTrue())
		})

		It("rejects malformed names and uris", func() {
			_, err := t.Create(ctx, tree.CreateRequest{Parent: uri.Resources, Name: "a/b", Kind: tree.KindDocument})
			Expect(errs.IsValidation(err)).To(BeTrue())

			_, err = t.Resolve("http://nope")
			Expect(errs.IsValidation(err)).To(BeTrue())
		})

		It("returns NotFound for unknown uris", func() {
			_, err := t.Resolve("strata://resources/missing")
			Expect(errs.IsNotFound(err)).To(BeTrue())
		})

		It("bumps the parent's version when a child is added", func() {
			before, _ := t.Resolve(uri.Resources)
			mkdir(uri.Resources, "d")
			after, _ := t.Resolve(uri.Resources)
			Expect(after.Version).To(BeNumerically(">", before.Version))
			Expect(after.Children).To(ContainElement("d"))
		})
	})

	Describe("Children", func() {
		BeforeEach(func() {
			d := mkdir(uri.Resources, "d")
			mkleaf(d.URI, "b", "b")
			sub := mkdir(d.URI, "a")
			mkleaf(sub.URI, "c", "c")
		})

		It("lists immediate children in name order", func() {
			nodes, err := t.List("strata://resources/d", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(uris(nodes)).To(Equal([]string{"strata://resources/d/a", "strata://resources/d/b"}))
		})

		It("walks recursively depth first", func() {
			nodes, err := t.List("strata://resources/d", true)
			Expect(err).NotTo(HaveOccurred())
			Expect(uris(nodes)).To(Equal([]string{
				"strata://resources/d/a",
				"strata://resources/d/a/c",
				"strata://resources/d/b",
			}))
		})

		It("is restartable and stops early", func() {
			seq, err := t.Children("strata://resources/d", true)
			Expect(err).NotTo(HaveOccurred())

			first := slices.Collect(seq)
			second := slices.Collect(seq)
			Expect(uris(second)).To(Equal(uris(first)))

			count := 0
			for range seq {
				count++
				break
			}
			Expect(count).To(Equal(1))
		})

		It("fails for unknown uris", func() {
			_, err := t.Children("strata://resources/zzz", false)
			Expect(errs.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("optimistic concurrency", func() {
		It("increments the version on every mutation", func() {
			n := mkleaf(uri.Resources, "v", "one")
			updated, err := t.WriteContent(ctx, n.URI, n.Version, []byte("two"))
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Version).To(Equal(n.Version + 1))

			again, err := t.Update(ctx, n.URI, updated.Version, func(n *tree.Node) error {
				n.Demoted = true
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Version).To(Equal(updated.Version + 1))
		})

		It("fails stale writes with Conflict", func() {
			n := mkleaf(uri.Resources, "v", "one")
			_, err := t.WriteContent(ctx, n.URI, n.Version, []byte("two"))
			Expect(err).NotTo(HaveOccurred())

			_, err = t.WriteContent(ctx, n.URI, n.Version, []byte("three"))
			var conflict errs.ConflictError
			Expect(err).To(BeAssignableToTypeOf(conflict))
			Expect(errs.IsConflict(err)).To(BeTrue())
		})

		It("lets concurrent writers converge with RetryOnConflict", func() {
			n := mkleaf(uri.Resources, "counter", "0")
			var wg sync.WaitGroup
			for range 8 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					err := tree.RetryOnConflict(ctx, 100, func() error {
						cur, err := t.Resolve(n.URI)
						if err != nil {
							return err
						}
						_, err = t.Update(ctx, n.URI, cur.Version, func(n *tree.Node) error {
							if n.Labels == nil {
								n.Labels = map[string]string{}
							}
							n.Labels["hits"] += "x"
							return nil
						})
						return err
					})
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			final, _ := t.Resolve(n.URI)
			Expect(final.Label("hits")).To(Equal("xxxxxxxx"))
			Expect(final.Version).To(Equal(n.Version + 8))
		})

		It("refuses content writes to read-only nodes", func() {
			n, err := t.Create(ctx, tree.CreateRequest{
				Parent: uri.Session, Name: "log", Kind: tree.KindDocument,
				Content: []byte("archived"), ReadOnly: true,
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = t.WriteContent(ctx, n.URI, n.Version, []byte("changed"))
			Expect(err).To(MatchError(errs.ErrReadOnly))
		})
	})

	Describe("tiers", func() {
		It("stores tier text by content hash", func() {
			n := mkleaf(uri.Resources, "t", "detail")
			n, err := t.WriteTier(ctx, n.URI, n.Version, tree.L1, "overview text", "k1")
			Expect(err).NotTo(HaveOccurred())
			Expect(n.Overview.Status).To(Equal(tree.StatusReady))
			Expect(n.Overview.InputKey).To(Equal("k1"))

			text, err := t.ReadTier(ctx, n, tree.L1)
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("overview text"))

			ok, _ := blobs.Has(ctx, tree.TierPath(n.Overview.Hash))
			Expect(ok).To(BeTrue())
		})

		It("keeps a directory tier out of ready while a child is pending", func() {
			d := mkdir(uri.Resources, "d")
			leaf := mkleaf(d.URI, "x", "content")
			d, _ = t.Resolve(d.URI)

			_, err := t.WriteTier(ctx, d.URI, d.Version, tree.L1, "dir overview", "k")
			Expect(errs.IsValidation(err)).To(BeTrue())
			Expect(t.Pending(d.URI)).To(BeTrue())

			_, err = t.WriteTier(ctx, leaf.URI, leaf.Version, tree.L0, "leaf abstract", "k0")
			Expect(err).NotTo(HaveOccurred())

			d, _ = t.Resolve(d.URI)
			_, err = t.WriteTier(ctx, d.URI, d.Version, tree.L1, "dir overview", "k")
			Expect(err).NotTo(HaveOccurred())
		})

		It("keeps previous tier text addressable after content changes", func() {
			n := mkleaf(uri.Resources, "t", "v1")
			n, _ = t.WriteTier(ctx, n.URI, n.Version, tree.L1, "old overview", "k1")
			n, err := t.WriteContent(ctx, n.URI, n.Version, []byte("v2"))
			Expect(err).NotTo(HaveOccurred())
			Expect(n.Overview.Status).To(Equal(tree.StatusPending))

			n, err = t.SetTierStatus(ctx, n.URI, n.Version, tree.L1, tree.StatusStale, errs.Provider("llm", "complete", context.DeadlineExceeded))
			Expect(err).NotTo(HaveOccurred())
			Expect(n.Overview.Attempts).To(Equal(1))
			Expect(n.Overview.LastError).To(ContainSubstring("llm complete"))

			text, err := t.ReadTier(ctx, n, tree.L1)
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("old overview"))
		})
	})

	Describe("dirty flags", func() {
		It("propagate to every ancestor and clear once", func() {
			d := mkdir(uri.Resources, "d")
			sub := mkdir(d.URI, "s")
			Expect(t.TakeDirtyTiers(d.URI)).To(BeTrue())
			Expect(t.TakeDirtyTiers(d.URI)).To(BeFalse())
			Expect(t.TakeDirtyVector(uri.Resources)).To(BeTrue())

			mkleaf(sub.URI, "leaf", "x")

			tiers, vec := t.Dirty(d.URI)
			Expect(tiers).To(BeTrue())
			Expect(vec).To(BeTrue())
			_, vec = t.Dirty(uri.Resources)
			Expect(vec).To(BeTrue())
		})

		It("tolerates concurrent setters", func() {
			d := mkdir(uri.Resources, "d")
			t.TakeDirtyTiers(d.URI)

			var wg sync.WaitGroup
			for range 16 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					t.MarkDirty(d.URI)
				}()
			}
			wg.Wait()

			Expect(t.TakeDirtyTiers(d.URI)).To(BeTrue())
			Expect(t.TakeDirtyTiers(d.URI)).To(BeFalse())
		})
	})

	Describe("Move", func() {
		It("re-addresses the whole subtree", func() {
			a := mkdir(uri.Resources, "a")
			b := mkdir(uri.Resources, "b")
			mkleaf(a.URI, "leaf", "x")

			res, err := t.Move(ctx, a.URI, b.URI, "", a.Version)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Node.URI).To(Equal("strata://resources/b/a"))
			Expect(res.Renamed).To(HaveKeyWithValue("strata://resources/a/leaf", "strata://resources/b/a/leaf"))

			_, err = t.Resolve("strata://resources/a")
			Expect(errs.IsNotFound(err)).To(BeTrue())
			leaf, err := t.Resolve("strata://resources/b/a/leaf")
			Expect(err).NotTo(HaveOccurred())
			Expect(leaf.Parent).To(Equal("strata://resources/b/a"))

			reopened, err := tree.Open(ctx, blobs)
			Expect(err).NotTo(HaveOccurred())
			Expect(reopened.Exists("strata://resources/b/a/leaf")).To(BeTrue())
			Expect(reopened.Exists("strata://resources/a")).To(BeFalse())
		})

		It("refuses to move a node beneath itself", func() {
			a := mkdir(uri.Resources, "a")
			sub := mkdir(a.URI, "s")
			_, err := t.Move(ctx, a.URI, sub.URI, "", a.Version)
			Expect(errs.IsValidation(err)).To(BeTrue())
		})
	})

	Describe("Delete", func() {
		It("cascades to descendants", func() {
			d := mkdir(uri.Resources, "d")
			sub := mkdir(d.URI, "s")
			mkleaf(sub.URI, "x", "x")
			d, _ = t.Resolve(d.URI)

			removed, err := t.Delete(ctx, d.URI, d.Version)
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(Equal([]string{
				"strata://resources/d/s/x",
				"strata://resources/d/s",
				"strata://resources/d",
			}))
			Expect(t.Exists(sub.URI)).To(BeFalse())

			parent, _ := t.Resolve(uri.Resources)
			Expect(parent.Children).NotTo(ContainElement("d"))

			paths, _ := blobs.List(ctx, "nodes/")
			Expect(paths).To(HaveLen(5))
		})

		It("protects the root and spaces", func() {
			r, _ := t.Resolve(uri.Resources)
			_, err := t.Delete(ctx, uri.Resources, r.Version)
			Expect(errs.IsValidation(err)).To(BeTrue())
		})
	})

	Describe("Glob", func() {
		BeforeEach(func() {
			docs := mkdir(uri.Resources, "docs")
			mkleaf(docs.URI, "a.md", "a")
			mkleaf(docs.URI, "b.txt", "b")
			guides := mkdir(docs.URI, "guides")
			mkleaf(guides.URI, "c.md", "c")
			deep := mkdir(guides.URI, "deep")
			mkleaf(deep.URI, "d.md", "d")
		})

		It("matches any depth with **", func() {
			nodes, err := t.Glob("**/*.md", "strata://resources/docs")
			Expect(err).NotTo(HaveOccurred())
			Expect(uris(nodes)).To(ConsistOf(
				"strata://resources/docs/a.md",
				"strata://resources/docs/guides/c.md",
				"strata://resources/docs/guides/deep/d.md",
			))
		})

		It("matches one segment with *", func() {
			nodes, err := t.Glob("*/*.md", "strata://resources/docs")
			Expect(err).NotTo(HaveOccurred())
			Expect(uris(nodes)).To(Equal([]string{"strata://resources/docs/guides/c.md"}))
		})

		It("never matches directories", func() {
			docs, err := t.Resolve("strata://resources/docs")
			Expect(err).NotTo(HaveOccurred())
			mkdir(docs.URI, "x.md")

			nodes, err := t.Glob("**/*.md", docs.URI)
			Expect(err).NotTo(HaveOccurred())
			Expect(uris(nodes)).NotTo(ContainElement("strata://resources/docs/x.md"))
			Expect(uris(nodes)).To(HaveLen(3))
		})

		It("rejects malformed patterns", func() {
			_, err := t.Glob("[", uri.Resources)
			Expect(errs.IsValidation(err)).To(BeTrue())
		})
	})

	Describe("Grep", func() {
		BeforeEach(func() {
			mkleaf(uri.Resources, "one", "first line\nthe Needle here\nlast")
			mkleaf(uri.Resources, "two", "no match\nneedle again")
		})

		It("performs literal matching", func() {
			matches, err := t.Grep(ctx, "Needle", uri.Resources, tree.GrepOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(Equal([]tree.GrepMatch{
				{URI: "strata://resources/one", Line: 2, Text: "the Needle here"},
			}))
		})

		It("supports case-insensitive regular expressions", func() {
			matches, err := t.Grep(ctx, "need+le", uri.Resources, tree.GrepOptions{Regex: true, IgnoreCase: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(2))
		})

		It("rejects malformed regular expressions", func() {
			_, err := t.Grep(ctx, "(", uri.Resources, tree.GrepOptions{Regex: true})
			Expect(errs.IsValidation(err)).To(BeTrue())
		})
	})

	Describe("EnsureDir", func() {
		It("creates missing intermediate directories", func() {
			n, err := t.EnsureDir(ctx, "strata://user/alice/memories/facts", tree.Provenance{Origin: tree.OriginSession})
			Expect(err).NotTo(HaveOccurred())
			Expect(n.IsDir()).To(BeTrue())
			Expect(t.Exists("strata://user/alice")).To(BeTrue())
		})
	})

	Describe("MarkReferenced", func() {
		It("records the first reference only", func() {
			n := mkleaf(uri.Resources, "r", "x")
			first := n.Provenance.CreatedAt.Add(1)
			Expect(t.MarkReferenced(ctx, first, n.URI)).To(Succeed())
			Expect(t.MarkReferenced(ctx, first.Add(100), n.URI)).To(Succeed())

			got, _ := t.Resolve(n.URI)
			Expect(got.ReferencedAt.Equal(first)).To(BeTrue())
			Expect(got.Version).To(Equal(n.Version))
		})
	})
})
