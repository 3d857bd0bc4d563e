// Package vectortest holds the behavior every vector.VectorDriver must share.
package vectortest

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/vector"
)

// Dimensions of the fixture embeddings.
const Dimensions = 4

// DriverBehaves registers specs against the driver returned by newDriver,
// which must accept Dimensions-length embeddings.
func DriverBehaves(newDriver func() vector.VectorDriver) {
	var (
		d   vector.VectorDriver
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		d = newDriver()

		Expect(d.Upsert(ctx, []vector.Document{
			vector.NewDocument("strata://resources/guide/auth", vector.LevelL1, 0, "h1", []float32{1, 0, 0, 0}),
			vector.NewDocument("strata://resources/guide/auth", vector.LevelL0, 0, "h0", []float32{0.9, 0.1, 0, 0}),
			vector.NewDocument("strata://resources/guide", vector.LevelAggregate, 0, "", []float32{0.7, 0.7, 0, 0}),
			vector.NewDocument("strata://resources/other/db", vector.LevelL1, 0, "h2", []float32{0, 1, 0, 0}),
			vector.NewDocument("strata://user/u/memories/facts/x", vector.LevelL2, 2, "h3", []float32{0, 0, 1, 0}),
		})).To(Succeed())
	})

	AfterEach(func() {
		if d != nil {
			Expect(d.Close()).To(Succeed())
		}
	})

	It("ranks by cosine similarity", func() {
		results, err := d.Query(ctx, []float32{1, 0, 0, 0}, 3, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(3))
		Expect(results[0].Key).To(Equal("strata://resources/guide/auth#L1"))
		Expect(results[0].Score).To(BeNumerically("~", 1.0, 0.001))
		Expect(results[1].Key).To(Equal("strata://resources/guide/auth#L0"))
		Expect(results[0].Score).To(BeNumerically(">=", results[1].Score))
		Expect(results[1].Score).To(BeNumerically(">=", results[2].Score))
	})

	It("returns payload with results", func() {
		results, err := d.Query(ctx, []float32{0, 0, 1, 0}, 1, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].URI).To(Equal("strata://user/u/memories/facts/x"))
		Expect(results[0].Level).To(Equal(vector.LevelL2))
		Expect(results[0].Chunk).To(Equal(2))
		Expect(results[0].Hash).To(Equal("h3"))
	})

	It("filters by scope", func() {
		results, err := d.Query(ctx, []float32{0, 1, 0, 0}, 10, &vector.Filter{Scope: "strata://resources/guide"})
		Expect(err).NotTo(HaveOccurred())
		for _, r := range results {
			Expect(r.URI).To(HavePrefix("strata://resources/guide"))
		}
		Expect(results).To(HaveLen(3))
	})

	It("does not treat a sibling with a shared prefix as in scope", func() {
		Expect(d.Upsert(ctx, []vector.Document{
			vector.NewDocument("strata://resources/guidebook", vector.LevelL1, 0, "h", []float32{1, 0, 0, 0}),
		})).To(Succeed())

		results, err := d.Query(ctx, []float32{1, 0, 0, 0}, 10, &vector.Filter{Scope: "strata://resources/guide"})
		Expect(err).NotTo(HaveOccurred())
		for _, r := range results {
			Expect(r.URI).NotTo(Equal("strata://resources/guidebook"))
		}
	})

	It("filters by exact URIs and levels", func() {
		results, err := d.Query(ctx, []float32{1, 0, 0, 0}, 10, &vector.Filter{
			URIs:   []string{"strata://resources/guide/auth", "strata://resources/other/db"},
			Levels: []string{vector.LevelL1},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
		Expect(results[0].Key).To(Equal("strata://resources/guide/auth#L1"))
		Expect(results[1].Key).To(Equal("strata://resources/other/db#L1"))
	})

	It("replaces a document on upsert", func() {
		Expect(d.Upsert(ctx, []vector.Document{
			vector.NewDocument("strata://resources/other/db", vector.LevelL1, 0, "h9", []float32{1, 0, 0, 0}),
		})).To(Succeed())

		docs, err := d.Get(ctx, []string{"strata://resources/other/db#L1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(HaveLen(1))
		Expect(docs[0].Hash).To(Equal("h9"))
		Expect(docs[0].Embedding).To(HaveLen(Dimensions))
		Expect(docs[0].Embedding[0]).To(BeNumerically("~", 1.0, 0.001))
	})

	It("omits missing keys from Get", func() {
		docs, err := d.Get(ctx, []string{"strata://resources/guide/auth#L0", "strata://nope#L0"})
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(HaveLen(1))
		Expect(docs[0].URI).To(Equal("strata://resources/guide/auth"))
	})

	It("deletes by key", func() {
		Expect(d.Delete(ctx, []string{"strata://resources/guide/auth#L0", "strata://nope#L0"})).To(Succeed())

		docs, err := d.Get(ctx, []string{"strata://resources/guide/auth#L0", "strata://resources/guide/auth#L1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(HaveLen(1))
	})

	It("deletes every vector of a URI", func() {
		Expect(d.DeleteByURI(ctx, []string{"strata://resources/guide/auth"})).To(Succeed())

		docs, err := d.Get(ctx, []string{"strata://resources/guide/auth#L0", "strata://resources/guide/auth#L1", "strata://resources/guide#agg"})
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(HaveLen(1))
		Expect(docs[0].Level).To(Equal(vector.LevelAggregate))
	})
}
