// Package storagetest holds the behavior every storage.Driver must share.
package storagetest

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/storage"
)

// DriverBehaves registers specs against the driver returned by newDriver.
// newDriver is called once per spec; its driver is closed afterwards.
func DriverBehaves(newDriver func() storage.Driver) {
	var (
		d   storage.Driver
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		d = newDriver()
	})

	AfterEach(func() {
		if d != nil {
			Expect(d.Close()).To(Succeed())
		}
	})

	It("round-trips a blob", func() {
		Expect(d.Put(ctx, "nodes/a.json", []byte(`{"a":1}`))).To(Succeed())

		got, err := d.Get(ctx, "nodes/a.json")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(got)).To(Equal(`{"a":1}`))
	})

	It("overwrites an existing blob", func() {
		Expect(d.Put(ctx, "tiers/x", []byte("one"))).To(Succeed())
		Expect(d.Put(ctx, "tiers/x", []byte("two"))).To(Succeed())

		got, err := d.Get(ctx, "tiers/x")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(got)).To(Equal("two"))
	})

	It("returns NotFoundError for a missing blob", func() {
		_, err := d.Get(ctx, "nodes/missing.json")
		Expect(err).To(HaveOccurred())
		Expect(storage.IsNotFound(err)).To(BeTrue())
	})

	It("reports existence", func() {
		ok, err := d.Has(ctx, "gen/k")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		Expect(d.Put(ctx, "gen/k", []byte("v"))).To(Succeed())
		ok, err = d.Has(ctx, "gen/k")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("lists by prefix in sorted order", func() {
		Expect(d.Put(ctx, "nodes/b.json", []byte("b"))).To(Succeed())
		Expect(d.Put(ctx, "nodes/a.json", []byte("a"))).To(Succeed())
		Expect(d.Put(ctx, "tiers/c", []byte("c"))).To(Succeed())

		paths, err := d.List(ctx, "nodes/")
		Expect(err).NotTo(HaveOccurred())
		Expect(paths).To(Equal([]string{"nodes/a.json", "nodes/b.json"}))

		all, err := d.List(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(3))
	})

	It("returns an empty list for an unknown prefix", func() {
		paths, err := d.List(ctx, "sessions/")
		Expect(err).NotTo(HaveOccurred())
		Expect(paths).To(BeEmpty())
	})

	It("deletes blobs and tolerates missing ones", func() {
		Expect(d.Put(ctx, "nodes/a.json", []byte("a"))).To(Succeed())
		Expect(d.Delete(ctx, "nodes/a.json")).To(Succeed())
		Expect(d.Delete(ctx, "nodes/a.json")).To(Succeed())

		_, err := d.Get(ctx, "nodes/a.json")
		Expect(storage.IsNotFound(err)).To(BeTrue())
	})

	It("rejects invalid paths on write", func() {
		Expect(d.Put(ctx, "", []byte("x"))).To(MatchError(storage.ErrInvalidPath))
		Expect(d.Put(ctx, "../escape", []byte("x"))).To(MatchError(storage.ErrInvalidPath))
		Expect(d.Put(ctx, "/abs", []byte("x"))).To(MatchError(storage.ErrInvalidPath))
	})

	It("stores empty blobs", func() {
		Expect(d.Put(ctx, "tiers/empty", []byte{})).To(Succeed())
		got, err := d.Get(ctx, "tiers/empty")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeEmpty())
	})
}
