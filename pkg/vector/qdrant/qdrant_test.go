package qdrant

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/vector"
	"github.com/papercomputeco/strata/pkg/vector/vectortest"
)

var _ vector.VectorDriver = (*Driver)(nil)

var _ = Describe("ParseTarget", func() {
	It("parses host and port", func() {
		host, port, tls, err := ParseTarget("localhost:6334")
		Expect(err).NotTo(HaveOccurred())
		Expect(host).To(Equal("localhost"))
		Expect(port).To(Equal(6334))
		Expect(tls).To(BeFalse())
	})

	It("defaults the port and honors https", func() {
		host, port, tls, err := ParseTarget("https://qdrant.example")
		Expect(err).NotTo(HaveOccurred())
		Expect(host).To(Equal("qdrant.example"))
		Expect(port).To(Equal(DefaultPort))
		Expect(tls).To(BeTrue())
	})

	It("rejects a non-numeric port", func() {
		_, _, _, err := ParseTarget("localhost:grpc")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("PointID", func() {
	It("is stable per key and distinct across keys", func() {
		Expect(PointID("strata://a#L0")).To(Equal(PointID("strata://a#L0")))
		Expect(PointID("strata://a#L0")).NotTo(Equal(PointID("strata://a#L1")))
	})
})

var _ = Describe("BuildFilter", func() {
	It("returns nil for an empty filter", func() {
		Expect(BuildFilter(nil)).To(BeNil())
		Expect(BuildFilter(&vector.Filter{Scope: "strata://"})).To(BeNil())
	})

	It("nests the scope as a should clause", func() {
		f := BuildFilter(&vector.Filter{Scope: "strata://resources/a", Levels: []string{"L1"}})
		Expect(f.GetMust()).To(HaveLen(2))
		Expect(f.GetMust()[0].GetField().GetKey()).To(Equal(fieldLevel))

		scope := f.GetMust()[1].GetFilter()
		Expect(scope.GetShould()).To(HaveLen(2))
		Expect(scope.GetShould()[1].GetField().GetKey()).To(Equal(fieldAncestors))
		Expect(scope.GetShould()[1].GetField().GetMatch().GetKeyword()).To(Equal("strata://resources/a"))
	})
})

var _ = Describe("payload", func() {
	It("round-trips document fields", func() {
		doc := vector.NewDocument("strata://resources/a/b", vector.LevelL2, 4, "h", nil)
		got := documentFrom(payloadFor(doc), nil)
		Expect(got).To(Equal(doc))
	})
})

var _ = Describe("Driver", func() {
	target := os.Getenv("STRATA_TEST_QDRANT")
	if target == "" {
		It("requires STRATA_TEST_QDRANT", func() {
			Skip("set STRATA_TEST_QDRANT to run against a live Qdrant")
		})
		return
	}

	vectortest.DriverBehaves(func() vector.VectorDriver {
		d, err := NewDriver(context.Background(), Config{
			Target:         target,
			CollectionName: "strata_test_" + PointID(CurrentSpecReport().FullText())[:8],
			Dimensions:     vectortest.Dimensions,
		}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		return d
	})
})
