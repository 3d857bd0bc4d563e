package sqlitevec_test

import (
	"context"
	"log/slog"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/vector"
	"github.com/papercomputeco/strata/pkg/vector/sqlitevec"
	"github.com/papercomputeco/strata/pkg/vector/vectortest"
)

var _ = Describe("Driver", func() {
	var log *slog.Logger

	BeforeEach(func() {
		log = logger.Nop()
	})

	Describe("NewDriver", func() {
		It("should return an error when DBPath is empty", func() {
			_, err := sqlitevec.NewDriver(sqlitevec.Config{DBPath: ""}, log)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("database path is required"))
		})

		It("should error when dimension not specified", func() {
			_, err := sqlitevec.NewDriver(sqlitevec.Config{DBPath: ":memory:"}, log)
			Expect(err).To(HaveOccurred())
		})

		It("should implement vector.VectorDriver", func() {
			var _ vector.VectorDriver = (*sqlitevec.Driver)(nil)
		})
	})

	Describe("conformance", func() {
		vectortest.DriverBehaves(func() vector.VectorDriver {
			d, err := sqlitevec.NewDriver(sqlitevec.Config{
				DBPath:     ":memory:",
				Dimensions: vectortest.Dimensions,
			}, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			return d
		})
	})

	It("rejects embeddings of the wrong length", func() {
		d, err := sqlitevec.NewDriver(sqlitevec.Config{DBPath: ":memory:", Dimensions: 4}, log)
		Expect(err).NotTo(HaveOccurred())
		defer d.Close()

		err = d.Upsert(context.Background(), []vector.Document{
			vector.NewDocument("strata://resources/a", vector.LevelL1, 0, "h", []float32{1, 0}),
		})
		Expect(err).To(MatchError(vector.ErrDimensions))
	})

	It("persists documents across reopen", func() {
		ctx := context.Background()
		path := filepath.Join(GinkgoT().TempDir(), "vec.db")

		d, err := sqlitevec.NewDriver(sqlitevec.Config{DBPath: path, Dimensions: 4}, log)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Upsert(ctx, []vector.Document{
			vector.NewDocument("strata://resources/a", vector.LevelL0, 0, "h", []float32{0, 0, 0, 1}),
		})).To(Succeed())
		Expect(d.Close()).To(Succeed())

		d, err = sqlitevec.NewDriver(sqlitevec.Config{DBPath: path, Dimensions: 4}, log)
		Expect(err).NotTo(HaveOccurred())
		defer d.Close()

		results, err := d.Query(ctx, []float32{0, 0, 0, 1}, 1, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Ancestors).To(Equal([]string{"strata://", "strata://resources"}))
	})
})
