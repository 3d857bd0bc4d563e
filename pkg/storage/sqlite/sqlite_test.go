package sqlite_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/storage"
	"github.com/papercomputeco/strata/pkg/storage/sqlite"
	"github.com/papercomputeco/strata/pkg/storage/storagetest"
)

var _ = Describe("Driver", func() {
	for _, name := range []string{sqlite.DriverPure, sqlite.DriverCGO} {
		Context("with the "+name+" driver", func() {
			storagetest.DriverBehaves(func() storage.Driver {
				d, err := sqlite.NewDriver(context.Background(), sqlite.Config{
					DBPath:    ":memory:",
					SQLDriver: name,
				})
				Expect(err).NotTo(HaveOccurred())
				return d
			})
		})
	}

	It("creates a file database", func() {
		dbPath := filepath.Join(GinkgoT().TempDir(), "test.db")

		d, err := sqlite.NewDriver(context.Background(), sqlite.Config{DBPath: dbPath})
		Expect(err).NotTo(HaveOccurred())
		defer d.Close()

		_, err = os.Stat(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects unknown sql drivers", func() {
		_, err := sqlite.NewDriver(context.Background(), sqlite.Config{DBPath: ":memory:", SQLDriver: "oracle"})
		Expect(err).To(MatchError(ContainSubstring("unsupported sqlite driver")))
	})

	It("requires a path", func() {
		_, err := sqlite.NewDriver(context.Background(), sqlite.Config{})
		Expect(err).To(HaveOccurred())
	})
})
