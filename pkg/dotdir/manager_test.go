package dotdir_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/dotdir"
)

var _ = Describe("dotdir", func() {
	var tmpDir string
	var m *dotdir.Manager

	BeforeEach(func() {
		var err error
		// Resolve symlinks so paths match filepath.Abs results
		// (e.g. on macOS /var -> /private/var).
		tmpDir, err = filepath.EvalSymlinks(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())

		m = dotdir.NewManager()
	})

	chdir := func(dir string) {
		orig, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(dir)).To(Succeed())
		DeferCleanup(func() { _ = os.Chdir(orig) })
	}

	Describe("Target", func() {
		It("creates the directory if it doesn't exist", func() {
			dir := filepath.Join(tmpDir, "newdir")
			result, err := m.Target(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(dir))

			info, err := os.Stat(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.IsDir()).To(BeTrue())
		})

		It("returns the override dir even when a local .strata dir exists", func() {
			Expect(os.Mkdir(filepath.Join(tmpDir, ".strata"), 0o755)).To(Succeed())
			chdir(tmpDir)

			overrideDir := filepath.Join(tmpDir, "override")
			result, err := m.Target(overrideDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(overrideDir))
		})

		It("returns the local .strata dir when it exists and no override is provided", func() {
			local := filepath.Join(tmpDir, ".strata")
			Expect(os.Mkdir(local, 0o755)).To(Succeed())
			chdir(tmpDir)

			result, err := m.Target("")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(local))
		})

		It("falls back to the home directory", func() {
			empty := filepath.Join(tmpDir, "empty")
			Expect(os.Mkdir(empty, 0o755)).To(Succeed())
			chdir(empty)
			GinkgoT().Setenv("HOME", tmpDir)

			result, err := m.Target("")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(filepath.Join(tmpDir, ".strata")))
		})
	})

	Describe("DataDir", func() {
		It("lives inside the target", func() {
			dir, err := m.DataDir(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(dir).To(Equal(filepath.Join(tmpDir, "data")))
			Expect(dir).To(BeADirectory())
		})
	})

	Describe("current session", func() {
		It("returns nil when none is set", func() {
			state, err := m.LoadCurrentSession(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})

		It("round-trips and clears", func() {
			in := &dotdir.CurrentSession{ID: "6f1c2a9e-6a4b-4c57-9a39-0d7e2b0f4d11", User: "alice"}
			Expect(m.SaveCurrentSession(in, tmpDir)).To(Succeed())

			out, err := m.LoadCurrentSession(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(in))

			Expect(m.ClearCurrentSession(tmpDir)).To(Succeed())
			Expect(m.ClearCurrentSession(tmpDir)).To(Succeed())
			out, err = m.LoadCurrentSession(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(BeNil())
		})

		It("rejects invalid files", func() {
			Expect(os.WriteFile(filepath.Join(tmpDir, "session.json"), []byte("not json"), 0o600)).To(Succeed())
			_, err := m.LoadCurrentSession(tmpDir)
			Expect(err).To(HaveOccurred())
		})

		It("refuses empty pointers", func() {
			Expect(m.SaveCurrentSession(&dotdir.CurrentSession{}, tmpDir)).NotTo(Succeed())
		})
	})
})
