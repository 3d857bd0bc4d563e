package errs_test

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/errs"
)

var _ = Describe("Errs", func() {
	It("classifies wrapped errors", func() {
		nf := fmt.Errorf("resolving: %w", errs.NotFoundError{URI: "strata://x"})
		Expect(errs.IsNotFound(nf)).To(BeTrue())
		Expect(errs.IsConflict(nf)).To(BeFalse())
		Expect(nf.Error()).To(ContainSubstring("strata://x"))

		conflict := fmt.Errorf("update: %w", errs.ConflictError{URI: "strata://x", Expected: 1, Actual: 2})
		Expect(errs.IsConflict(conflict)).To(BeTrue())

		Expect(errs.IsValidation(errs.Invalid("glob", "[", "bad"))).To(BeTrue())
		Expect(errs.IsTimeout(fmt.Errorf("wait: %w", errs.ErrTimeout))).To(BeTrue())
		Expect(errs.IsCapacity(fmt.Errorf("enqueue: %w", errs.ErrCapacity))).To(BeTrue())
	})

	It("unwraps provider errors", func() {
		cause := errors.New("boom")
		err := fmt.Errorf("embedding: %w", errs.Provider("ollama", "embed", cause))
		Expect(errs.IsProvider(err)).To(BeTrue())
		Expect(errors.Is(err, cause)).To(BeTrue())
		Expect(errs.Provider("ollama", "embed", nil)).To(BeNil())
	})
})
