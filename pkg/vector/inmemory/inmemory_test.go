package inmemory_test

import (
	. "github.com/onsi/ginkgo/v2"

	"github.com/papercomputeco/strata/pkg/vector"
	"github.com/papercomputeco/strata/pkg/vector/inmemory"
	"github.com/papercomputeco/strata/pkg/vector/vectortest"
)

var _ = Describe("Driver", func() {
	vectortest.DriverBehaves(func() vector.VectorDriver { return inmemory.NewDriver() })
})
