package tree

import (
	"context"
	"time"

	"github.com/papercomputeco/strata/pkg/errs"
)

// RetryOnConflict runs fn until it returns something other than a
// ConflictError, up to attempts times. fn must re-read the node it writes.
func RetryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := range attempts {
		if err = fn(); err == nil || !errs.IsConflict(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * time.Millisecond):
		}
	}

	return err
}
