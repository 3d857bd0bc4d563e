package contextdb

import (
	"errors"

	"github.com/papercomputeco/strata/pkg/errs"
)

var (
	// ErrClosed is returned by operations on a closed DB.
	ErrClosed = errs.ErrClosed

	// ErrNotReady is returned when a requested tier has not been generated yet.
	ErrNotReady = errors.New("tier not ready")
)
