package memory

import "errors"

// ErrNotConfigured is returned when consolidation is attempted but no
// extractor has been configured.
var ErrNotConfigured = errors.New("memory extraction not configured")
