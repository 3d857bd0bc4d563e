package kafka

import (
	"log/slog"
	"time"
)

// NewWithWriter exposes the writer seam to tests.
func NewWithWriter(w messageWriter, timeout time.Duration, log *slog.Logger) *Publisher {
	return newPublisher(w, timeout, log)
}
