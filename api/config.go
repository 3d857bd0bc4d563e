// Package api provides an HTTP API server over a strata context database.
package api

import "time"

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// WaitTimeout bounds requests that ask to wait for processing.
	// Zero means 5 minutes.
	WaitTimeout time.Duration

	// BodyLimit is the maximum request body size in bytes. Zero means 64 MiB.
	BodyLimit int
}

func (c Config) waitTimeout() time.Duration {
	if c.WaitTimeout <= 0 {
		return 5 * time.Minute
	}
	return c.WaitTimeout
}

func (c Config) bodyLimit() int {
	if c.BodyLimit <= 0 {
		return 64 << 20
	}
	return c.BodyLimit
}
