// Package ratelimit caps concurrent calls to the embedding and language-model
// providers. Calls beyond the cap wait for a slot rather than fail.
package ratelimit

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/papercomputeco/strata/pkg/embeddings"
	"github.com/papercomputeco/strata/pkg/llm"
)

// DefaultConcurrency is used when a non-positive cap is configured.
const DefaultConcurrency = 4

// Limiter is a weighted semaphore shared by provider clients.
type Limiter struct {
	sem      *semaphore.Weighted
	cap      int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

// New creates a limiter admitting at most n concurrent calls.
func New(n int) *Limiter {
	if n <= 0 {
		n = DefaultConcurrency
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), cap: int64(n)}
}

// Do runs fn once a slot is free. It returns ctx.Err() if ctx ends first.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)

	cur := l.inFlight.Add(1)
	defer l.inFlight.Add(-1)
	for {
		peak := l.peak.Load()
		if cur <= peak || l.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	return fn(ctx)
}

// Cap is the configured concurrency cap.
func (l *Limiter) Cap() int {
	return int(l.cap)
}

// Peak is the highest concurrency observed so far.
func (l *Limiter) Peak() int {
	return int(l.peak.Load())
}

type embedder struct {
	next embeddings.Embedder
	lim  *Limiter
}

// Embedder wraps e so every Embed call goes through l.
func Embedder(e embeddings.Embedder, l *Limiter) embeddings.Embedder {
	return &embedder{next: e, lim: l}
}

func (e *embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.lim.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.next.Embed(ctx, text)
		return err
	})
	return out, err
}

func (e *embedder) Close() error {
	return e.next.Close()
}

type completer struct {
	next llm.Completer
	lim  *Limiter
}

// Completer wraps c so every Complete call goes through l.
func Completer(c llm.Completer, l *Limiter) llm.Completer {
	return &completer{next: c, lim: l}
}

func (c *completer) Complete(ctx context.Context, req llm.Request) (string, error) {
	var out string
	err := c.lim.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.next.Complete(ctx, req)
		return err
	})
	return out, err
}

func (c *completer) Close() error {
	return c.next.Close()
}
