package session_test

import (
	"context"
	"sync"

	"github.com/papercomputeco/strata/pkg/eventstream"
	"github.com/papercomputeco/strata/pkg/memory"
)

// scriptedExtractor returns script[i] on the i-th call, repeating the last
// entry once the script runs out.
type scriptedExtractor struct {
	mu     sync.Mutex
	script [][]memory.Candidate
	err    error
	calls  int
	turns  [][]memory.Turn

	// during runs before each extraction.
	during func()
}

func (e *scriptedExtractor) Extract(_ context.Context, turns []memory.Turn) ([]memory.Candidate, error) {
	if e.during != nil {
		e.during()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.turns = append(e.turns, turns)
	if e.err != nil {
		return nil, e.err
	}
	if len(e.script) == 0 {
		return nil, nil
	}
	i := min(e.calls-1, len(e.script)-1)
	return e.script[i], nil
}

func (e *scriptedExtractor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *scriptedExtractor) Close() error { return nil }

type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev *eventstream.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.EventType
	}
	return out
}

func (p *recordingPublisher) Close() error { return nil }
