package testutils

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/llm"
)

// MockCompleter is a scripted test language model. Respond, when set,
// answers every call; otherwise Script entries are returned in order and,
// once exhausted, the first words of the request text are echoed back.
type MockCompleter struct {
	mu       sync.Mutex
	Script   []string
	Respond  func(req llm.Request) (string, error)
	requests []llm.Request

	// FailContaining causes Complete to fail when the request text
	// contains it.
	FailContaining string

	// EchoWords bounds the echoed default response. Defaults to 40.
	EchoWords int

	fail  atomic.Bool
	calls atomic.Int64
}

func NewMockCompleter(script ...string) *MockCompleter {
	return &MockCompleter{Script: script}
}

// FailAll makes every subsequent call fail until reset with false.
func (m *MockCompleter) FailAll(fail bool) {
	m.fail.Store(fail)
}

// Calls is the number of Complete invocations so far.
func (m *MockCompleter) Calls() int {
	return int(m.calls.Load())
}

// Requests returns a copy of every request received.
func (m *MockCompleter) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

func (m *MockCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.calls.Add(1)

	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	respond := m.Respond
	var scripted string
	hasScript := len(m.Script) > 0
	if hasScript && respond == nil {
		scripted, m.Script = m.Script[0], m.Script[1:]
	}
	m.mu.Unlock()

	if m.fail.Load() || (m.FailContaining != "" && strings.Contains(req.Text(), m.FailContaining)) {
		return "", errs.Provider("mock", "complete", errors.New("mock completion failure"))
	}
	if respond != nil {
		return respond(req)
	}
	if hasScript {
		return scripted, nil
	}

	n := m.EchoWords
	if n <= 0 {
		n = 40
	}
	src := req.Context
	if src == "" {
		src = req.Prompt
	}
	words := strings.Fields(src)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " "), nil
}

func (m *MockCompleter) Close() error {
	return nil
}
