package testutils

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/vector"
	"github.com/papercomputeco/strata/pkg/vector/inmemory"
)

// MockVectorDriver is an in-memory vector driver that counts calls and can
// be made to fail.
type MockVectorDriver struct {
	*inmemory.Driver

	upserts atomic.Int64
	queries atomic.Int64
	fail    atomic.Bool
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{Driver: inmemory.NewDriver()}
}

// FailAll makes every subsequent call fail until reset with false.
func (m *MockVectorDriver) FailAll(fail bool) {
	m.fail.Store(fail)
}

// Upserts is the number of documents upserted so far.
func (m *MockVectorDriver) Upserts() int {
	return int(m.upserts.Load())
}

// Queries is the number of Query invocations so far.
func (m *MockVectorDriver) Queries() int {
	return int(m.queries.Load())
}

func (m *MockVectorDriver) err(op string) error {
	if m.fail.Load() {
		return errs.Provider("mock-vector", op, errors.New("mock vector store failure"))
	}
	return nil
}

func (m *MockVectorDriver) Upsert(ctx context.Context, docs []vector.Document) error {
	if err := m.err("upsert"); err != nil {
		return err
	}
	m.upserts.Add(int64(len(docs)))
	return m.Driver.Upsert(ctx, docs)
}

func (m *MockVectorDriver) Query(ctx context.Context, emb []float32, topK int, f *vector.Filter) ([]vector.QueryResult, error) {
	m.queries.Add(1)
	if err := m.err("query"); err != nil {
		return nil, err
	}
	return m.Driver.Query(ctx, emb, topK, f)
}

func (m *MockVectorDriver) Get(ctx context.Context, keys []string) ([]vector.Document, error) {
	if err := m.err("get"); err != nil {
		return nil, err
	}
	return m.Driver.Get(ctx, keys)
}
