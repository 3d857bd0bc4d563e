package testutils

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/vector"
)

// MockDimensions is the length of MockEmbedder's hashed embeddings.
const MockDimensions = 64

// MockEmbedder is a deterministic test embedder. Texts present in
// Embeddings return that vector; any other text gets a normalized hashed
// bag-of-words vector, so texts sharing words score as similar.
type MockEmbedder struct {
	mu         sync.RWMutex
	Embeddings map[string][]float32

	// FailOn causes Embed to fail when the input text matches exactly.
	FailOn string

	// FailContaining causes Embed to fail when the input contains it.
	FailContaining string

	fail  atomic.Bool
	calls atomic.Int64
}

func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{
		Embeddings: make(map[string][]float32),
	}
}

// Set registers a fixed embedding for text.
func (m *MockEmbedder) Set(text string, emb []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Embeddings[text] = emb
}

// FailAll makes every subsequent call fail until reset with false.
func (m *MockEmbedder) FailAll(fail bool) {
	m.fail.Store(fail)
}

// Calls is the number of Embed invocations so far.
func (m *MockEmbedder) Calls() int {
	return int(m.calls.Load())
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.fail.Load() ||
		(m.FailOn != "" && text == m.FailOn) ||
		(m.FailContaining != "" && strings.Contains(text, m.FailContaining)) {
		return nil, errs.Provider("mock", "embed", fmt.Errorf("mock embedding failure for: %.40s", text))
	}

	m.mu.RLock()
	emb, ok := m.Embeddings[text]
	m.mu.RUnlock()
	if ok {
		return emb, nil
	}

	return BagOfWords(text), nil
}

func (m *MockEmbedder) Close() error {
	return nil
}

// BagOfWords hashes the lowercase words of text into a normalized
// MockDimensions-length vector.
func BagOfWords(text string) []float32 {
	v := make([]float32, MockDimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%MockDimensions]++
	}
	return vector.Normalize(v)
}
