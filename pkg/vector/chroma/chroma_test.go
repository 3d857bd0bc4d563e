package chroma_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/vector"
	"github.com/papercomputeco/strata/pkg/vector/chroma"
)

// fakeChroma records request bodies per operation and replies with canned
// responses.
type fakeChroma struct {
	mu       sync.Mutex
	bodies   map[string]map[string]any
	replies  map[string]any
	creation map[string]any
}

func newFakeChroma() *fakeChroma {
	return &fakeChroma{
		bodies:  map[string]map[string]any{},
		replies: map[string]any{},
	}
}

func (f *fakeChroma) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodGet {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	op := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	if op == "collections" {
		f.creation = body
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "cid", "name": "strata"})
		return
	}

	f.bodies[op] = body
	if reply, ok := f.replies[op]; ok {
		_ = json.NewEncoder(w).Encode(reply)
		return
	}
	_, _ = w.Write([]byte("{}"))
}

var _ = Describe("Driver", func() {
	var log *slog.Logger

	BeforeEach(func() {
		log = logger.Nop()
	})

	Describe("NewDriver", func() {
		It("should return an error when URL is empty", func() {
			_, err := chroma.NewDriver(chroma.Config{URL: ""}, log)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("chroma URL is required"))
		})

		It("should succeed after retrying when Chroma becomes available", func() {
			var attempts atomic.Int32

			// Each retry cycle issues a GET and a create POST; fail the
			// first two cycles.
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempt := attempts.Add(1)
				if attempt <= 4 {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}

				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]string{
					"id":   "test-collection-id",
					"name": "strata",
				})
			}))
			defer server.Close()

			driver, err := chroma.NewDriver(chroma.Config{
				URL:           server.URL,
				MaxRetries:    5,
				RetryDelay:    10 * time.Millisecond,
				MaxRetryDelay: 50 * time.Millisecond,
			}, log)
			Expect(err).NotTo(HaveOccurred())
			Expect(driver).NotTo(BeNil())
			Expect(attempts.Load()).To(BeNumerically(">=", int32(5)))
		})

		It("should return an error after exhausting all retries", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			}))
			defer server.Close()

			_, err := chroma.NewDriver(chroma.Config{
				URL:           server.URL,
				MaxRetries:    3,
				RetryDelay:    10 * time.Millisecond,
				MaxRetryDelay: 50 * time.Millisecond,
			}, log)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("after 3 attempts"))
		})

		It("creates the collection in cosine space", func() {
			fake := newFakeChroma()
			server := httptest.NewServer(fake)
			defer server.Close()

			_, err := chroma.NewDriver(chroma.Config{URL: server.URL}, log)
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.creation).To(HaveKeyWithValue("name", "strata"))
			Expect(fake.creation["metadata"]).To(HaveKeyWithValue("hnsw:space", "cosine"))
		})
	})

	Describe("Interface compliance", func() {
		It("should implement vector.VectorDriver", func() {
			var _ vector.VectorDriver = (*chroma.Driver)(nil)
		})
	})

	Describe("operations", func() {
		var (
			fake   *fakeChroma
			server *httptest.Server
			driver *chroma.Driver
			ctx    context.Context
		)

		BeforeEach(func() {
			ctx = context.Background()
			fake = newFakeChroma()
			server = httptest.NewServer(fake)

			var err error
			driver, err = chroma.NewDriver(chroma.Config{URL: server.URL}, log)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			server.Close()
		})

		It("flattens ancestors into metadata on upsert", func() {
			doc := vector.NewDocument("strata://resources/guide/auth", vector.LevelL1, 0, "h1", []float32{1, 0})
			Expect(driver.Upsert(ctx, []vector.Document{doc})).To(Succeed())

			body := fake.bodies["upsert"]
			Expect(body["ids"]).To(ConsistOf("strata://resources/guide/auth#L1"))
			md := body["metadatas"].([]any)[0].(map[string]any)
			Expect(md).To(HaveKeyWithValue("uri", "strata://resources/guide/auth"))
			Expect(md).To(HaveKeyWithValue("level", "L1"))
			Expect(md).To(HaveKeyWithValue("anc:strata://resources/guide", true))
			Expect(md).To(HaveKeyWithValue("anc:strata://", true))
		})

		It("translates a scope filter into a where clause", func() {
			_, err := driver.Query(ctx, []float32{1, 0}, 3, &vector.Filter{
				Scope:  "strata://resources/guide",
				Levels: []string{vector.LevelL0, vector.LevelL1},
			})
			Expect(err).NotTo(HaveOccurred())

			where := fake.bodies["query"]["where"].(map[string]any)
			and := where["$and"].([]any)
			Expect(and).To(HaveLen(2))
			Expect(and[0]).To(HaveKey("level"))
			Expect(and[1]).To(HaveKey("$or"))
		})

		It("omits the where clause without a filter", func() {
			_, err := driver.Query(ctx, []float32{1, 0}, 3, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.bodies["query"]).NotTo(HaveKey("where"))
		})

		It("converts cosine distances to similarity scores", func() {
			fake.replies["query"] = map[string]any{
				"ids":       [][]string{{"strata://resources/a#L1", "strata://resources/b#L2/3"}},
				"distances": [][]float32{{0.1, 0.6}},
				"metadatas": [][]map[string]any{{
					{"uri": "strata://resources/a", "level": "L1", "hash": "ha", "anc:strata://resources": true, "anc:strata://": true},
					{"uri": "strata://resources/b", "level": "L2", "chunk": 3, "hash": "hb"},
				}},
			}

			results, err := driver.Query(ctx, []float32{1, 0}, 2, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].Score).To(BeNumerically("~", 0.9, 1e-6))
			Expect(results[0].Ancestors).To(Equal([]string{"strata://", "strata://resources"}))
			Expect(results[1].Chunk).To(Equal(3))
			Expect(results[1].Hash).To(Equal("hb"))
		})

		It("deletes by uri with a metadata filter", func() {
			Expect(driver.DeleteByURI(ctx, []string{"strata://resources/a"})).To(Succeed())
			Expect(fake.bodies["delete"]).To(HaveKey("where"))
			Expect(fake.bodies["delete"]).NotTo(HaveKey("ids"))
		})
	})
})
