package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/contextdb"
	"github.com/papercomputeco/strata/pkg/ingest"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/memory/local"
	"github.com/papercomputeco/strata/pkg/retrieve"
	"github.com/papercomputeco/strata/pkg/session"
	"github.com/papercomputeco/strata/pkg/skill"
	"github.com/papercomputeco/strata/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/strata/pkg/utils/test"
)

const apiTestDoc = `# Doc

## Alpha

Alpha covers authentication tokens.

## Beta

Beta covers database migrations.
`

func newTestDB(ctx context.Context) *contextdb.DB {
	db, err := contextdb.New(ctx, contextdb.Options{
		Blobs:     inmemory.NewDriver(),
		Vectors:   testutils.NewMockVectorDriver(),
		Embedder:  testutils.NewMockEmbedder(),
		Completer: testutils.NewMockCompleter(),
		Extractor: local.NewExtractor(local.Config{Enabled: true}),
		Config: contextdb.Config{
			Ingest: ingest.Config{
				TierWorkers:    2,
				MaxRetries:     1,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     time.Millisecond,
			},
			Retrieve: retrieve.Config{Threshold: 0.1},
		},
	})
	Expect(err).NotTo(HaveOccurred())
	return db
}

var _ = Describe("Server", func() {
	var (
		ctx    context.Context
		db     *contextdb.DB
		server *Server
	)

	do := func(method, target string, body any) *http.Response {
		var r io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			r = bytes.NewReader(b)
		}
		req := httptest.NewRequest(method, target, r)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := server.app.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	addDoc := func() string {
		resp := do(http.MethodPost, "/v1/resources", AddResourceRequest{
			Data: apiTestDoc,
			Name: "doc.md",
			Wait: true,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var out URIResponse
		decode(resp, &out)
		return out.URI
	}

	BeforeEach(func() {
		ctx = context.Background()
		db = newTestDB(ctx)
		DeferCleanup(db.Close)
		server = NewServer(Config{ListenAddr: ":0"}, db, nil, logger.Nop())
	})

	It("answers ping", func() {
		resp := do(http.MethodGet, "/ping", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var out string
		decode(resp, &out)
		Expect(out).To(Equal("pong"))
	})

	Describe("resources", func() {
		It("adds a resource and lists its sections", func() {
			root := addDoc()
			Expect(root).To(Equal("strata://resources/doc.md"))

			resp := do(http.MethodGet, "/v1/fs/ls?uri="+url.QueryEscape(root), nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var entries []contextdb.Entry
			decode(resp, &entries)
			Expect(entries).To(HaveLen(2))
		})

		It("accepts without waiting", func() {
			resp := do(http.MethodPost, "/v1/resources", AddResourceRequest{Data: apiTestDoc, Name: "later.md"})
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			resp = do(http.MethodPost, "/v1/resources/wait", WaitRequest{Scope: "strata://resources/later.md", Timeout: "10s"})
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		})

		It("rejects a request without a source", func() {
			resp := do(http.MethodPost, "/v1/resources", AddResourceRequest{Name: "empty.md"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("reports status", func() {
			root := addDoc()
			resp := do(http.MethodGet, "/v1/status?uri="+url.QueryEscape(root), nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var st ingest.Status
			decode(resp, &st)
			Expect(st.URI).To(Equal(root))
			Expect(st.Pending).To(BeZero())
		})
	})

	Describe("fs", func() {
		It("reads a leaf at every level", func() {
			root := addDoc()
			leaf := root + "/beta"

			resp := do(http.MethodGet, "/v1/fs/read?level=detail&uri="+url.QueryEscape(leaf), nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var out ReadResponse
			decode(resp, &out)
			Expect(out.Content).To(ContainSubstring("database migrations"))

			resp = do(http.MethodGet, "/v1/fs/read?level=abstract&uri="+url.QueryEscape(leaf), nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("maps missing nodes to 404", func() {
			resp := do(http.MethodGet, "/v1/fs/read?uri="+url.QueryEscape("strata://resources/nope"), nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			var out ErrorResponse
			decode(resp, &out)
			Expect(out.Error).NotTo(BeEmpty())
		})

		It("rejects unknown levels", func() {
			resp := do(http.MethodGet, "/v1/fs/read?level=L9&uri="+url.QueryEscape("strata://resources"), nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("globs and greps", func() {
			addDoc()

			resp := do(http.MethodGet, "/v1/fs/glob?pattern="+url.QueryEscape("**/*.md/*"), nil)
			var matches []string
			decode(resp, &matches)
			Expect(matches).To(ConsistOf("strata://resources/doc.md/alpha", "strata://resources/doc.md/beta"))

			resp = do(http.MethodGet, "/v1/fs/grep?ignore_case=true&pattern=MIGRATIONS", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var hits []map[string]any
			decode(resp, &hits)
			Expect(hits).To(ContainElement(HaveKeyWithValue("uri", "strata://resources/doc.md/beta")))
		})

		It("makes directories, moves and removes", func() {
			root := addDoc()

			resp := do(http.MethodPost, "/v1/fs/mkdir", URIResponse{URI: "strata://resources/archive"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			resp = do(http.MethodPost, "/v1/fs/move", MoveRequest{Source: root, DstParent: "strata://resources/archive"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var moved URIResponse
			decode(resp, &moved)
			Expect(moved.URI).To(Equal("strata://resources/archive/doc.md"))

			resp = do(http.MethodDelete, "/v1/fs?uri="+url.QueryEscape(moved.URI), nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp = do(http.MethodGet, "/v1/fs/ls?uri="+url.QueryEscape(moved.URI), nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("renders a depth limited tree", func() {
			addDoc()
			resp := do(http.MethodGet, "/v1/fs/tree?depth=1&uri="+url.QueryEscape("strata://resources"), nil)
			var entries []contextdb.Entry
			decode(resp, &entries)
			for _, e := range entries {
				Expect(e.Depth).To(BeNumerically("<=", 1))
			}
		})
	})

	Describe("retrieval", func() {
		It("finds with a trajectory", func() {
			addDoc()
			resp := do(http.MethodPost, "/v1/find", QueryRequest{Query: "database migrations"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var traj retrieve.Trajectory
			decode(resp, &traj)
			Expect(traj.Query).To(Equal("database migrations"))
			Expect(traj.Steps).NotTo(BeEmpty())
		})

		It("requires a query", func() {
			resp := do(http.MethodPost, "/v1/search", QueryRequest{})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("sessions", func() {
		It("runs a session through commit", func() {
			resp := do(http.MethodPost, "/v1/sessions", NewSessionRequest{User: "alice", Agent: "coder"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var sess session.Session
			decode(resp, &sess)
			Expect(sess.Status).To(Equal(session.StatusOpen))

			resp = do(http.MethodPost, "/v1/sessions/"+sess.ID+"/messages", AddMessageRequest{
				Role: "user",
				Text: "I prefer tabs over spaces in Go code",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			resp = do(http.MethodPost, "/v1/sessions/"+sess.ID+"/extract", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp = do(http.MethodPost, "/v1/sessions/"+sess.ID+"/commit", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var res session.CommitResult
			decode(resp, &res)
			Expect(res.Status).To(Equal(session.StatusArchived))
			Expect(res.MemoryURIs).NotTo(BeEmpty())

			resp = do(http.MethodGet, "/v1/sessions/"+sess.ID, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("returns 404 for unknown sessions", func() {
			resp := do(http.MethodGet, "/v1/sessions/"+uuid.NewString(), nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

			resp = do(http.MethodGet, "/v1/sessions/not-a-uuid", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects an invalid role", func() {
			resp := do(http.MethodPost, "/v1/sessions", NewSessionRequest{User: "alice"})
			var sess session.Session
			decode(resp, &sess)

			resp = do(http.MethodPost, "/v1/sessions/"+sess.ID+"/messages", AddMessageRequest{Role: "robot", Text: "hi"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("packs", func() {
		It("exports and imports a subtree", func() {
			root := addDoc()

			resp := do(http.MethodGet, "/v1/export?uri="+url.QueryEscape(root), nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/zip"))
			archive, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())

			resp = do(http.MethodPost, "/v1/fs/mkdir", URIResponse{URI: "strata://resources/copy"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			req := httptest.NewRequest(http.MethodPost, "/v1/import?parent="+url.QueryEscape("strata://resources/copy"), bytes.NewReader(archive))
			req.Header.Set("Content-Type", "application/zip")
			resp, err = server.app.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var out URIResponse
			decode(resp, &out)
			Expect(out.URI).To(Equal("strata://resources/copy/doc.md"))
		})
	})

	Describe("skills", func() {
		It("adds and lists skills", func() {
			resp := do(http.MethodPost, "/v1/skills", AddSkillRequest{
				Agent:   "coder",
				Name:    "review",
				Content: "Read the diff.",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var out URIResponse
			decode(resp, &out)
			Expect(out.URI).To(Equal("strata://agent/coder/skills/review"))

			resp = do(http.MethodPost, "/v1/skills", AddSkillRequest{
				Agent:    "coder",
				Markdown: "---\nname: review\n---\nRead it twice.\n",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))

			resp = do(http.MethodGet, "/v1/skills?agent=coder", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var skills []skill.Skill
			decode(resp, &skills)
			Expect(skills).To(HaveLen(1))
			Expect(skills[0].Content).To(Equal("Read the diff."))
		})

		It("validates skills", func() {
			resp := do(http.MethodPost, "/v1/skills", AddSkillRequest{Name: "empty"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			resp = do(http.MethodPost, "/v1/skills/generate", GenerateSkillRequest{Sessions: []string{uuid.NewString()}})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			resp = do(http.MethodPost, "/v1/skills/generate", GenerateSkillRequest{Name: "x", Sessions: []string{uuid.NewString()}})
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	It("runs decay on demand", func() {
		resp := do(http.MethodPost, "/v1/decay", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var report session.DecayReport
		decode(resp, &report)
		Expect(report.Affected).To(BeEmpty())
	})

	It("mounts an MCP handler", func() {
		mounted := NewServer(Config{}, db, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}), logger.Nop())
		resp, err := mounted.app.Test(httptest.NewRequest(http.MethodPost, "/mcp", nil), -1)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusTeapot))
	})
})
