package mcp_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/api/mcp"
	"github.com/papercomputeco/strata/pkg/contextdb"
	"github.com/papercomputeco/strata/pkg/ingest"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/memory/local"
	"github.com/papercomputeco/strata/pkg/retrieve"
	"github.com/papercomputeco/strata/pkg/skill"
	"github.com/papercomputeco/strata/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/strata/pkg/utils/test"
)

const mcpTestDoc = `# Runbook

## Deploys

Deploys go through the blue green pipeline.

## Rollbacks

Rollbacks restore the previous release tag.
`

var _ = Describe("MCP Server", func() {
	var (
		ctx context.Context
		db  *contextdb.DB
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		db, err = contextdb.New(ctx, contextdb.Options{
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
		DeferCleanup(db.Close)
	})

	Describe("NewServer", func() {
		It("returns an error when the database is nil", func() {
			_, err := mcp.NewServer(mcp.Config{Logger: logger.Nop()})
			Expect(err).To(MatchError(ContainSubstring("context database is required")))
		})

		It("returns an error when logger is nil", func() {
			_, err := mcp.NewServer(mcp.Config{DB: db})
			Expect(err).To(MatchError(ContainSubstring("logger is required")))
		})

		It("allows a noop server without collaborators", func() {
			server, err := mcp.NewServer(mcp.Config{Noop: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Handler()).NotTo(BeNil())
		})
	})

	Describe("tools", func() {
		var session *mcpsdk.ClientSession

		connect := func(cfg mcp.Config) {
			server, err := mcp.NewServer(cfg)
			Expect(err).NotTo(HaveOccurred())
			ts := httptest.NewServer(server.Handler())
			DeferCleanup(ts.Close)

			client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
			session, err = client.Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: ts.URL}, nil)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(session.Close)
		}

		call := func(name string, args map[string]any, out any) *mcpsdk.CallToolResult {
			res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Content).NotTo(BeEmpty())
			if out != nil && !res.IsError {
				text, ok := res.Content[0].(*mcpsdk.TextContent)
				Expect(ok).To(BeTrue())
				Expect(json.Unmarshal([]byte(text.Text), out)).To(Succeed())
			}
			return res
		}

		toolNames := func() []string {
			res, err := session.ListTools(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			names := make([]string, 0, len(res.Tools))
			for _, t := range res.Tools {
				names = append(names, t.Name)
			}
			return names
		}

		It("registers every tool", func() {
			connect(mcp.Config{DB: db, Logger: logger.Nop()})
			Expect(toolNames()).To(ConsistOf(
				"find", "search", "read", "ls", "glob", "grep", "skills",
				"add_resource", "session_add_message", "session_commit",
			))
		})

		It("hides write tools when read only", func() {
			connect(mcp.Config{DB: db, ReadOnly: true, Logger: logger.Nop()})
			Expect(toolNames()).NotTo(ContainElement("add_resource"))
			Expect(toolNames()).To(ContainElement("find"))
		})

		It("adds, finds and reads a resource", func() {
			connect(mcp.Config{DB: db, Logger: logger.Nop()})

			var added mcp.URIOutput
			res := call("add_resource", map[string]any{"content": mcpTestDoc, "name": "runbook.md", "wait": true}, &added)
			Expect(res.IsError).To(BeFalse())
			Expect(added.URI).To(Equal("strata://resources/runbook.md"))

			var found mcp.QueryOutput
			res = call("find", map[string]any{"query": "rollbacks restore the previous release"}, &found)
			Expect(res.IsError).To(BeFalse())
			Expect(found.Results).To(ContainElement(HaveField("URI", "strata://resources/runbook.md/rollbacks")))

			var read mcp.ReadOutput
			res = call("read", map[string]any{"uri": "strata://resources/runbook.md/deploys"}, &read)
			Expect(res.IsError).To(BeFalse())
			Expect(read.Content).To(ContainSubstring("blue green"))

			var listed mcp.LsOutput
			call("ls", map[string]any{"uri": added.URI}, &listed)
			Expect(listed.Count).To(Equal(2))

			var globbed mcp.GlobOutput
			call("glob", map[string]any{"pattern": "**/*.md/*"}, &globbed)
			Expect(globbed.Matches).To(ConsistOf(added.URI+"/deploys", added.URI+"/rollbacks"))

			var grepped mcp.GrepOutput
			call("grep", map[string]any{"pattern": "release tag"}, &grepped)
			Expect(grepped.Count).To(Equal(1))
		})

		It("lists an agent's skills", func() {
			_, err := db.AddSkill(ctx, "coder", &skill.Skill{
				Name:        "review",
				Description: "Use when reviewing a change",
				Content:     "Read the diff.",
			}, false)
			Expect(err).NotTo(HaveOccurred())
			connect(mcp.Config{DB: db, ReadOnly: true, Logger: logger.Nop()})

			var out mcp.SkillsOutput
			res := call("skills", map[string]any{"agent": "coder"}, &out)
			Expect(res.IsError).To(BeFalse())
			Expect(out.Count).To(Equal(1))
			Expect(out.Skills[0].URI).To(Equal("strata://agent/coder/skills/review"))
			Expect(out.Skills[0].Description).To(Equal("Use when reviewing a change"))

			res = call("skills", map[string]any{"agent": "../x"}, nil)
			Expect(res.IsError).To(BeTrue())
		})

		It("reports failures as tool errors", func() {
			connect(mcp.Config{DB: db, Logger: logger.Nop()})

			res := call("read", map[string]any{"uri": "strata://resources/missing"}, nil)
			Expect(res.IsError).To(BeTrue())

			res = call("read", map[string]any{"uri": "strata://resources", "level": "L7"}, nil)
			Expect(res.IsError).To(BeTrue())
		})

		It("opens, fills and commits a session", func() {
			connect(mcp.Config{DB: db, Logger: logger.Nop()})

			var added mcp.AddMessageOutput
			res := call("session_add_message", map[string]any{
				"user": "alice",
				"role": "user",
				"text": "I prefer short commit messages",
			}, &added)
			Expect(res.IsError).To(BeFalse())
			Expect(added.SessionID).NotTo(BeEmpty())
			Expect(added.Messages).To(Equal(1))

			var committed mcp.CommitOutput
			res = call("session_commit", map[string]any{"session_id": added.SessionID}, &committed)
			Expect(res.IsError).To(BeFalse())
			Expect(committed.Status).To(Equal("archived"))
			Expect(committed.MemoryURIs).To(HaveLen(1))
		})
	})
})
