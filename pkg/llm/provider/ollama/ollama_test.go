package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/llm"
	"github.com/papercomputeco/strata/pkg/llm/provider/ollama"
)

var _ = Describe("Completer", func() {
	var (
		server   *httptest.Server
		received map[string]any
		status   int
	)

	BeforeEach(func() {
		status = http.StatusOK
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.URL.Path).To(Equal("/api/chat"))
			Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
			w.WriteHeader(status)
			if status == http.StatusOK {
				_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"a summary"},"done":true}`))
			} else {
				_, _ = w.Write([]byte(`model not found`))
			}
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("sends system and user messages", func() {
		c := ollama.New(ollama.Config{BaseURL: server.URL, Model: "tiny"})
		out, err := c.Complete(context.Background(), llm.Request{
			System: "be brief", Prompt: "Summarize", Context: "text", JSON: true, MaxTokens: 50,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("a summary"))

		Expect(received["model"]).To(Equal("tiny"))
		Expect(received["format"]).To(Equal("json"))
		Expect(received["stream"]).To(BeFalse())
		msgs := received["messages"].([]any)
		Expect(msgs).To(HaveLen(2))
		Expect(msgs[1].(map[string]any)["content"]).To(Equal("Summarize\n\ntext"))
	})

	It("wraps API errors as provider errors", func() {
		status = http.StatusNotFound
		c := ollama.New(ollama.Config{BaseURL: server.URL})
		_, err := c.Complete(context.Background(), llm.Request{Prompt: "x"})
		Expect(errs.IsProvider(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("status 404"))
	})

	It("defaults the model and base URL", func() {
		c := ollama.New(ollama.Config{})
		Expect(c).NotTo(BeNil())
		Expect(ollama.DefaultBaseURL).To(Equal("http://localhost:11434"))
	})
})
