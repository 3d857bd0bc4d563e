package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/llm"
	"github.com/papercomputeco/strata/pkg/llm/provider/openai"
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
			Expect(r.URL.Path).To(HaveSuffix("/chat/completions"))
			Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			if status != http.StatusOK {
				_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
				return
			}
			_, _ = w.Write([]byte(`{
				"id": "chatcmpl-1",
				"object": "chat.completion",
				"created": 1,
				"model": "gpt-4o-mini",
				"choices": [{"index": 0, "finish_reason": "stop",
					"message": {"role": "assistant", "content": "an overview"}}]
			}`))
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("requires a key or a compatible endpoint", func() {
		_, err := openai.New(openai.Config{})
		Expect(errs.IsValidation(err)).To(BeTrue())
	})

	It("calls chat completions", func() {
		c, err := openai.New(openai.Config{BaseURL: server.URL + "/v1/", APIKey: "sk-test", Model: "gpt-4o-mini"})
		Expect(err).NotTo(HaveOccurred())

		out, err := c.Complete(context.Background(), llm.Request{System: "sys", Prompt: "go", MaxTokens: 10})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("an overview"))

		Expect(received["model"]).To(Equal("gpt-4o-mini"))
		Expect(received["messages"]).To(HaveLen(2))
		Expect(received["max_completion_tokens"]).To(BeNumerically("==", 10))
	})

	It("wraps failures as provider errors", func() {
		status = http.StatusUnauthorized
		c, err := openai.New(openai.Config{BaseURL: server.URL + "/v1/", APIKey: "sk-test"})
		Expect(err).NotTo(HaveOccurred())

		_, err = c.Complete(context.Background(), llm.Request{Prompt: "go"})
		Expect(errs.IsProvider(err)).To(BeTrue())
	})
})
