package anthropic_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/llm"
	"github.com/papercomputeco/strata/pkg/llm/provider/anthropic"
)

var _ = Describe("Completer", func() {
	var (
		server   *httptest.Server
		received map[string]any
		headers  http.Header
		reply    string
	)

	BeforeEach(func() {
		reply = `{"content":[{"type":"text","text":"first "},{"type":"text","text":"second"}]}`
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.URL.Path).To(Equal("/v1/messages"))
			headers = r.Header.Clone()
			Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
			_, _ = w.Write([]byte(reply))
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("requires an API key", func() {
		_, err := anthropic.New(anthropic.Config{})
		Expect(errs.IsValidation(err)).To(BeTrue())
	})

	It("sends the messages request and joins text blocks", func() {
		c, err := anthropic.New(anthropic.Config{BaseURL: server.URL, APIKey: "secret"})
		Expect(err).NotTo(HaveOccurred())

		out, err := c.Complete(context.Background(), llm.Request{System: "sys", Prompt: "hi"})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("first second"))

		Expect(headers.Get("x-api-key")).To(Equal("secret"))
		Expect(headers.Get("anthropic-version")).To(Equal("2023-06-01"))
		Expect(received["system"]).To(Equal("sys"))
		Expect(received["max_tokens"]).To(BeNumerically("==", 1024))
	})

	It("surfaces API errors as provider errors", func() {
		reply = `{"content":[],"error":{"message":"overloaded"}}`
		c, err := anthropic.New(anthropic.Config{BaseURL: server.URL, APIKey: "secret"})
		Expect(err).NotTo(HaveOccurred())

		_, err = c.Complete(context.Background(), llm.Request{Prompt: "hi"})
		Expect(errs.IsProvider(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("overloaded"))
	})
})
