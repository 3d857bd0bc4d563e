package ratelimit_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/llm"
	"github.com/papercomputeco/strata/pkg/ratelimit"
	testutils "github.com/papercomputeco/strata/pkg/utils/test"
)

var _ = Describe("Limiter", func() {
	It("defaults a non-positive cap", func() {
		Expect(ratelimit.New(0).Cap()).To(Equal(ratelimit.DefaultConcurrency))
	})

	It("never exceeds its cap and queues excess calls", func() {
		l := ratelimit.New(2)
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				Expect(l.Do(context.Background(), func(context.Context) error {
					time.Sleep(5 * time.Millisecond)
					return nil
				})).To(Succeed())
			}()
		}
		wg.Wait()

		Expect(l.Peak()).To(BeNumerically("<=", 2))
		Expect(l.Peak()).To(BeNumerically(">=", 1))
	})

	It("returns the context error when waiting is cancelled", func() {
		l := ratelimit.New(1)
		release := make(chan struct{})
		started := make(chan struct{})
		go func() {
			_ = l.Do(context.Background(), func(context.Context) error {
				close(started)
				<-release
				return nil
			})
		}()
		<-started

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err := l.Do(ctx, func(context.Context) error { return nil })
		Expect(err).To(MatchError(context.DeadlineExceeded))
		close(release)
	})

	It("wraps embedders and completers", func() {
		l := ratelimit.New(1)
		emb := testutils.NewMockEmbedder()
		comp := testutils.NewMockCompleter("scripted")

		v, err := ratelimit.Embedder(emb, l).Embed(context.Background(), "hello world")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(HaveLen(testutils.MockDimensions))
		Expect(emb.Calls()).To(Equal(1))

		out, err := ratelimit.Completer(comp, l).Complete(context.Background(), llm.Request{Prompt: "p"})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("scripted"))
	})
})
