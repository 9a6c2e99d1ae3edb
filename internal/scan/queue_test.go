package scan

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Queue", func() {
	var (
		mu        sync.Mutex
		processed []string
		queue     *Queue
		cancel    context.CancelFunc
		done      chan error
	)

	handled := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), processed...)
	}

	BeforeEach(func() {
		processed = nil
		queue = NewQueue(2, 4, func(ctx context.Context, scanID string) error {
			mu.Lock()
			defer mu.Unlock()
			processed = append(processed, scanID)
			if scanID == "bad" {
				return errors.New("boom")
			}
			return nil
		})
	})

	When("running", func() {
		BeforeEach(func() {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan error, 1)
			go func() {
				done <- queue.Run(ctx)
			}()
		})

		AfterEach(func() {
			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("should process every submitted scan", func() {
			for _, id := range []string{"a", "b", "c"} {
				Expect(queue.Submit(context.Background(), id)).To(Succeed())
			}
			Eventually(handled).Should(ConsistOf("a", "b", "c"))
		})

		It("should keep working after a handler error", func() {
			Expect(queue.Submit(context.Background(), "bad")).To(Succeed())
			Expect(queue.Submit(context.Background(), "good")).To(Succeed())
			Eventually(handled).Should(ContainElement("good"))
		})
	})

	When("the queue has stopped", func() {
		BeforeEach(func() {
			ctx, stop := context.WithCancel(context.Background())
			stop()
			Expect(queue.Run(ctx)).To(Succeed())
		})

		It("should reject submissions", func() {
			err := queue.Submit(context.Background(), "a")
			Expect(errors.Is(err, ErrQueueStopped)).To(BeTrue())
		})
	})

	When("the buffer is full and nothing drains it", func() {
		BeforeEach(func() {
			for _, id := range []string{"a", "b", "c", "d"} {
				Expect(queue.Submit(context.Background(), id)).To(Succeed())
			}
			Expect(queue.Len()).To(Equal(4))
		})

		It("should give up when the context is cancelled", func() {
			ctx, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer stop()
			Expect(queue.Submit(ctx, "e")).To(MatchError(context.DeadlineExceeded))
		})

		It("should reject TrySubmit without waiting", func() {
			Expect(errors.Is(queue.TrySubmit("e"), ErrQueueFull)).To(BeTrue())
			Expect(queue.Len()).To(Equal(4))
		})

		It("should accept a scan again once a failed submission released it", func() {
			Expect(queue.TrySubmit("e")).NotTo(Succeed())
			<-queue.jobs
			Expect(queue.TrySubmit("e")).To(Succeed())
		})
	})

	When("a scan is already waiting", func() {
		It("should not queue it twice", func() {
			Expect(queue.TrySubmit("a")).To(Succeed())
			Expect(queue.TrySubmit("a")).To(Succeed())
			Expect(queue.Submit(context.Background(), "a")).To(Succeed())
			Expect(queue.Len()).To(Equal(1))
		})
	})
})
