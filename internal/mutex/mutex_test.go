package mutex_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/conductorhq/conductor/internal/mutex"
)

func TestMutex(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Mutex Suite")
}

var _ = Describe("Mutex", func() {
	var (
		root string
		m    *mutex.Mutex
		ctx  context.Context
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		var err error
		m, err = mutex.New(root, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	It("acquires a free lock immediately", func() {
		h, err := m.Acquire(ctx, "feature-1", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(h).NotTo(BeNil())
		Expect(h.Owner).NotTo(BeEmpty())
	})

	It("try-once fails fast when busy", func() {
		h1, err := m.Acquire(ctx, "feature-1", 0)
		Expect(err).NotTo(HaveOccurred())
		defer m.Release(h1)

		_, err = m.Acquire(ctx, "feature-1", 0)
		Expect(err).To(HaveOccurred())
	})

	It("releases idempotently, even when already gone", func() {
		h, err := m.Acquire(ctx, "feature-1", 0)
		Expect(err).NotTo(HaveOccurred())

		Expect(m.Release(h)).To(Succeed())
		Expect(m.Release(h)).To(Succeed(), "second release of the same handle must not error")
	})

	It("allows re-acquisition after release", func() {
		h1, err := m.Acquire(ctx, "feature-1", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Release(h1)).To(Succeed())

		h2, err := m.Acquire(ctx, "feature-1", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Release(h2)).To(Succeed())
	})

	It("waits up to max_wait and succeeds once the holder releases", func() {
		h1, err := m.Acquire(ctx, "feature-1", 0)
		Expect(err).NotTo(HaveOccurred())

		go func() {
			time.Sleep(300 * time.Millisecond)
			_ = m.Release(h1)
		}()

		h2, err := m.Acquire(ctx, "feature-1", 3*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(h2).NotTo(BeNil())
	})

	It("times out and returns a contention error if never released", func() {
		h1, err := m.Acquire(ctx, "feature-1", 0)
		Expect(err).NotTo(HaveOccurred())
		defer m.Release(h1)

		_, err = m.Acquire(ctx, "feature-1", 500*time.Millisecond)
		Expect(err).To(HaveOccurred())
	})

	It("exactly one of several concurrent acquirers for the same name succeeds", func() {
		const n = 8
		var successes int64
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				if _, err := m.Acquire(ctx, "contended", 0); err == nil {
					atomic.AddInt64(&successes, 1)
				}
			}()
		}
		wg.Wait()
		Expect(successes).To(BeEquivalentTo(1))
	})

	It("force-releases a lock regardless of holder", func() {
		_, err := m.Acquire(ctx, "stuck", 0)
		Expect(err).NotTo(HaveOccurred())

		Expect(m.ForceRelease("stuck")).To(Succeed())

		h, err := m.Acquire(ctx, "stuck", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Release(h)).To(Succeed())
	})

	It("force-release of a never-held lock is a no-op", func() {
		Expect(m.ForceRelease("never-held")).To(Succeed())
	})

	It("inspect reports owner and acquisition time while held", func() {
		h, err := m.Acquire(ctx, "feature-1", 0)
		Expect(err).NotTo(HaveOccurred())
		defer m.Release(h)

		owner, acquiredAt, ok := m.Inspect("feature-1")
		Expect(ok).To(BeTrue())
		Expect(owner).To(Equal(h.Owner))
		Expect(acquiredAt).To(BeTemporally("~", h.AcquiredAt, time.Second))
	})

	It("inspect reports not-held for a free lock", func() {
		_, _, ok := m.Inspect("free")
		Expect(ok).To(BeFalse())
	})

	It("creates its root directory if it does not yet exist", func() {
		nested := root + "/nested/locks"
		_, err := mutex.New(nested, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		_, statErr := os.Stat(nested)
		Expect(statErr).NotTo(HaveOccurred())
	})
})
