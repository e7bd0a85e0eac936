package notify_test

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/conductorhq/conductor/pkg/notify"
)

func TestNotify(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Notify Suite")
}

func countLines(t GinkgoTInterface, path string) int {
	f, err := os.Open(path)
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()
	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		n++
	}
	return n
}

var _ = Describe("Null", func() {
	It("never errors on any call", func() {
		n := notify.Null{}
		ctx := context.Background()
		Expect(n.NotifyStarted(ctx)).To(Succeed())
		Expect(n.NotifyClaimed(ctx, "A", "w1")).To(Succeed())
		Expect(n.NotifyCompleted(ctx, "A", "")).To(Succeed())
		Expect(n.NotifyBlocked(ctx, "A", "reason")).To(Succeed())
		Expect(n.NotifyDecisionNeeded(ctx, "d1", "q", []string{"a", "b"})).To(Succeed())
		Expect(n.NotifyProgress(ctx, notify.ProgressCounts{})).To(Succeed())
		Expect(n.NotifyCost(ctx, 1, 2)).To(Succeed())
	})
})

var _ = Describe("FileNotifier", func() {
	var (
		dir string
		n   *notify.FileNotifier
		ctx context.Context
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		n = notify.NewFileNotifier(dir)
		ctx = context.Background()
	})

	It("appends one JSON line per event to today's log", func() {
		Expect(n.NotifyStarted(ctx)).To(Succeed())
		Expect(n.NotifyClaimed(ctx, "A", "w1")).To(Succeed())
		Expect(n.NotifyCompleted(ctx, "A", "https://example.invalid/pr/1")).To(Succeed())

		entries, err := os.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))

		Expect(countLines(GinkgoT(), filepath.Join(dir, entries[0].Name()))).To(Equal(3))
	})

	It("wraps directory-creation failure as a RetryableError", func() {
		readOnlyParent := filepath.Join(GinkgoT().TempDir(), "readonly")
		Expect(os.Mkdir(readOnlyParent, 0o555)).To(Succeed())
		n := notify.NewFileNotifier(filepath.Join(readOnlyParent, "cannot-create"))

		err := n.NotifyStarted(ctx)
		Expect(err).To(HaveOccurred())
		var retryable *notify.RetryableError
		Expect(err).To(BeAssignableToTypeOf(retryable))
	})
})
