package claim_test

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/conductorhq/conductor/internal/catalog"
	"github.com/conductorhq/conductor/internal/claim"
	"github.com/conductorhq/conductor/internal/mutex"
	"github.com/conductorhq/conductor/internal/state"
)

func TestClaim(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Claim Suite")
}

func newManager(dir string, cat *catalog.Catalog) *claim.Manager {
	m, err := mutex.New(filepath.Join(dir, "locks"), zap.NewNop())
	Expect(err).NotTo(HaveOccurred())
	store := state.New(filepath.Join(dir, "state.json"), m, zap.NewNop())
	_, err = store.Load(cat)
	Expect(err).NotTo(HaveOccurred())
	return claim.New(store, cat, "feature", zap.NewNop())
}

var _ = Describe("ClaimManager", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	Describe("dependency gating (§8 scenario 4)", func() {
		It("refuses to claim B before A completes, then allows it after", func() {
			cat := &catalog.Catalog{Features: []catalog.Feature{
				{ID: "A", Priority: 1},
				{ID: "B", Priority: 2, DependsOn: []string{"A"}},
			}}
			mgr := newManager(dir, cat)

			_, err := mgr.Claim("B", "w1")
			Expect(err).To(HaveOccurred())

			_, err = mgr.Claim("A", "w1")
			Expect(err).NotTo(HaveOccurred())
			Expect(mgr.Complete("A", "")).To(Succeed())

			_, err = mgr.Claim("B", "w1")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("simple chain (§8 scenario 1)", func() {
		It("claims and completes A, B, C in dependency order with one worker", func() {
			cat := &catalog.Catalog{Features: []catalog.Feature{
				{ID: "A", Priority: 1},
				{ID: "B", Priority: 2, DependsOn: []string{"A"}},
				{ID: "C", Priority: 3, DependsOn: []string{"B"}},
			}}
			mgr := newManager(dir, cat)

			for _, id := range []string{"A", "B", "C"} {
				got, err := mgr.ClaimNext("w1")
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(Equal(id))
				Expect(mgr.Complete(id, "")).To(Succeed())
			}

			_, err := mgr.ClaimNext("w1")
			Expect(err).To(MatchError(claim.ErrEmpty))
		})
	})

	Describe("two independent branches, two workers (§8 scenario 2)", func() {
		It("assigns X and Y as a set with no double claim", func() {
			cat := &catalog.Catalog{Features: []catalog.Feature{
				{ID: "X", Priority: 1},
				{ID: "Y", Priority: 1},
			}}
			mgr := newManager(dir, cat)

			var wg sync.WaitGroup
			results := make([]string, 2)
			wg.Add(2)
			go func() { defer wg.Done(); id, _ := mgr.ClaimNext("w1"); results[0] = id }()
			go func() { defer wg.Done(); id, _ := mgr.ClaimNext("w2"); results[1] = id }()
			wg.Wait()

			Expect(results).To(ConsistOf("X", "Y"))
		})
	})

	Describe("ClaimNext on an empty backlog", func() {
		It("returns ErrEmpty without blocking", func() {
			cat := &catalog.Catalog{}
			mgr := newManager(dir, cat)
			_, err := mgr.ClaimNext("w1")
			Expect(err).To(MatchError(claim.ErrEmpty))
		})
	})

	Describe("concurrent ClaimNext with exactly one claimable feature", func() {
		It("exactly one caller succeeds", func() {
			cat := &catalog.Catalog{Features: []catalog.Feature{{ID: "only"}}}
			mgr := newManager(dir, cat)

			const n = 6
			var successes int64
			var wg sync.WaitGroup
			wg.Add(n)
			for i := 0; i < n; i++ {
				go func(idx int) {
					defer wg.Done()
					if _, err := mgr.ClaimNext("w"); err == nil {
						atomic.AddInt64(&successes, 1)
					}
				}(i)
			}
			wg.Wait()
			Expect(successes).To(BeEquivalentTo(1))
		})
	})

	Describe("ClaimableIDs monotonicity", func() {
		It("never shrinks as more features complete (absent Blocked transitions)", func() {
			cat := &catalog.Catalog{Features: []catalog.Feature{
				{ID: "A", Priority: 1},
				{ID: "B", Priority: 2, DependsOn: []string{"A"}},
				{ID: "C", Priority: 3},
			}}
			mgr := newManager(dir, cat)

			snap := stateSnapshot(mgr)
			before := len(mgr.ClaimableIDs(snap))

			_, err := mgr.Claim("A", "w1")
			Expect(err).NotTo(HaveOccurred())
			Expect(mgr.Complete("A", "")).To(Succeed())

			after := len(mgr.ClaimableIDs(stateSnapshot(mgr)))
			Expect(after).To(BeNumerically(">=", before))
		})
	})

	Describe("priority tie-break", func() {
		It("claims the lowest priority, then lowest id, deterministically", func() {
			cat := &catalog.Catalog{Features: []catalog.Feature{
				{ID: "z", Priority: 5},
				{ID: "a", Priority: 1},
				{ID: "b", Priority: 1},
			}}
			mgr := newManager(dir, cat)

			first, err := mgr.ClaimNext("w1")
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(Equal("a"))

			second, err := mgr.ClaimNext("w1")
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal("b"))
		})
	})

	Describe("terminal transitions", func() {
		It("release returns InProgress to Pending and clears claim fields", func() {
			cat := &catalog.Catalog{Features: []catalog.Feature{{ID: "A"}}}
			mgr := newManager(dir, cat)
			_, err := mgr.Claim("A", "w1")
			Expect(err).NotTo(HaveOccurred())

			Expect(mgr.Release("A", "stale")).To(Succeed())

			snap := stateSnapshot(mgr)
			f, _ := snap.Get("A")
			Expect(f.Status).To(Equal(state.StatusPending))
			Expect(f.ClaimedBy).To(BeEmpty())
		})

		It("release fails if the feature is not InProgress", func() {
			cat := &catalog.Catalog{Features: []catalog.Feature{{ID: "A"}}}
			mgr := newManager(dir, cat)
			Expect(mgr.Release("A", "x")).To(HaveOccurred())
		})

		It("block works from Pending or InProgress", func() {
			cat := &catalog.Catalog{Features: []catalog.Feature{{ID: "A"}, {ID: "B"}}}
			mgr := newManager(dir, cat)

			Expect(mgr.Block("A", "needs a decision")).To(Succeed())

			_, err := mgr.Claim("B", "w1")
			Expect(err).NotTo(HaveOccurred())
			Expect(mgr.Block("B", "stuck")).To(Succeed())
		})

		It("update_ci sets status and optionally increments attempts", func() {
			cat := &catalog.Catalog{Features: []catalog.Feature{{ID: "A"}}}
			mgr := newManager(dir, cat)
			Expect(mgr.UpdateCI("A", state.CIFailed, true)).To(Succeed())
			Expect(mgr.UpdateCI("A", state.CIFailed, true)).To(Succeed())

			snap := stateSnapshot(mgr)
			f, _ := snap.Get("A")
			Expect(f.CIStatus).To(Equal(state.CIFailed))
			Expect(f.CIAttempts).To(Equal(2))
		})
	})
})

func stateSnapshot(mgr *claim.Manager) state.Document {
	doc, err := mgr.Snapshot()
	Expect(err).NotTo(HaveOccurred())
	return doc
}
