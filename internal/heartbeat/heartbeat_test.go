package heartbeat_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/conductorhq/conductor/internal/budget"
	"github.com/conductorhq/conductor/internal/catalog"
	"github.com/conductorhq/conductor/internal/claim"
	"github.com/conductorhq/conductor/internal/heartbeat"
	"github.com/conductorhq/conductor/internal/mutex"
	"github.com/conductorhq/conductor/internal/state"
	"github.com/conductorhq/conductor/pkg/notify"
)

func TestHeartbeat(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Heartbeat Suite")
}

var _ = Describe("Beacon", func() {
	It("reports not alive for a worker that has never touched", func() {
		dir := GinkgoT().TempDir()
		b := heartbeat.NewBeacon(dir)
		Expect(b.IsAlive("ghost", time.Minute, time.Now().UTC())).To(BeFalse())
	})

	It("reports alive immediately after touch, then stale after freshness elapses", func() {
		dir := GinkgoT().TempDir()
		b := heartbeat.NewBeacon(dir)
		Expect(b.Touch("w1")).To(Succeed())

		now := time.Now().UTC()
		Expect(b.IsAlive("w1", time.Minute, now)).To(BeTrue())
		Expect(b.IsAlive("w1", time.Minute, now.Add(2*time.Minute))).To(BeFalse())
	})
})

var _ = Describe("Reaper", func() {
	var (
		dir    string
		cat    *catalog.Catalog
		mgr    *claim.Manager
		beacon *heartbeat.Beacon
		ledger *budget.Ledger
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		cat = &catalog.Catalog{Features: []catalog.Feature{{ID: "A"}, {ID: "B"}}}

		m, err := mutex.New(filepath.Join(dir, "locks"), zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		store := state.New(filepath.Join(dir, "state.json"), m, zap.NewNop())
		_, err = store.Load(cat)
		Expect(err).NotTo(HaveOccurred())

		mgr = claim.New(store, cat, "feature", zap.NewNop())
		beacon = heartbeat.NewBeacon(filepath.Join(dir, "heartbeats"))
		ledger = budget.New(filepath.Join(dir, "ledger.csv"), 0, 0, 100, zap.NewNop())
	})

	It("releases a claim whose age exceeds the threshold and whose worker is silent", func() {
		_, err := mgr.Claim("A", "w1")
		Expect(err).NotTo(HaveOccurred())
		// w1 never touches its beacon: it is stale from the start.

		r := heartbeat.NewReaper(beacon, mgr, ledger, notify.Null{}, time.Minute, 0, 3, time.Hour, 5*time.Minute, zap.NewNop())
		r.Sweep(context.Background())

		snap, err := mgr.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		f, _ := snap.Get("A")
		Expect(f.Status).To(Equal(state.StatusPending))
	})

	It("does not release a claim whose worker is still beating, even past the age threshold", func() {
		_, err := mgr.Claim("A", "w1")
		Expect(err).NotTo(HaveOccurred())
		Expect(beacon.Touch("w1")).To(Succeed())

		r := heartbeat.NewReaper(beacon, mgr, ledger, notify.Null{}, time.Minute, 0, 3, time.Hour, 5*time.Minute, zap.NewNop())
		r.Sweep(context.Background())

		snap, err := mgr.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		f, _ := snap.Get("A")
		Expect(f.Status).To(Equal(state.StatusInProgress))
	})

	It("blocks a feature whose CI has failed at least max_ci_attempts times", func() {
		Expect(mgr.UpdateCI("B", state.CIFailed, true)).To(Succeed())
		Expect(mgr.UpdateCI("B", state.CIFailed, true)).To(Succeed())
		Expect(mgr.UpdateCI("B", state.CIFailed, true)).To(Succeed())

		r := heartbeat.NewReaper(beacon, mgr, ledger, notify.Null{}, time.Minute, time.Hour, 3, time.Hour, 5*time.Minute, zap.NewNop())
		r.Sweep(context.Background())

		snap, err := mgr.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		f, _ := snap.Get("B")
		Expect(f.Status).To(Equal(state.StatusBlocked))
	})

	It("skips its sweep entirely when over budget", func() {
		overBudget := budget.New(filepath.Join(dir, "ledger2.csv"), 1, 0, 1, zap.NewNop())
		_, err := overBudget.Record("w", "x", 10, 0)
		Expect(err).NotTo(HaveOccurred())

		_, err = mgr.Claim("A", "w1")
		Expect(err).NotTo(HaveOccurred())

		r := heartbeat.NewReaper(beacon, mgr, overBudget, notify.Null{}, time.Minute, 0, 3, time.Hour, 10*time.Millisecond, zap.NewNop())
		r.Sweep(context.Background())

		snap, err := mgr.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		f, _ := snap.Get("A")
		Expect(f.Status).To(Equal(state.StatusInProgress))
	})
})
