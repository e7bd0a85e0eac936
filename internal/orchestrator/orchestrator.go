/*
Copyright 2026 The Conductor Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package orchestrator implements C9: the top-level process that wires
// every other component together, runs the prerequisite check, spawns
// the reaper and the worker pool, supervises them, and reports a final
// status once the backlog drains.
package orchestrator

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conductorhq/conductor/internal/apperrors"
	"github.com/conductorhq/conductor/internal/budget"
	"github.com/conductorhq/conductor/internal/catalog"
	"github.com/conductorhq/conductor/internal/claim"
	"github.com/conductorhq/conductor/internal/config"
	"github.com/conductorhq/conductor/internal/decision"
	"github.com/conductorhq/conductor/internal/heartbeat"
	"github.com/conductorhq/conductor/internal/mutex"
	"github.com/conductorhq/conductor/internal/state"
	"github.com/conductorhq/conductor/internal/telemetry/metrics"
	"github.com/conductorhq/conductor/internal/worker"
	"github.com/conductorhq/conductor/pkg/builder"
	"github.com/conductorhq/conductor/pkg/decisionchannel"
	"github.com/conductorhq/conductor/pkg/notify"
	"github.com/conductorhq/conductor/pkg/vcs"
)

// Collaborators bundles the pluggable external dependencies the
// Orchestrator needs but does not construct itself — selecting a
// concrete Notifier/VCS/Builder/DecisionChannel from configuration is
// the entrypoint's job (cmd/conductor), not this package's.
type Collaborators struct {
	Notifier        notify.Notifier
	VCS             vcs.VCS
	Build           builder.Builder
	DecisionChannel decisionchannel.Channel
}

// Orchestrator is C9.
type Orchestrator struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	logger  *zap.Logger
	metrics *metrics.Metrics

	store     *state.Store
	claims    *claim.Manager
	ledger    *budget.Ledger
	beacon    *heartbeat.Beacon
	reaper    *heartbeat.Reaper
	decisions *decision.Queue

	collab Collaborators

	aliveWorkers int32
	mu           sync.Mutex // guards aliveWorkers
}

// New wires every internal collaborator from cfg and cat, using collab
// for the external (pluggable) ones. m may be nil to disable metrics.
func New(cfg *config.Config, cat *catalog.Catalog, collab Collaborators, m *metrics.Metrics, logger *zap.Logger) (*Orchestrator, error) {
	mtx, err := mutex.New(cfg.Paths.LocksPath, logger)
	if err != nil {
		return nil, err
	}

	store := state.New(cfg.Paths.StatePath, mtx, logger)
	claims := claim.New(store, cat, cfg.Claim.FeatureBranchPrefix, logger, claim.WithNotifier(collab.Notifier))
	ledger := budget.New(cfg.Paths.LedgerPath, cfg.Budget.CostPerInputToken, cfg.Budget.CostPerOutputToken, cfg.Budget.MaxDailyCost, logger)
	beacon := heartbeat.NewBeacon(cfg.Paths.HeartbeatPath)
	reaper := heartbeat.NewReaper(beacon, claims, ledger, collab.Notifier,
		cfg.Heartbeat.Freshness(), cfg.Heartbeat.StaleClaimThreshold(), cfg.Claim.MaxCIAttempts,
		cfg.Heartbeat.ReaperInterval(), cfg.Budget.Cooldown(), logger)
	decisions := decision.New(cfg.Paths.DecisionsPath, mtx, cfg.Decision.PollInterval(), logger, decision.WithNotifier(collab.Notifier))

	return &Orchestrator{
		cfg: cfg, catalog: cat, logger: logger, metrics: m,
		store: store, claims: claims, ledger: ledger, beacon: beacon, reaper: reaper, decisions: decisions,
		collab: collab,
	}, nil
}

// PrerequisiteCheck fails fast, before anything is spawned, if the
// environment cannot support a run (§4.9 step 1).
func (o *Orchestrator) PrerequisiteCheck(ctx context.Context) error {
	if o.catalog == nil || len(o.catalog.Features) == 0 {
		return apperrors.New(apperrors.KindUnrecoverable, "catalog is empty or missing")
	}
	if err := o.catalog.Validate(); err != nil {
		return err
	}
	if _, err := exec.LookPath("git"); err != nil {
		return apperrors.Wrap(err, apperrors.KindUnrecoverable, "git binary not found on PATH")
	}
	return nil
}

// FinalStatus summarizes the terminal state of a run, for §4.9 step 8.
type FinalStatus struct {
	Completed  []string
	Pending    []string
	InProgress []string
	Blocked    []string
	Reasons    map[string]string
}

// Decisions exposes the decision rendezvous so the entrypoint can wire
// a concrete DecisionChannel's Answerer before starting Run.
func (o *Orchestrator) Decisions() *decision.Queue { return o.decisions }

// SetDecisionChannel overrides the DecisionChannel collaborator after
// construction. It exists because a decision channel's Answerer is
// itself the Queue New builds internally, so it cannot be supplied
// through Collaborators before the Orchestrator exists. Must be called
// before Run.
func (o *Orchestrator) SetDecisionChannel(ch decisionchannel.Channel) {
	o.collab.DecisionChannel = ch
}

// Status implements telemetry/httpserver.StatusProvider.
func (o *Orchestrator) Status() notify.ProgressCounts {
	snap, err := o.claims.Snapshot()
	if err != nil {
		return notify.ProgressCounts{}
	}
	return countsOf(snap)
}

func countsOf(doc state.Document) notify.ProgressCounts {
	var c notify.ProgressCounts
	for _, f := range doc.Features {
		switch f.Status {
		case state.StatusPending:
			c.Pending++
		case state.StatusInProgress:
			c.InProgress++
		case state.StatusCompleted:
			c.Completed++
		case state.StatusBlocked:
			c.Blocked++
		}
	}
	return c
}

// Run executes §4.9 end to end: prerequisite check, state load, reaper
// and worker-pool spawn, supervision until drain, cleanup, final status.
func (o *Orchestrator) Run(ctx context.Context) (*FinalStatus, error) {
	if err := o.PrerequisiteCheck(ctx); err != nil {
		return nil, err
	}
	if _, err := o.store.Load(o.catalog); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.reaper.Run(runCtx)
	}()

	if o.collab.DecisionChannel != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = o.collab.DecisionChannel.Run(runCtx)
		}()
	}

	o.spawnWorkers(runCtx, &wg)

	if err := o.collab.Notifier.NotifyStarted(ctx); err != nil && o.logger != nil {
		o.logger.Warn("notify started failed", zap.Error(err))
	}

	o.supervise(runCtx, &wg)

	cancel()
	wg.Wait()

	snap, err := o.claims.Snapshot()
	if err != nil {
		return nil, err
	}
	return o.finalStatus(snap), nil
}

// spawnWorkers starts NumWorkers Worker.Run goroutines, staggered by
// WorkerStagger to avoid a thundering herd on the first claim (§4.9
// step 4), each decrementing aliveWorkers on exit so the supervision
// loop can detect a fully-dead pool.
func (o *Orchestrator) spawnWorkers(ctx context.Context, wg *sync.WaitGroup) {
	for i := 0; i < o.cfg.Claim.NumWorkers; i++ {
		id := workerID(i)
		o.incAlive()

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer o.decAlive()

			w := worker.New(id, o.claims, o.catalog, o.ledger, o.beacon, o.collab.VCS, o.collab.Build, o.collab.Notifier, worker.Config{
				MaxIterationsPerFeature: o.cfg.Claim.MaxIterationsPerFeature,
				BudgetCooldown:          o.cfg.Budget.Cooldown(),
				IterationSleep:          2 * time.Second,
			}, o.logger)

			if err := w.Run(ctx); err != nil && o.logger != nil {
				o.logger.Error("worker exited with error", zap.String("worker", id), zap.Error(err))
			}
		}(id)

		if o.cfg.Orchestrator.WorkerStagger() > 0 && i < o.cfg.Claim.NumWorkers-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.cfg.Orchestrator.WorkerStagger()):
			}
		}
	}
}

func workerID(i int) string {
	return fmt.Sprintf("worker-%d", i)
}

func (o *Orchestrator) incAlive() {
	o.mu.Lock()
	o.aliveWorkers++
	o.mu.Unlock()
}

func (o *Orchestrator) decAlive() {
	o.mu.Lock()
	o.aliveWorkers--
	o.mu.Unlock()
}

func (o *Orchestrator) liveWorkers() int32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.aliveWorkers
}

// supervise is §4.9 step 5-6: poll the backlog every
// SupervisionInterval, restart a fully-dead pool while work remains,
// and return once the backlog has drained.
func (o *Orchestrator) supervise(ctx context.Context, wg *sync.WaitGroup) {
	ticker := time.NewTicker(o.cfg.Orchestrator.SupervisionInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap, err := o.claims.Snapshot()
		if err != nil {
			if o.logger != nil {
				o.logger.Error("supervision snapshot failed", zap.Error(err))
			}
			continue
		}
		counts := countsOf(snap)

		if o.metrics != nil {
			o.metrics.FeaturesByStatus.WithLabelValues("pending").Set(float64(counts.Pending))
			o.metrics.FeaturesByStatus.WithLabelValues("in_progress").Set(float64(counts.InProgress))
			o.metrics.FeaturesByStatus.WithLabelValues("completed").Set(float64(counts.Completed))
			o.metrics.FeaturesByStatus.WithLabelValues("blocked").Set(float64(counts.Blocked))
		}
		if err := o.collab.Notifier.NotifyProgress(ctx, counts); err != nil && o.logger != nil {
			o.logger.Warn("notify progress failed", zap.Error(err))
		}

		if counts.Pending == 0 && counts.InProgress == 0 {
			return
		}

		if o.liveWorkers() == 0 {
			if o.logger != nil {
				o.logger.Warn("worker pool died with work remaining, restarting", zap.Int("pending", counts.Pending), zap.Int("in_progress", counts.InProgress))
			}
			o.spawnWorkers(ctx, wg)
		}
	}
}

func (o *Orchestrator) finalStatus(doc state.Document) *FinalStatus {
	fs := &FinalStatus{Reasons: map[string]string{}}
	for _, f := range doc.Features {
		switch f.Status {
		case state.StatusCompleted:
			fs.Completed = append(fs.Completed, f.ID)
		case state.StatusPending:
			fs.Pending = append(fs.Pending, f.ID)
		case state.StatusInProgress:
			fs.InProgress = append(fs.InProgress, f.ID)
		case state.StatusBlocked:
			fs.Blocked = append(fs.Blocked, f.ID)
			fs.Reasons[f.ID] = f.BlockedReason
		}
	}
	return fs
}
