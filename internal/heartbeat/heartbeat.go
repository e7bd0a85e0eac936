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

// Package heartbeat implements C5: a per-worker liveness beacon and the
// stale-claim reaper loop that consumes it. Liveness is tracked entirely
// through plain files under one directory — one file per worker id,
// containing its last-beat timestamp — so a worker and the reaper never
// need to coordinate through anything beyond the filesystem.
package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/conductorhq/conductor/internal/apperrors"
	"github.com/conductorhq/conductor/internal/budget"
	"github.com/conductorhq/conductor/internal/claim"
	"github.com/conductorhq/conductor/internal/state"
	"github.com/conductorhq/conductor/pkg/notify"
	"go.uber.org/zap"
)

// Beacon writes and reads per-worker liveness files under one directory.
type Beacon struct {
	dir string
}

func NewBeacon(dir string) *Beacon {
	return &Beacon{dir: dir}
}

// Touch records worker's current liveness timestamp.
func (b *Beacon) Touch(worker string) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return apperrors.Wrapf(err, apperrors.KindExternal, "create heartbeat directory %s", b.dir)
	}
	path := b.path(worker)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := os.WriteFile(path, []byte(now), 0o644); err != nil {
		return apperrors.Wrapf(err, apperrors.KindExternal, "write heartbeat for %s", worker)
	}
	return nil
}

// LastBeat returns worker's last recorded heartbeat. ok is false if the
// worker has never beaten (e.g. it crashed before its first Touch).
func (b *Beacon) LastBeat(worker string) (t time.Time, ok bool) {
	raw, err := os.ReadFile(b.path(worker))
	if err != nil {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(raw)))
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// IsAlive reports whether worker's last heartbeat is within freshness of
// now.
func (b *Beacon) IsAlive(worker string, freshness time.Duration, now time.Time) bool {
	last, ok := b.LastBeat(worker)
	if !ok {
		return false
	}
	return now.Sub(last) <= freshness
}

func (b *Beacon) path(worker string) string {
	safe := strings.ReplaceAll(worker, string(filepath.Separator), "_")
	return filepath.Join(b.dir, safe+".heartbeat")
}

// Reaper is the stale-claim and stuck-CI sweep of §4.5, run by the
// Orchestrator (C9) as one long-lived loop alongside the worker pool.
type Reaper struct {
	beacon              *Beacon
	claims              *claim.Manager
	ledger              *budget.Ledger
	notifier            notify.Notifier
	freshness           time.Duration
	staleClaimThreshold time.Duration
	maxCIAttempts       int
	interval            time.Duration
	cooldown            time.Duration
	logger              *zap.Logger
}

// NewReaper wires the reaper to its collaborators. interval is the wake
// period (§4.5 step 1, default 60s); cooldown is how long it sleeps after
// an over-budget read (§5 timeouts, default 5 minutes) before resuming
// its normal cadence.
func NewReaper(beacon *Beacon, claims *claim.Manager, ledger *budget.Ledger, notifier notify.Notifier, freshness, staleClaimThreshold time.Duration, maxCIAttempts int, interval, cooldown time.Duration, logger *zap.Logger) *Reaper {
	return &Reaper{
		beacon:              beacon,
		claims:              claims,
		ledger:              ledger,
		notifier:            notifier,
		freshness:           freshness,
		staleClaimThreshold: staleClaimThreshold,
		maxCIAttempts:       maxCIAttempts,
		interval:            interval,
		cooldown:            cooldown,
		logger:              logger,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one pass of §4.5 steps 2-5. Errors are logged, not
// propagated: a single failed sweep should not take the reaper down,
// since the next tick will simply try again. Exported so tests (and an
// orchestrator wanting an immediate out-of-cadence sweep) can drive one
// pass directly instead of waiting on the ticker.
func (r *Reaper) Sweep(ctx context.Context) {
	ok, err := r.ledger.WithinBudget()
	if err != nil {
		if r.logger != nil {
			r.logger.Error("reaper: budget check failed", zap.Error(err))
		}
		return
	}
	if !ok {
		if r.logger != nil {
			r.logger.Warn("reaper: over budget, cooling down", zap.Duration("cooldown", r.cooldown))
		}
		if total, terr := r.ledger.DailyTotal(); terr == nil {
			if nerr := r.notifier.NotifyCost(ctx, total, r.ledger.Cap()); nerr != nil && r.logger != nil {
				r.logger.Warn("reaper: notify cost failed", zap.Error(nerr))
			}
		}
		select {
		case <-ctx.Done():
		case <-time.After(r.cooldown):
		}
		return
	}

	snap, err := r.claims.Snapshot()
	if err != nil {
		if r.logger != nil {
			r.logger.Error("reaper: snapshot failed", zap.Error(err))
		}
		return
	}

	now := time.Now().UTC()
	for _, f := range snap.Features {
		if f.Status == state.StatusInProgress && f.ClaimedAt != nil {
			claimAge := now.Sub(*f.ClaimedAt)
			if claimAge > r.staleClaimThreshold && !r.beacon.IsAlive(f.ClaimedBy, r.freshness, now) {
				if err := r.claims.Release(f.ID, "stale"); err != nil && r.logger != nil {
					r.logger.Error("reaper: release stale claim failed", zap.String("feature", f.ID), zap.Error(err))
				} else if r.logger != nil {
					r.logger.Info("reaper: released stale claim",
						zap.String("feature", f.ID), zap.String("worker", f.ClaimedBy),
						zap.Duration("claim_age", claimAge))
				}
				continue
			}
		}
		if f.CIStatus == state.CIFailed && f.CIAttempts >= r.maxCIAttempts {
			reason := "CI failed " + strconv.Itoa(f.CIAttempts) + " times"
			if err := r.claims.Block(f.ID, reason); err != nil && r.logger != nil {
				r.logger.Error("reaper: block stuck CI failed", zap.String("feature", f.ID), zap.Error(err))
			}
		}
	}
}
