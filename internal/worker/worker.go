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

// Package worker implements C8: the per-task loop that claims a
// feature, drives the external Builder through repeated iterations, and
// retires the feature on a completion, block, or stuck marker.
package worker

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	cbackoff "github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/conductorhq/conductor/internal/apperrors"
	"github.com/conductorhq/conductor/internal/breaker"
	"github.com/conductorhq/conductor/internal/budget"
	"github.com/conductorhq/conductor/internal/catalog"
	"github.com/conductorhq/conductor/internal/claim"
	"github.com/conductorhq/conductor/internal/heartbeat"
	"github.com/conductorhq/conductor/internal/state"
	"github.com/conductorhq/conductor/pkg/builder"
	"github.com/conductorhq/conductor/pkg/notify"
	"github.com/conductorhq/conductor/pkg/vcs"
)

var (
	completeMarker = regexp.MustCompile(`FEATURE_COMPLETE:(\S+)`)
	blockedMarker  = regexp.MustCompile(`BLOCKED:(\S+?):(.+)`)
	stuckMarker    = regexp.MustCompile(`STUCK:(\S+)`)
)

// markerKind identifies which of the three terminal markers matched.
type markerKind int

const (
	markerComplete markerKind = iota
	markerBlocked
	markerStuck
)

// marker is the earliest terminal marker found in a builder invocation's
// output, with its byte offset so callers can compare matches across
// patterns and its payload already cleaned of wrapper-tag noise.
type marker struct {
	kind   markerKind
	offset int
	reason string
}

// earliestMarker finds whichever of the three terminal markers occurs
// first in output, per the wire contract: "exactly one terminal marker
// should appear per invocation; if multiple, the first terminal marker
// encountered wins." Type does not determine priority — position does.
func earliestMarker(output string) *marker {
	var best *marker

	consider := func(m *marker) {
		if best == nil || m.offset < best.offset {
			best = m
		}
	}

	if loc := completeMarker.FindStringIndex(output); loc != nil {
		consider(&marker{kind: markerComplete, offset: loc[0]})
	}
	if loc := blockedMarker.FindStringSubmatchIndex(output); loc != nil {
		consider(&marker{kind: markerBlocked, offset: loc[0], reason: cleanMarkerPayload(output[loc[4]:loc[5]])})
	}
	if loc := stuckMarker.FindStringIndex(output); loc != nil {
		consider(&marker{kind: markerStuck, offset: loc[0]})
	}

	return best
}

// cleanMarkerPayload strips a trailing closing wrapper tag (the
// documented wire format is `<promise>BLOCKED:<id>:<reason></promise>`)
// that the reason's greedy capture otherwise swallows verbatim.
func cleanMarkerPayload(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "</promise>")
	return strings.TrimSpace(s)
}

// Worker is C8.
type Worker struct {
	id       string
	claims   *claim.Manager
	catalog  *catalog.Catalog
	ledger   *budget.Ledger
	beacon   *heartbeat.Beacon
	vcs      vcs.VCS
	build    builder.Builder
	notifier notify.Notifier
	cb       *breaker.Breaker
	vcsCB    *breaker.RateBreaker

	maxIterationsPerFeature int
	budgetCooldown          time.Duration
	iterationSleep          time.Duration

	logger *zap.Logger
}

// Config bundles Worker's tunables (mirrors the relevant slice of
// internal/config.Config so callers don't need to pass the whole
// top-level struct down).
type Config struct {
	MaxIterationsPerFeature int
	BudgetCooldown          time.Duration
	IterationSleep          time.Duration
}

func New(id string, claims *claim.Manager, cat *catalog.Catalog, ledger *budget.Ledger, beacon *heartbeat.Beacon, v vcs.VCS, b builder.Builder, notifier notify.Notifier, cfg Config, logger *zap.Logger) *Worker {
	return &Worker{
		id:                      id,
		claims:                  claims,
		catalog:                 cat,
		ledger:                  ledger,
		beacon:                  beacon,
		vcs:                     v,
		build:                   b,
		notifier:                notifier,
		cb:                      breaker.NewBreaker(id+"-builder", 5, time.Minute),
		vcsCB:                   breaker.NewRateBreaker(id+"-vcs", 0.5, time.Minute, nil),
		maxIterationsPerFeature: cfg.MaxIterationsPerFeature,
		budgetCooldown:          cfg.BudgetCooldown,
		iterationSleep:          cfg.IterationSleep,
		logger:                  logger,
	}
}

// reportOverBudget notifies the configured Notifier of the current
// over-budget condition. A notification failure is logged, not
// propagated — the iteration loop still suspends regardless (§4.4).
func (w *Worker) reportOverBudget(ctx context.Context) {
	total, err := w.ledger.DailyTotal()
	if err != nil {
		return
	}
	if nerr := w.notifier.NotifyCost(ctx, total, w.ledger.Cap()); nerr != nil && w.logger != nil {
		w.logger.Warn("notify cost failed", zap.String("worker", w.id), zap.Error(nerr))
	}
}

// errDrained signals the main loop that the backlog is empty and no
// feature is in flight, so the worker should exit cleanly (§4.8 step 3).
var errDrained = errors.New("worker: backlog drained")

// Run drives the worker's main loop until ctx is cancelled or the
// backlog drains.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := w.iterateOnce(ctx); err != nil {
			if errors.Is(err, errDrained) {
				return nil
			}
			if w.logger != nil {
				w.logger.Error("worker iteration failed", zap.String("worker", w.id), zap.Error(err))
			}
		}
	}
}

// iterateOnce performs steps 1-6 of §4.8 for (at most) one claimed
// feature, or sleeps and returns nil if there was nothing to do.
func (w *Worker) iterateOnce(ctx context.Context) error {
	if err := w.beacon.Touch(w.id); err != nil && w.logger != nil {
		w.logger.Warn("heartbeat touch failed", zap.String("worker", w.id), zap.Error(err))
	}

	ok, err := w.ledger.WithinBudget()
	if err != nil {
		return err
	}
	if !ok {
		w.reportOverBudget(ctx)
		return w.sleep(ctx, w.budgetCooldown)
	}

	id, err := w.claims.ClaimNext(w.id)
	if err != nil {
		if !errors.Is(err, claim.ErrEmpty) {
			return err
		}
		snap, serr := w.claims.Snapshot()
		if serr != nil {
			return serr
		}
		if drained(snap) {
			return errDrained
		}
		return w.sleep(ctx, w.iterationSleep)
	}

	return w.driveFeature(ctx, id)
}

// drained reports whether the backlog has nothing Pending or InProgress
// left — the signal a worker uses to exit cleanly instead of spinning
// forever once a run has finished (§4.8 step 3).
func drained(doc state.Document) bool {
	for _, f := range doc.Features {
		if f.Status == state.StatusPending || f.Status == state.StatusInProgress {
			return false
		}
	}
	return true
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
	return nil
}

// driveFeature prepares the branch, then runs the bounded feature loop
// (§4.8 steps 4-6) for a single claimed feature.
func (w *Worker) driveFeature(ctx context.Context, id string) error {
	feat, ok := w.catalog.ByID()[id]
	branch := "feature/" + id
	if err := w.vcsCB.Call(func() error { return w.vcs.EnsureBranch(ctx, branch, "main") }); err != nil && w.logger != nil {
		w.logger.Warn("ensure branch failed", zap.String("feature", id), zap.Error(err))
	}

	hints := map[string]string{}
	workflowType := ""
	if ok {
		workflowType = string(feat.WorkflowType)
		hints = feat.Hints
	}

	for iteration := 1; iteration <= w.maxIterationsPerFeature; iteration++ {
		if err := w.beacon.Touch(w.id); err != nil && w.logger != nil {
			w.logger.Warn("heartbeat touch failed", zap.String("worker", w.id), zap.Error(err))
		}
		withinBudget, err := w.ledger.WithinBudget()
		if err != nil {
			return err
		}
		if !withinBudget {
			w.reportOverBudget(ctx)
			return w.sleep(ctx, w.budgetCooldown)
		}

		prompt, err := builder.Render(builder.TaskPrompt{
			FeatureID: id, WorkflowType: workflowType, Hints: hints, Iteration: iteration,
		})
		if err != nil {
			return err
		}

		output, err := w.invokeBuilder(ctx, prompt)
		if err != nil {
			// External error kind: non-terminal, the feature loop
			// continues rather than aborting the whole worker.
			if w.logger != nil {
				w.logger.Warn("builder invocation failed", zap.String("feature", id), zap.Error(err))
			}
			if serr := w.sleep(ctx, w.iterationSleep); serr != nil {
				return serr
			}
			continue
		}

		if ur, ok := w.build.(builder.UsageReporter); ok {
			u := ur.LastUsage()
			if _, rerr := w.ledger.Record(w.id, id, u.TokensIn, u.TokensOut); rerr != nil && w.logger != nil {
				w.logger.Warn("record usage failed", zap.String("feature", id), zap.Error(rerr))
			}
		}

		if m := earliestMarker(output); m != nil {
			switch m.kind {
			case markerComplete:
				return w.claims.Complete(id, "")
			case markerBlocked:
				return w.claims.Block(id, m.reason)
			case markerStuck:
				return w.claims.Block(id, "Stuck after N iterations")
			}
		}

		if err := w.sleep(ctx, w.iterationSleep); err != nil {
			return err
		}
	}

	return w.claims.Block(id, "Max iterations reached")
}

// invokeBuilder wraps the external Builder call in both a circuit
// breaker and a bounded exponential backoff, so a crashing collaborator
// degrades to fast-fail instead of being hammered once it is already
// known to be unhealthy.
func (w *Worker) invokeBuilder(ctx context.Context, prompt string) (string, error) {
	op := func() (string, error) {
		out, err := w.cb.Call(func() (string, error) {
			return w.build.Invoke(ctx, prompt)
		})
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.KindExternal, "builder invoke")
		}
		return out, nil
	}
	return cbackoff.Retry(ctx, op, cbackoff.WithMaxTries(3), cbackoff.WithBackOff(cbackoff.NewExponentialBackOff()))
}
