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

// Package claim implements C4: the claim protocol. Every public operation
// here is a single StateStore.Mutate call, so the whole protocol is
// serializable with respect to itself by virtue of the one state mutex
// (§5) — there is no additional locking in this package.
package claim

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/conductorhq/conductor/internal/apperrors"
	"github.com/conductorhq/conductor/internal/catalog"
	"github.com/conductorhq/conductor/internal/state"
	"github.com/conductorhq/conductor/pkg/notify"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Manager is C4: the ClaimManager.
type Manager struct {
	store        *state.Store
	catalog      *catalog.Catalog
	notifier     notify.Notifier
	branchPrefix string
	logger       *zap.Logger
	tracer       trace.Tracer
}

// Option configures a Manager.
type Option func(*Manager)

func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// New creates a ClaimManager over store, using cat for the dependency
// graph and branchPrefix to derive branch names on first claim.
func New(store *state.Store, cat *catalog.Catalog, branchPrefix string, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		catalog:      cat,
		notifier:     notify.Null{},
		branchPrefix: branchPrefix,
		logger:       logger,
		tracer:       otel.Tracer("conductor/claim"),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Snapshot returns the current state document, for callers (tests,
// progress reporting) that want a consistent view to pass to
// ClaimableIDs without racing a concurrent Claim.
func (m *Manager) Snapshot() (state.Document, error) {
	return m.store.Snapshot()
}

// depsCompleted reports whether every dependency of feature id is
// Completed in doc.
func (m *Manager) depsCompleted(doc state.Document, id string) bool {
	feat, ok := m.catalog.ByID()[id]
	if !ok {
		return false
	}
	for _, dep := range feat.DependsOn {
		df, ok := doc.Get(dep)
		if !ok || df.Status != state.StatusCompleted {
			return false
		}
	}
	return true
}

// ClaimableIDs returns the set of feature ids that are Pending with every
// dependency Completed, ordered by ascending priority then ascending id
// (§4.4's tie-break rule), as of the given document snapshot.
func (m *Manager) ClaimableIDs(doc state.Document) []string {
	type candidate struct {
		id       string
		priority int
	}
	byID := m.catalog.ByID()
	var cands []candidate
	for _, f := range doc.Features {
		if f.Status != state.StatusPending {
			continue
		}
		if !m.depsCompleted(doc, f.ID) {
			continue
		}
		cands = append(cands, candidate{id: f.ID, priority: byID[f.ID].Priority})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].priority != cands[j].priority {
			return cands[i].priority < cands[j].priority
		}
		return cands[i].id < cands[j].id
	})
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.id
	}
	return out
}

// Claim transitions id from Pending to InProgress for worker, assigning
// its branch on first claim. It fails with apperrors.KindPrecondition if
// the preconditions (Pending, deps met) no longer hold at commit time.
func (m *Manager) Claim(id, worker string) (state.Document, error) {
	ctx, span := m.tracer.Start(context.Background(), "claim.Claim")
	defer span.End()

	doc, err := m.store.Mutate(func(d state.Document) (state.Document, error) {
		idx := d.ByID()
		i, ok := idx[id]
		if !ok {
			return d, apperrors.Newf(apperrors.KindPrecondition, "unknown feature %q", id)
		}
		f := &d.Features[i]
		if f.Status != state.StatusPending {
			return d, apperrors.Newf(apperrors.KindPrecondition, "feature %q is not Pending", id)
		}
		if !m.depsCompleted(d, id) {
			return d, apperrors.Newf(apperrors.KindPrecondition, "feature %q has unmet dependencies", id)
		}

		now := time.Now().UTC()
		f.Status = state.StatusInProgress
		f.ClaimedBy = worker
		f.ClaimedAt = &now
		f.UpdatedAt = now
		if f.Branch == "" {
			f.Branch = fmt.Sprintf("%s/%s", m.branchPrefix, id)
		}
		return d, nil
	})
	if err != nil {
		return state.Document{}, err
	}

	if nerr := m.notifier.NotifyClaimed(ctx, id, worker); nerr != nil && m.logger != nil {
		m.logger.Warn("notify claimed failed", zap.String("feature", id), zap.Error(nerr))
	}
	return doc, nil
}

// ErrEmpty is returned by ClaimNext when there is nothing currently
// claimable — distinct from a precondition failure on a specific id.
var ErrEmpty = apperrors.New(apperrors.KindPrecondition, "no claimable feature")

// ClaimNext picks the lowest-priority (tie-break: lowest id) claimable
// feature and claims it for worker, returning its id. Concurrent callers
// racing ClaimNext against a catalog with exactly one claimable feature
// will see exactly one success; the others observe ErrEmpty or a
// precondition failure on retry, never a double claim (§8).
func (m *Manager) ClaimNext(worker string) (string, error) {
	snap, err := m.store.Snapshot()
	if err != nil {
		return "", err
	}
	ids := m.ClaimableIDs(snap)
	if len(ids) == 0 {
		return "", ErrEmpty
	}

	for _, id := range ids {
		if _, err := m.Claim(id, worker); err == nil {
			return id, nil
		}
		// Another worker claimed it between our snapshot and our
		// attempt; move on to the next candidate in tie-break order.
	}
	return "", ErrEmpty
}

// Release returns an InProgress feature to Pending, clearing claim
// fields. reason is logged and forwarded in the notification, but is not
// persisted as part of the state record (unlike blocked_reason).
func (m *Manager) Release(id, reason string) error {
	ctx := context.Background()
	_, err := m.store.Mutate(func(d state.Document) (state.Document, error) {
		idx := d.ByID()
		i, ok := idx[id]
		if !ok {
			return d, apperrors.Newf(apperrors.KindPrecondition, "unknown feature %q", id)
		}
		f := &d.Features[i]
		if f.Status != state.StatusInProgress {
			return d, apperrors.Newf(apperrors.KindPrecondition, "feature %q is not InProgress", id)
		}
		f.Status = state.StatusPending
		f.ClaimedBy = ""
		f.ClaimedAt = nil
		f.UpdatedAt = time.Now().UTC()
		return d, nil
	})
	if err != nil {
		return err
	}
	if m.logger != nil {
		m.logger.Info("feature released", zap.String("feature", id), zap.String("reason", reason))
	}
	if nerr := m.notifier.NotifyBlocked(ctx, id, "released: "+reason); nerr != nil && m.logger != nil {
		m.logger.Warn("notify release failed", zap.String("feature", id), zap.Error(nerr))
	}
	return nil
}

// Complete transitions an InProgress feature to Completed.
func (m *Manager) Complete(id string, prURL string) error {
	ctx := context.Background()
	_, err := m.store.Mutate(func(d state.Document) (state.Document, error) {
		idx := d.ByID()
		i, ok := idx[id]
		if !ok {
			return d, apperrors.Newf(apperrors.KindPrecondition, "unknown feature %q", id)
		}
		f := &d.Features[i]
		if f.Status != state.StatusInProgress {
			return d, apperrors.Newf(apperrors.KindPrecondition, "feature %q is not InProgress", id)
		}
		now := time.Now().UTC()
		f.Status = state.StatusCompleted
		f.CompletedAt = &now
		f.UpdatedAt = now
		if prURL != "" {
			f.PRURL = prURL
		}
		return d, nil
	})
	if err != nil {
		return err
	}
	if nerr := m.notifier.NotifyCompleted(ctx, id, prURL); nerr != nil && m.logger != nil {
		m.logger.Warn("notify completed failed", zap.String("feature", id), zap.Error(nerr))
	}
	return nil
}

// Block transitions a Pending or InProgress feature to Blocked.
func (m *Manager) Block(id, reason string) error {
	ctx := context.Background()
	_, err := m.store.Mutate(func(d state.Document) (state.Document, error) {
		idx := d.ByID()
		i, ok := idx[id]
		if !ok {
			return d, apperrors.Newf(apperrors.KindPrecondition, "unknown feature %q", id)
		}
		f := &d.Features[i]
		if f.Status != state.StatusPending && f.Status != state.StatusInProgress {
			return d, apperrors.Newf(apperrors.KindPrecondition, "feature %q cannot be blocked from status %q", id, f.Status)
		}
		f.Status = state.StatusBlocked
		f.BlockedReason = reason
		f.UpdatedAt = time.Now().UTC()
		return d, nil
	})
	if err != nil {
		return err
	}
	if nerr := m.notifier.NotifyBlocked(ctx, id, reason); nerr != nil && m.logger != nil {
		m.logger.Warn("notify blocked failed", zap.String("feature", id), zap.Error(nerr))
	}
	return nil
}

// UpdateCI records the latest CI signal for id, optionally incrementing
// ci_attempts. It has no status precondition: CI status can be reported
// at any point while (or after) a feature is worked.
func (m *Manager) UpdateCI(id string, status state.CIStatus, increment bool) error {
	_, err := m.store.Mutate(func(d state.Document) (state.Document, error) {
		idx := d.ByID()
		i, ok := idx[id]
		if !ok {
			return d, apperrors.Newf(apperrors.KindPrecondition, "unknown feature %q", id)
		}
		f := &d.Features[i]
		f.CIStatus = status
		if increment {
			f.CIAttempts++
		}
		f.UpdatedAt = time.Now().UTC()
		return d, nil
	})
	return err
}
