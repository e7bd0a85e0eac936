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

// Package state implements C2: atomic read-modify-write access to the
// feature-state document (§3, "Feature state"). The document is the sole
// piece of shared mutable state in the whole system (§5) — every mutation
// funnels through Mutate, which holds the global state mutex for the
// duration of a read-compute-write critical section and never performs
// external I/O inside it beyond the document itself.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/conductorhq/conductor/internal/apperrors"
	"github.com/conductorhq/conductor/internal/catalog"
	"github.com/conductorhq/conductor/internal/mutex"
	"go.uber.org/zap"
)

// Status is one of the four points in the per-feature DFA described in
// §5: Pending -> InProgress -> {Pending, Completed, Blocked}.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

// CIStatus is the opaque CI signal forwarded by ClaimManager.UpdateCI.
type CIStatus string

const (
	CIUnset  CIStatus = "unset"
	CIPending CIStatus = "pending"
	CIPassed  CIStatus = "passed"
	CIFailed  CIStatus = "failed"
)

// Feature is the mutable per-feature record (§3, "Feature state").
type Feature struct {
	ID            string     `json:"id"`
	Status        Status     `json:"status"`
	ClaimedBy     string     `json:"claimed_by,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Branch        string     `json:"branch,omitempty"`
	PRURL         string     `json:"pr_url,omitempty"`
	CIStatus      CIStatus   `json:"ci_status"`
	CIAttempts    int        `json:"ci_attempts"`
	BlockedReason string     `json:"blocked_reason,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Document is the full, top-level feature-state document (§6).
type Document struct {
	Features []Feature `json:"features"`
}

// Clone returns a deep copy of the document so callers (and Snapshot)
// never leak references into the store's authoritative copy.
func (d Document) Clone() Document {
	out := Document{Features: make([]Feature, len(d.Features))}
	for i, f := range d.Features {
		cp := f
		if f.ClaimedAt != nil {
			t := *f.ClaimedAt
			cp.ClaimedAt = &t
		}
		if f.CompletedAt != nil {
			t := *f.CompletedAt
			cp.CompletedAt = &t
		}
		out.Features[i] = cp
	}
	return out
}

// ByID returns an index from feature id to its position in d.Features.
func (d Document) ByID() map[string]int {
	idx := make(map[string]int, len(d.Features))
	for i, f := range d.Features {
		idx[f.ID] = i
	}
	return idx
}

// Get returns a copy of the feature record for id.
func (d Document) Get(id string) (Feature, bool) {
	for _, f := range d.Features {
		if f.ID == id {
			return f, true
		}
	}
	return Feature{}, false
}

// ErrNoChange is returned by a Mutate function to signal that no mutation
// should be committed — the store treats this as a successful no-op, not
// a failure, and performs no write.
var ErrNoChange = errors.New("state: no change")

// MutateFunc is the pure transformation passed to Store.Mutate. It must
// not perform I/O; it receives the current document and returns the new
// one, or ErrNoChange (wrapped or bare) to abandon the mutation.
type MutateFunc func(Document) (Document, error)

// Store is C2: the atomic, mutex-guarded state document accessor.
type Store struct {
	path   string
	lockName string
	mu     *mutex.Mutex
	logger *zap.Logger
}

// New creates a Store persisting to path, coordinated by m under the
// fixed lock name "state" (the one piece of shared mutable state in the
// system, per §5, needs exactly one named lock).
func New(path string, m *mutex.Mutex, logger *zap.Logger) *Store {
	return &Store{path: path, lockName: "state", mu: m, logger: logger}
}

// Load reads the current state document. If no document exists yet, it is
// initialized from the static catalog — every feature starts Pending —
// and persisted. Once a document exists on disk, Load never overwrites
// it: this is what lets an orchestrator restart without losing progress.
func (s *Store) Load(cat *catalog.Catalog) (Document, error) {
	doc, err := s.read()
	if err == nil {
		return doc, nil
	}
	if !os.IsNotExist(err) {
		return Document{}, apperrors.Wrapf(err, apperrors.KindUnrecoverable, "read state %s", s.path)
	}

	now := time.Now().UTC()
	init := Document{Features: make([]Feature, 0, len(cat.Features))}
	for _, f := range cat.Features {
		init.Features = append(init.Features, Feature{
			ID:        f.ID,
			Status:    StatusPending,
			CIStatus:  CIUnset,
			UpdatedAt: now,
		})
	}

	if err := s.writeAtomic(init); err != nil {
		return Document{}, err
	}
	if s.logger != nil {
		s.logger.Info("initialized state document", zap.String("path", s.path), zap.Int("features", len(init.Features)))
	}
	return init, nil
}

// Snapshot returns a deep-copied current view of the document without
// taking the state mutex — callers that only display state (e.g.
// progress reporting and the /status endpoint) do not need to serialize
// with writers, only to never see a half-written file, which the atomic
// rename already guarantees.
func (s *Store) Snapshot() (Document, error) {
	doc, err := s.read()
	if err != nil {
		return Document{}, apperrors.Wrapf(err, apperrors.KindUnrecoverable, "read state %s", s.path)
	}
	return doc.Clone(), nil
}

// Mutate acquires the global state mutex, reads the current document,
// applies fn, validates the invariants in §3 against the result, writes
// it atomically, and releases the lock. If fn returns ErrNoChange (or an
// error wrapping it), the mutation is abandoned without a write. If fn
// returns any other error, or the result violates an invariant, the
// mutation is abandoned and the error is returned — the document on disk
// is never touched.
func (s *Store) Mutate(fn MutateFunc) (Document, error) {
	h, err := s.mu.Acquire(context.Background(), s.lockName, 10*time.Second)
	if err != nil {
		return Document{}, err
	}
	defer s.mu.Release(h)

	cur, err := s.read()
	if err != nil {
		return Document{}, apperrors.Wrapf(err, apperrors.KindUnrecoverable, "read state %s", s.path)
	}

	next, err := fn(cur.Clone())
	if err != nil {
		if errors.Is(err, ErrNoChange) {
			return cur, nil
		}
		return Document{}, err
	}

	if err := Validate(next); err != nil {
		if s.logger != nil {
			s.logger.Error("rejected state mutation: invariant violation", zap.Error(err))
		}
		return Document{}, err
	}

	if err := s.writeAtomic(next); err != nil {
		return Document{}, err
	}
	return next, nil
}

func (s *Store) read() (Document, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, apperrors.Wrapf(err, apperrors.KindUnrecoverable, "corrupt state document %s", s.path)
	}
	return doc, nil
}

// writeAtomic writes to a sibling temp file and renames over the
// destination so a concurrent reader never observes a half-written
// document (§4.2, §9).
func (s *Store) writeAtomic(doc Document) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return apperrors.Wrapf(err, apperrors.KindUnrecoverable, "create state directory for %s", s.path)
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindUnrecoverable, "marshal state document")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.tmp")
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindUnrecoverable, "create temp state file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return apperrors.Wrap(err, apperrors.KindUnrecoverable, "write temp state file")
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(err, apperrors.KindUnrecoverable, "close temp state file")
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return apperrors.Wrap(err, apperrors.KindUnrecoverable, "rename temp state file into place")
	}
	return nil
}

// Validate checks invariants 1-3 and 5 (through duplicate-id rejection)
// of §3 against a candidate document. Invariant 4 (dependency gating)
// depends on the static catalog and is enforced by ClaimManager at claim
// time, not here. Invariant 6 compares against the previous document and
// is not checked here.
func Validate(doc Document) error {
	seen := make(map[string]bool, len(doc.Features))
	for _, f := range doc.Features {
		if seen[f.ID] {
			return apperrors.Newf(apperrors.KindInvariant, "duplicate feature record for id %q", f.ID)
		}
		seen[f.ID] = true

		switch f.Status {
		case StatusInProgress:
			if f.ClaimedBy == "" || f.ClaimedAt == nil {
				return apperrors.Newf(apperrors.KindInvariant, "feature %q is InProgress without claimed_by/claimed_at", f.ID)
			}
		case StatusCompleted:
			if f.CompletedAt == nil {
				return apperrors.Newf(apperrors.KindInvariant, "feature %q is Completed without completed_at", f.ID)
			}
		case StatusBlocked:
			if f.BlockedReason == "" {
				return apperrors.Newf(apperrors.KindInvariant, "feature %q is Blocked without blocked_reason", f.ID)
			}
		case StatusPending:
			// no additional fields required
		default:
			return apperrors.Newf(apperrors.KindInvariant, "feature %q has unknown status %q", f.ID, f.Status)
		}
	}
	return nil
}
