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

// Package decision implements C6: the async human-in-the-loop decision
// protocol. Each decision is a persistent record keyed by a unique id,
// stored as one JSON file under a shared directory; the record file is
// the rendezvous point between the worker that creates it, the external
// answerer that resolves it, and the worker that awaits it, each of
// which may be a different process.
package decision

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/conductorhq/conductor/internal/apperrors"
	"github.com/conductorhq/conductor/internal/mutex"
	"github.com/conductorhq/conductor/pkg/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is one of a decision record's four points.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnswered  Status = "answered"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// Record is one persisted decision.
type Record struct {
	ID         string            `json:"id"`
	Question   string            `json:"question"`
	Options    []string          `json:"options"`
	Context    map[string]string `json:"context,omitempty"`
	TimeoutSec int               `json:"timeout_seconds"`
	Default    *string           `json:"default,omitempty"`
	Status     Status            `json:"status"`
	Answer     string            `json:"answer,omitempty"`
	Answerer   string            `json:"answerer,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	AnsweredAt *time.Time        `json:"answered_at,omitempty"`
}

// Queue is C6: the on-disk decision rendezvous.
type Queue struct {
	dir          string
	mu           *mutex.Mutex
	notifier     notify.Notifier
	pollInterval time.Duration
	logger       *zap.Logger
}

// Option configures a Queue.
type Option func(*Queue)

func WithNotifier(n notify.Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// New creates a Queue persisting records under dir, using m for
// per-record mutual exclusion (distinct from the global state mutex —
// each decision id gets its own lock name) and polling at pollInterval
// inside Await.
func New(dir string, m *mutex.Mutex, pollInterval time.Duration, logger *zap.Logger, opts ...Option) *Queue {
	q := &Queue{dir: dir, mu: m, notifier: notify.Null{}, pollInterval: pollInterval, logger: logger}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *Queue) lockName(id string) string { return "decision-" + id }
func (q *Queue) path(id string) string     { return filepath.Join(q.dir, id+".json") }

// Create persists a new Pending decision and notifies that one is
// needed, returning its id.
func (q *Queue) Create(ctx context.Context, question string, options []string, decisionCtx map[string]string, timeout time.Duration, def *string) (string, error) {
	id := uuid.NewString()
	rec := Record{
		ID:         id,
		Question:   question,
		Options:    options,
		Context:    decisionCtx,
		TimeoutSec: int(timeout.Seconds()),
		Default:    def,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := q.write(rec); err != nil {
		return "", err
	}
	if err := q.notifier.NotifyDecisionNeeded(ctx, id, question, options); err != nil && q.logger != nil {
		q.logger.Warn("notify decision needed failed", zap.String("decision", id), zap.Error(err))
	}
	return id, nil
}

// ErrInvalidAnswer is returned when the proposed answer is not among the
// decision's recorded options.
var ErrInvalidAnswer = apperrors.New(apperrors.KindPrecondition, "answer not among recorded options")

// Answer validates answer is one of the record's options and, if the
// record is still Pending, transitions it to Answered. A second distinct
// answer on an already-Answered record is rejected; the identical
// (id, answer, answerer) triple replayed is treated as a no-op success.
func (q *Queue) Answer(id, answer, answerer string) error {
	h, err := q.mu.Acquire(context.Background(), q.lockName(id), 10*time.Second)
	if err != nil {
		return err
	}
	defer q.mu.Release(h)

	rec, err := q.read(id)
	if err != nil {
		return err
	}

	valid := false
	for _, opt := range rec.Options {
		if opt == answer {
			valid = true
			break
		}
	}
	if !valid {
		return ErrInvalidAnswer
	}

	if rec.Status == StatusAnswered {
		if rec.Answer == answer && rec.Answerer == answerer {
			return nil
		}
		return apperrors.Newf(apperrors.KindPrecondition, "decision %q already answered", id)
	}
	if rec.Status != StatusPending {
		return apperrors.Newf(apperrors.KindPrecondition, "decision %q is not Pending", id)
	}

	now := time.Now().UTC()
	rec.Status = StatusAnswered
	rec.Answer = answer
	rec.Answerer = answerer
	rec.AnsweredAt = &now
	return q.write(rec)
}

// Cancel transitions a Pending decision to Cancelled.
func (q *Queue) Cancel(id, reason string) error {
	h, err := q.mu.Acquire(context.Background(), q.lockName(id), 10*time.Second)
	if err != nil {
		return err
	}
	defer q.mu.Release(h)

	rec, err := q.read(id)
	if err != nil {
		return err
	}
	if rec.Status != StatusPending {
		return apperrors.Newf(apperrors.KindPrecondition, "decision %q is not Pending", id)
	}
	rec.Status = StatusCancelled
	if q.logger != nil {
		q.logger.Info("decision cancelled", zap.String("decision", id), zap.String("reason", reason))
	}
	return q.write(rec)
}

// ErrTimeout is returned by Await when the decision's timeout elapses
// without an answer and without a configured default.
var ErrTimeout = apperrors.New(apperrors.KindPrecondition, "decision timed out without a default")

// Await blocks, polling at pollInterval, until the decision is Answered
// (returning its answer), its timeout elapses (returning the default and
// transitioning to TimedOut if one was configured, otherwise ErrTimeout),
// or ctx is cancelled (returning promptly regardless of remaining
// timeout, per the global-cancellation requirement).
func (q *Queue) Await(ctx context.Context, id string) (string, error) {
	rec, err := q.read(id)
	if err != nil {
		return "", err
	}
	deadline := rec.CreatedAt.Add(time.Duration(rec.TimeoutSec) * time.Second)

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		rec, err := q.read(id)
		if err != nil {
			return "", err
		}
		switch rec.Status {
		case StatusAnswered:
			return rec.Answer, nil
		case StatusCancelled:
			return "", apperrors.Newf(apperrors.KindPrecondition, "decision %q was cancelled", id)
		}

		if time.Now().UTC().After(deadline) {
			if rec.Default != nil {
				if err := q.markTimedOut(id); err != nil {
					return "", err
				}
				return *rec.Default, nil
			}
			return "", ErrTimeout
		}

		select {
		case <-ctx.Done():
			return "", apperrors.Wrap(ctx.Err(), apperrors.KindExternal, "await cancelled")
		case <-ticker.C:
		}
	}
}

func (q *Queue) markTimedOut(id string) error {
	h, err := q.mu.Acquire(context.Background(), q.lockName(id), 10*time.Second)
	if err != nil {
		return err
	}
	defer q.mu.Release(h)

	rec, err := q.read(id)
	if err != nil {
		return err
	}
	if rec.Status != StatusPending {
		return nil
	}
	rec.Status = StatusTimedOut
	return q.write(rec)
}

// Pending enumerates every currently-Pending record, for display.
func (q *Queue) Pending() ([]Record, error) {
	all, err := q.all()
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range all {
		if r.Status == StatusPending {
			out = append(out, r)
		}
	}
	return out, nil
}

// Cleanup removes every record older than maxAge regardless of status.
func (q *Queue) Cleanup(maxAge time.Duration) (int, error) {
	all, err := q.all()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for _, r := range all {
		if r.CreatedAt.Before(cutoff) {
			if err := os.Remove(q.path(r.ID)); err != nil && !os.IsNotExist(err) {
				return removed, apperrors.Wrapf(err, apperrors.KindExternal, "remove decision record %s", r.ID)
			}
			removed++
		}
	}
	return removed, nil
}

func (q *Queue) all() ([]Record, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrapf(err, apperrors.KindExternal, "list decisions directory %s", q.dir)
	}
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		id := e.Name()[:len(e.Name())-len(".json")]
		rec, err := q.read(id)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (q *Queue) read(id string) (Record, error) {
	raw, err := os.ReadFile(q.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, apperrors.Newf(apperrors.KindPrecondition, "unknown decision %q", id)
		}
		return Record{}, apperrors.Wrapf(err, apperrors.KindExternal, "read decision %s", id)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, apperrors.Wrapf(err, apperrors.KindUnrecoverable, "corrupt decision record %s", id)
	}
	return rec, nil
}

func (q *Queue) write(rec Record) error {
	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		return apperrors.Wrapf(err, apperrors.KindExternal, "create decisions directory %s", q.dir)
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindUnrecoverable, "marshal decision record")
	}
	tmp, err := os.CreateTemp(q.dir, ".decision-*.tmp")
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindExternal, "create temp decision file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return apperrors.Wrap(err, apperrors.KindExternal, "write temp decision file")
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(err, apperrors.KindExternal, "close temp decision file")
	}
	if err := os.Rename(tmpPath, q.path(rec.ID)); err != nil {
		return apperrors.Wrap(err, apperrors.KindExternal, "rename temp decision file into place")
	}
	return nil
}
