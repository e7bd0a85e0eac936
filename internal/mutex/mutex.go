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

// Package mutex implements C1: a portable named mutual exclusion
// primitive over concurrent OS processes, with a bounded acquire timeout.
//
// The lowest-common-denominator atomic primitive every mainstream OS
// supports is "create a directory, or fail if it exists" — os.Mkdir
// returns a distinguishable error when the directory already exists, and
// this check-and-create is atomic at the filesystem layer. Advisory POSIX
// file locks (flock) would also work, but directory creation survives a
// crashed owner process without needing the OS to clean up an fd, and
// needs no platform-specific syscalls.
package mutex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/conductorhq/conductor/internal/apperrors"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Handle is returned by Acquire and must be passed to Release.
type Handle struct {
	name string
	path string
	// Owner and AcquiredAt are recorded in the lock directory so another
	// process can inspect or force-break a stale lock.
	Owner      string
	AcquiredAt time.Time
}

// Mutex roots a namespace of named locks in a shared scratch directory.
type Mutex struct {
	root   string
	logger *zap.Logger
}

// New creates a Mutex rooted at root, creating the directory if absent.
func New(root string, logger *zap.Logger) (*Mutex, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.KindUnrecoverable, "create locks root %s", root)
	}
	return &Mutex{root: root, logger: logger}, nil
}

func (m *Mutex) pathFor(name string) string {
	return filepath.Join(m.root, sanitize(name)+".lock")
}

// sanitize keeps lock directory names filesystem-safe; feature ids and
// decision ids are expected to already be simple tokens, this is a
// defensive backstop only.
func sanitize(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(name)
}

// Acquire attempts to create the named lock directory. If it already
// exists, it polls at roughly one-second granularity (via a Fibonacci
// backoff capped at one second, so the first few retries are cheap under
// light contention) until it succeeds or maxWait elapses. maxWait == 0
// means try-once.
func (m *Mutex) Acquire(ctx context.Context, name string, maxWait time.Duration) (*Handle, error) {
	path := m.pathFor(name)
	owner := ownerIdentity()

	h, err := m.tryCreate(path, name, owner)
	if err == nil {
		return h, nil
	}
	if maxWait <= 0 {
		return nil, apperrors.Newf(apperrors.KindContention, "lock %q busy", name)
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	b, berr := retry.NewFibonacci(200 * time.Millisecond)
	if berr != nil {
		return nil, apperrors.Wrap(berr, apperrors.KindUnrecoverable, "build backoff policy")
	}
	b = retry.WithCapped(time.Second, b)

	var handle *Handle
	rerr := retry.Do(deadlineCtx, b, func(ctx context.Context) error {
		h, err := m.tryCreate(path, name, owner)
		if err != nil {
			return retry.RetryableError(err)
		}
		handle = h
		return nil
	})
	if rerr != nil {
		if m.logger != nil {
			m.logger.Warn("lock acquire timed out", zap.String("lock", name), zap.Duration("max_wait", maxWait))
		}
		return nil, apperrors.Newf(apperrors.KindContention, "lock %q busy after %s", name, maxWait)
	}
	return handle, nil
}

func (m *Mutex) tryCreate(path, name, owner string) (*Handle, error) {
	if err := os.Mkdir(path, 0o755); err != nil {
		if os.IsExist(err) {
			return nil, apperrors.Newf(apperrors.KindContention, "lock %q busy", name)
		}
		return nil, apperrors.Wrapf(err, apperrors.KindUnrecoverable, "create lock %q", name)
	}

	now := time.Now().UTC()
	meta := fmt.Sprintf("%s\n%d\n", owner, now.UnixNano())
	metaPath := filepath.Join(path, "owner")
	if err := os.WriteFile(metaPath, []byte(meta), 0o644); err != nil {
		_ = os.Remove(path)
		return nil, apperrors.Wrapf(err, apperrors.KindUnrecoverable, "write lock owner %q", name)
	}

	return &Handle{name: name, path: path, Owner: owner, AcquiredAt: now}, nil
}

// Release removes the lock directory. It is idempotent: releasing an
// already-gone lock is not an error, matching the contract that a worker
// which crashed mid-feature leaves no dangling acquire/release mismatch
// for the next owner to trip over.
func (m *Mutex) Release(h *Handle) error {
	if h == nil {
		return nil
	}
	if err := os.RemoveAll(h.path); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrapf(err, apperrors.KindUnrecoverable, "release lock %q", h.name)
	}
	return nil
}

// ForceRelease breaks a named lock regardless of current ownership. This
// is an operator recovery affordance distinct from normal Release, used
// when a human determines a lock is stuck (owning process confirmed dead,
// no automatic reaping possible for mutexes themselves).
func (m *Mutex) ForceRelease(name string) error {
	path := m.pathFor(name)
	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrapf(err, apperrors.KindUnrecoverable, "force-release lock %q", name)
	}
	if m.logger != nil {
		m.logger.Warn("lock force-released", zap.String("lock", name))
	}
	return nil
}

// Inspect reports the recorded owner and acquisition time of a held lock,
// or ok=false if the lock is not currently held.
func (m *Mutex) Inspect(name string) (owner string, acquiredAt time.Time, ok bool) {
	path := m.pathFor(name)
	raw, err := os.ReadFile(filepath.Join(path, "owner"))
	if err != nil {
		return "", time.Time{}, false
	}
	lines := strings.SplitN(string(raw), "\n", 3)
	if len(lines) < 2 {
		return "", time.Time{}, false
	}
	nanos, err := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil {
		return lines[0], time.Time{}, true
	}
	return lines[0], time.Unix(0, nanos).UTC(), true
}

func ownerIdentity() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
