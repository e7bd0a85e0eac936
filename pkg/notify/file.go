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

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/conductorhq/conductor/internal/apperrors"
)

// FileNotifier appends one JSON line per notification to a file under
// dir, named by the UTC day. This is the simplest possible durable sink
// and a useful default for local runs and tests that want to assert on
// what was notified without mocking a transport.
//
// RetryableError mirrors the teacher's delivery.RetryableError: a
// directory-creation failure is distinguished from a permanent one so a
// caller that chooses to retry notifications (optional — §4.4 says
// notification failure never rolls back state) knows which errors are
// worth retrying.
type RetryableError struct {
	Cause error
}

func (e *RetryableError) Error() string { return fmt.Sprintf("retryable: %v", e.Cause) }
func (e *RetryableError) Unwrap() error { return e.Cause }

type FileNotifier struct {
	dir string
}

var _ Notifier = (*FileNotifier)(nil)

func NewFileNotifier(dir string) *FileNotifier {
	return &FileNotifier{dir: dir}
}

type fileEvent struct {
	Time  time.Time `json:"time"`
	Event string    `json:"event"`
	Data  any       `json:"data,omitempty"`
}

func (n *FileNotifier) write(event string, data any) error {
	if err := os.MkdirAll(n.dir, 0o755); err != nil {
		return &RetryableError{Cause: apperrors.Wrapf(err, apperrors.KindExternal, "create notification directory %s", n.dir)}
	}

	path := filepath.Join(n.dir, time.Now().UTC().Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &RetryableError{Cause: apperrors.Wrapf(err, apperrors.KindExternal, "open notification log %s", path)}
	}
	defer f.Close()

	line, err := json.Marshal(fileEvent{Time: time.Now().UTC(), Event: event, Data: data})
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindExternal, "marshal notification")
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return &RetryableError{Cause: apperrors.Wrap(err, apperrors.KindExternal, "write notification")}
	}
	return nil
}

func (n *FileNotifier) NotifyStarted(context.Context) error {
	return n.write("started", nil)
}

func (n *FileNotifier) NotifyClaimed(_ context.Context, featureID, workerID string) error {
	return n.write("claimed", map[string]string{"feature_id": featureID, "worker_id": workerID})
}

func (n *FileNotifier) NotifyCompleted(_ context.Context, featureID, prURL string) error {
	return n.write("completed", map[string]string{"feature_id": featureID, "pr_url": prURL})
}

func (n *FileNotifier) NotifyBlocked(_ context.Context, featureID, reason string) error {
	return n.write("blocked", map[string]string{"feature_id": featureID, "reason": reason})
}

func (n *FileNotifier) NotifyDecisionNeeded(_ context.Context, decisionID, question string, options []string) error {
	return n.write("decision_needed", map[string]any{"decision_id": decisionID, "question": question, "options": options})
}

func (n *FileNotifier) NotifyProgress(_ context.Context, counts ProgressCounts) error {
	return n.write("progress", counts)
}

func (n *FileNotifier) NotifyCost(_ context.Context, amount, cap float64) error {
	return n.write("cost", map[string]float64{"amount": amount, "cap": cap})
}
