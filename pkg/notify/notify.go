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

// Package notify defines the Notifier external collaborator (§6) and a
// handful of concrete implementations. Notifier is deliberately abstract:
// the concurrency core (ClaimManager, Heartbeat, Budget) depends only on
// this interface, never on a transport, so it can be tested with Null.
package notify

import "context"

// ProgressCounts summarizes the feature-state document for
// NotifyProgress, without exposing the full document to the notifier.
type ProgressCounts struct {
	Pending    int
	InProgress int
	Completed  int
	Blocked    int
}

// Notifier is the external collaborator operations listed in §6. A
// notification failure must never roll back the state change that
// triggered it (§4.4) — callers log and continue.
type Notifier interface {
	NotifyStarted(ctx context.Context) error
	NotifyClaimed(ctx context.Context, featureID, workerID string) error
	NotifyCompleted(ctx context.Context, featureID, prURL string) error
	NotifyBlocked(ctx context.Context, featureID, reason string) error
	NotifyDecisionNeeded(ctx context.Context, decisionID, question string, options []string) error
	NotifyProgress(ctx context.Context, counts ProgressCounts) error
	NotifyCost(ctx context.Context, amount, cap float64) error
}

// Null is a no-op Notifier, acceptable per the Design Notes' "pluggable
// dynamic dispatch" guidance — it makes the core testable without any
// external service.
type Null struct{}

var _ Notifier = Null{}

func (Null) NotifyStarted(context.Context) error                                     { return nil }
func (Null) NotifyClaimed(context.Context, string, string) error                      { return nil }
func (Null) NotifyCompleted(context.Context, string, string) error                    { return nil }
func (Null) NotifyBlocked(context.Context, string, string) error                      { return nil }
func (Null) NotifyDecisionNeeded(context.Context, string, string, []string) error      { return nil }
func (Null) NotifyProgress(context.Context, ProgressCounts) error                      { return nil }
func (Null) NotifyCost(context.Context, float64, float64) error                       { return nil }
