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

// Package decisionchannel defines the DecisionChannel external
// collaborator (§6): an inbound pathway that posts answers against a
// decision.Queue. The queue itself never polls a transport — it just
// accumulates records on disk — so every concrete channel here is a
// small poll-or-watch loop that calls Answerer.Answer and otherwise
// stays out of the queue's way.
package decisionchannel

import (
	"context"

	"github.com/conductorhq/conductor/internal/decision"
)

// Answerer is the subset of decision.Queue a channel needs: enough to
// post an answer and to discover which decisions are still open.
type Answerer interface {
	Answer(id, answer, answerer string) error
	Pending() ([]decision.Record, error)
}

// Channel is the DecisionChannel external collaborator.
type Channel interface {
	// Run drives the channel until ctx is cancelled. Implementations
	// that have nothing to watch (Null) return immediately.
	Run(ctx context.Context) error
}

// Null is a no-op Channel: useful for runs with no external decision
// routing configured, and for tests that never need one.
type Null struct{}

var _ Channel = Null{}

func (Null) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
