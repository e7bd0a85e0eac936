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

// Package builder declares the Builder external collaborator (§6): the
// LLM-powered coding assistant a Worker invokes once per feature-loop
// iteration. The orchestrator core only ever depends on the Builder
// interface; the Anthropic, Bedrock, and Mock implementations are
// optional, swappable conveniences, not part of the concurrency core
// under test.
package builder

import "context"

// Builder runs one coding-assistant turn and returns its raw text
// output, which the Worker scans for a FEATURE_COMPLETE/BLOCKED/STUCK
// marker.
type Builder interface {
	Invoke(ctx context.Context, prompt string) (output string, err error)
}

// Usage reports token consumption for a single Invoke call, forwarded by
// callers that want to record it against the cost ledger (internal/budget).
type Usage struct {
	TokensIn  int64
	TokensOut int64
}

// UsageReporter is implemented by Builders that can report the token
// counts of their last call, letting Worker forward real usage to
// Budget.Record instead of a static estimate.
type UsageReporter interface {
	LastUsage() Usage
}
