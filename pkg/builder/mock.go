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

package builder

import (
	"context"
	"sync"
)

// Mock is a scripted Builder for tests: each call to Invoke returns the
// next entry in Outputs (or the last one, repeated, once exhausted), and
// every prompt it receives is recorded for assertions.
type Mock struct {
	Outputs []string
	Usages  []Usage
	Err     error

	mu      sync.Mutex
	calls   int
	Prompts []string
}

var (
	_ Builder       = (*Mock)(nil)
	_ UsageReporter = (*Mock)(nil)
)

func (m *Mock) Invoke(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	idx := m.calls
	m.calls++

	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Outputs) == 0 {
		return "", nil
	}
	if idx >= len(m.Outputs) {
		idx = len(m.Outputs) - 1
	}
	return m.Outputs[idx], nil
}

func (m *Mock) LastUsage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Usages) == 0 {
		return Usage{}
	}
	idx := m.calls - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(m.Usages) {
		idx = len(m.Usages) - 1
	}
	return m.Usages[idx]
}

func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
