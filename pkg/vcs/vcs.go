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

// Package vcs declares the VCS external collaborator (§6): git and
// PR-hosting CLI invocations, abstracted so the concurrency core never
// depends on a concrete git or hosting-provider client.
package vcs

import "context"

// VCS is the external collaborator a Worker uses to prepare a feature's
// branch and, after a merge-plan is computed, to fold completed branches
// into the target branch. Actual git/PR-host integration is out of
// scope; this module ships only the interface plus a Null and a
// git-exec implementation.
type VCS interface {
	EnsureBranch(ctx context.Context, name, base string) error
	CurrentBranch(ctx context.Context) (string, error)
	PRURLForCurrentBranch(ctx context.Context) (string, bool, error)
	Merge(ctx context.Context, branch, strategy string) error
}

// Null is a no-op VCS for tests and dry runs.
type Null struct{}

var _ VCS = Null{}

func (Null) EnsureBranch(context.Context, string, string) error { return nil }
func (Null) CurrentBranch(context.Context) (string, error)      { return "", nil }
func (Null) PRURLForCurrentBranch(context.Context) (string, bool, error) {
	return "", false, nil
}
func (Null) Merge(context.Context, string, string) error { return nil }
