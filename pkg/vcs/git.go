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

package vcs

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/conductorhq/conductor/internal/apperrors"
)

// Git shells out to the git and gh CLIs from a fixed working directory.
// It is the simplest possible real VCS implementation and intentionally
// does not retry — callers that want resilience around flaky network
// operations (push, PR lookup) wrap it in internal/breaker themselves.
type Git struct {
	dir string
}

var _ VCS = (*Git)(nil)

func NewGit(dir string) *Git {
	return &Git{dir: dir}
}

func (g *Git) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = g.dir
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", apperrors.Wrapf(err, apperrors.KindExternal, "%s %s: %s", name, strings.Join(args, " "), stderr.String())
	}
	return strings.TrimSpace(out.String()), nil
}

func (g *Git) EnsureBranch(ctx context.Context, name, base string) error {
	if _, err := g.run(ctx, "git", "rev-parse", "--verify", name); err == nil {
		_, err := g.run(ctx, "git", "checkout", name)
		return err
	}
	_, err := g.run(ctx, "git", "checkout", "-b", name, base)
	return err
}

func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	return g.run(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
}

// PRURLForCurrentBranch shells out to the gh CLI; a clean "no PR yet" is
// reported as (_, false, nil) rather than an error.
func (g *Git) PRURLForCurrentBranch(ctx context.Context) (string, bool, error) {
	out, err := g.run(ctx, "gh", "pr", "view", "--json", "url", "--jq", ".url")
	if err != nil {
		return "", false, nil
	}
	if out == "" {
		return "", false, nil
	}
	return out, true, nil
}

func (g *Git) Merge(ctx context.Context, branch, strategy string) error {
	args := []string{"merge"}
	switch strategy {
	case "squash":
		args = append(args, "--squash")
	case "rebase":
		// rebase is performed against the branch being merged, not via
		// `git merge`; fall through to a plain fast-forward-if-possible
		// merge for any strategy this implementation does not special-case.
	}
	args = append(args, branch)
	_, err := g.run(ctx, "git", args...)
	return err
}
