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

// Package merge implements C7: a topological ordering of completed
// features via Kahn's algorithm, restricted to the dependency edges that
// stay inside the completed set, plus synthesis of the human-readable
// merge-plan document the orchestrator hands off once implementation
// drains.
package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conductorhq/conductor/internal/catalog"
	"github.com/conductorhq/conductor/internal/state"
)

// Plan is the ordered merge sequence plus enough per-feature detail to
// render a merge-plan document.
type Plan struct {
	Order    []PlanEntry
	Coverage []CoverageEntry
}

// CoverageEntry reports one catalog IntegrationTest's standing against
// the completed set: Covered is true only when every one of its feature
// ids completed, and Missing lists whichever did not.
type CoverageEntry struct {
	Name    string
	Covered bool
	Missing []string
}

// PlanEntry is one feature's position in the merge order.
type PlanEntry struct {
	ID     string
	Branch string
	PRURL  string
}

// CycleError reports that the completed set contains a dependency cycle
// and names the features still unresolved when Kahn's algorithm stalled.
type CycleError struct {
	Residual []string
}

func (e *CycleError) Error() string {
	return "merge: dependency cycle among completed features: " + strings.Join(e.Residual, ", ")
}

// Plan computes the topological order of every Completed feature in doc,
// using cat for the dependency graph and ignoring dependencies that point
// outside the completed set. Ties within the same wave break by
// ascending feature id for reproducibility. If a cycle exists among the
// completed features, it returns a *CycleError naming the residual
// vertices and the orchestrator must not proceed to the merge phase.
func Plan(cat *catalog.Catalog, doc state.Document) (*Plan, error) {
	byID := cat.ByID()

	completed := make(map[string]state.Feature)
	for _, f := range doc.Features {
		if f.Status == state.StatusCompleted {
			completed[f.ID] = f
		}
	}

	inDegree := make(map[string]int, len(completed))
	successors := make(map[string][]string, len(completed))
	for id := range completed {
		inDegree[id] = 0
	}
	for id := range completed {
		feat, ok := byID[id]
		if !ok {
			continue
		}
		for _, dep := range feat.DependsOn {
			if _, inSet := completed[dep]; !inSet {
				continue
			}
			successors[dep] = append(successors[dep], id)
			inDegree[id]++
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		sort.Strings(queue)
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		next := append([]string(nil), successors[id]...)
		sort.Strings(next)
		for _, s := range next {
			inDegree[s]--
			if inDegree[s] == 0 {
				queue = append(queue, s)
			}
		}
	}

	if len(order) != len(completed) {
		var residual []string
		for id, deg := range inDegree {
			if deg > 0 {
				residual = append(residual, id)
			}
		}
		sort.Strings(residual)
		return nil, &CycleError{Residual: residual}
	}

	plan := &Plan{Order: make([]PlanEntry, len(order))}
	for i, id := range order {
		f := completed[id]
		plan.Order[i] = PlanEntry{ID: id, Branch: f.Branch, PRURL: f.PRURL}
	}
	plan.Coverage = coverage(cat, completed)
	return plan, nil
}

// coverage validates each catalog IntegrationTest's feature ids are a
// subset of completed, per §3.1: the merge plan's "integration coverage"
// stanza reports a test covered only once every one of its ids has
// completed.
func coverage(cat *catalog.Catalog, completed map[string]state.Feature) []CoverageEntry {
	entries := make([]CoverageEntry, 0, len(cat.IntegrationTests))
	for _, it := range cat.IntegrationTests {
		var missing []string
		for _, id := range it.FeatureIDs {
			if _, ok := completed[id]; !ok {
				missing = append(missing, id)
			}
		}
		sort.Strings(missing)
		entries = append(entries, CoverageEntry{Name: it.Name, Covered: len(missing) == 0, Missing: missing})
	}
	return entries
}

// Document renders the human-readable merge-plan document (§6): each
// feature in order with its branch and PR url; features with no PR url
// get a manual-merge stanza instead.
func (p *Plan) Document() string {
	var b strings.Builder
	b.WriteString("# Merge Plan\n\n")
	for i, e := range p.Order {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, e.ID))
		if e.PRURL != "" {
			b.WriteString("Branch: " + e.Branch + "\n")
			b.WriteString("PR: " + e.PRURL + "\n\n")
		} else {
			b.WriteString("Branch: " + e.Branch + "\n")
			b.WriteString("No PR recorded — merge manually.\n\n")
		}
	}

	if len(p.Coverage) > 0 {
		b.WriteString("## Integration coverage\n\n")
		for _, c := range p.Coverage {
			if c.Covered {
				b.WriteString(fmt.Sprintf("- %s: covered\n", c.Name))
			} else {
				b.WriteString(fmt.Sprintf("- %s: missing %s\n", c.Name, strings.Join(c.Missing, ", ")))
			}
		}
	}

	return b.String()
}
