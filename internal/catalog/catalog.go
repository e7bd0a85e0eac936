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

// Package catalog loads the static feature specification document (§3,
// "Feature specification"). The catalog is source-controlled, branched
// with code, and never mutated at runtime — it is the read-only half of
// the static/dynamic separation described in §3 and §9 of the design.
package catalog

import (
	"fmt"
	"os"

	"github.com/conductorhq/conductor/internal/apperrors"
	"gopkg.in/yaml.v3"
)

// WorkflowType is an opaque hint passed to the external builder.
type WorkflowType string

const (
	WorkflowTDD    WorkflowType = "tdd"
	WorkflowDirect WorkflowType = "direct"
	WorkflowDocs   WorkflowType = "docs"
	WorkflowOther  WorkflowType = "other"
)

// Feature is one static feature specification entry.
type Feature struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	DependsOn       []string          `yaml:"depends_on"`
	Priority        int               `yaml:"priority"`
	WorkflowType    WorkflowType      `yaml:"workflow_type"`
	APIEndpoints    []string          `yaml:"api_endpoints,omitempty"`
	Packages        []string          `yaml:"packages,omitempty"`
	EnvVars         []string          `yaml:"env_vars,omitempty"`
	EstimatedTokens int               `yaml:"estimated_tokens,omitempty"`
	Hints           map[string]string `yaml:"hints,omitempty"`
}

// IntegrationTest is a labelled set of feature ids a downstream integration
// phase exercises (§6).
type IntegrationTest struct {
	Name       string   `yaml:"name"`
	FeatureIDs []string `yaml:"feature_ids"`
}

// Catalog is the full static document.
type Catalog struct {
	Features         []Feature         `yaml:"features"`
	IntegrationTests []IntegrationTest `yaml:"integration_tests,omitempty"`
}

// ByID returns a map from feature id to Feature for fast lookup.
func (c *Catalog) ByID() map[string]Feature {
	out := make(map[string]Feature, len(c.Features))
	for _, f := range c.Features {
		out[f.ID] = f
	}
	return out
}

// Load reads and validates the static catalog document at path.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.KindUnrecoverable, "read catalog %s", path)
	}

	var cat Catalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.KindUnrecoverable, "parse catalog %s", path)
	}

	if err := cat.Validate(); err != nil {
		return nil, err
	}

	return &cat, nil
}

// Validate checks structural invariants of the catalog that hold
// regardless of state: unique ids, and dependencies that resolve to a
// known id (never to the feature itself).
func (c *Catalog) Validate() error {
	seen := make(map[string]bool, len(c.Features))
	for _, f := range c.Features {
		if f.ID == "" {
			return apperrors.New(apperrors.KindUnrecoverable, "catalog contains a feature with an empty id")
		}
		if seen[f.ID] {
			return apperrors.Newf(apperrors.KindUnrecoverable, "duplicate feature id %q in catalog", f.ID)
		}
		seen[f.ID] = true
	}

	ids := c.ByID()
	for _, f := range c.Features {
		for _, dep := range f.DependsOn {
			if dep == f.ID {
				return apperrors.Newf(apperrors.KindUnrecoverable, "feature %q depends on itself", f.ID)
			}
			if _, ok := ids[dep]; !ok {
				return apperrors.Newf(apperrors.KindUnrecoverable, "feature %q depends on unknown feature %q", f.ID, dep)
			}
		}
	}

	for _, it := range c.IntegrationTests {
		for _, id := range it.FeatureIDs {
			if _, ok := ids[id]; !ok {
				return apperrors.Newf(apperrors.KindUnrecoverable, "integration test %q references unknown feature %q", it.Name, id)
			}
		}
	}

	return nil
}

// String renders a short human label, used in log lines.
func (f Feature) String() string {
	return fmt.Sprintf("%s(%s)", f.ID, f.Name)
}
