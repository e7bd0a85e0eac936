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
	"strings"

	"github.com/conductorhq/conductor/internal/apperrors"
	"github.com/tmc/langchaingo/prompts"
)

// TaskPrompt is the per-iteration task description a Worker hands to a
// Builder: the feature id, its workflow-type hint, and any opaque hints
// from the catalog.
type TaskPrompt struct {
	FeatureID    string
	WorkflowType string
	Hints        map[string]string
	Iteration    int
}

var taskTemplate = prompts.NewPromptTemplate(
	"You are implementing feature {{.feature_id}} ({{.workflow_type}} workflow), iteration {{.iteration}}.\n"+
		"Hints:\n{{.hints}}\n\n"+
		"When the feature is fully implemented and its tests pass, emit a line exactly:\n"+
		"FEATURE_COMPLETE:{{.feature_id}}\n"+
		"If you need a human decision to proceed, emit:\n"+
		"BLOCKED:{{.feature_id}}:<reason>\n"+
		"If you are stuck and cannot make further progress, emit:\n"+
		"STUCK:{{.feature_id}}\n",
	[]string{"feature_id", "workflow_type", "iteration", "hints"},
)

// Render expands the shared task-prompt template used by every Builder
// variant, so the Anthropic, Bedrock, and mock implementations all send
// the same structured prompt shape.
func Render(tp TaskPrompt) (string, error) {
	var hints strings.Builder
	for k, v := range tp.Hints {
		hints.WriteString("- " + k + ": " + v + "\n")
	}
	out, err := taskTemplate.Format(map[string]any{
		"feature_id":    tp.FeatureID,
		"workflow_type": tp.WorkflowType,
		"iteration":     tp.Iteration,
		"hints":         hints.String(),
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.KindUnrecoverable, "render task prompt")
	}
	return out, nil
}
