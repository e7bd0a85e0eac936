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

package decisionchannel

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conductorhq/conductor/internal/apperrors"
)

// linearComment is the slice of Linear's GraphQL comment shape this
// poller needs.
type linearComment struct {
	ID     string `json:"id"`
	Body   string `json:"body"`
	UserID string `json:"userId"`
	Issue  struct {
		ID string `json:"id"`
	} `json:"issue"`
}

// Linear polls a Linear team's issues, tagged with a label, for new
// comments shaped like "decision <id>: <answer>". One issue is used per
// in-flight decision (the question is posted as the issue description
// by a Notifier, out of this package's scope); this channel only reads
// comments back. The poll-and-mark-processed structure mirrors the
// retrieval pack's Linear issue poller, trimmed to decisions instead of
// whole issues.
type Linear struct {
	httpClient *http.Client
	apiKey     string
	teamID     string
	label      string
	answerer   Answerer
	interval   time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	processed map[string]bool
}

var _ Channel = (*Linear)(nil)

func NewLinear(apiKey, teamID, label string, answerer Answerer, interval time.Duration, logger *zap.Logger) *Linear {
	return &Linear{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiKey:     apiKey,
		teamID:     teamID,
		label:      label,
		answerer:   answerer,
		interval:   interval,
		logger:     logger,
		processed:  make(map[string]bool),
	}
}

func (l *Linear) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.poll(ctx)
		}
	}
}

func (l *Linear) poll(ctx context.Context) {
	comments, err := l.fetchComments(ctx)
	if err != nil {
		if l.logger != nil {
			l.logger.Warn("linear decision poll failed", zap.Error(err))
		}
		return
	}

	for _, c := range comments {
		l.mu.Lock()
		seen := l.processed[c.ID]
		if !seen {
			l.processed[c.ID] = true
		}
		l.mu.Unlock()
		if seen {
			continue
		}

		id, answer, ok := parseDecisionReply(c.Body)
		if !ok {
			continue
		}
		if err := l.answerer.Answer(id, answer, c.UserID); err != nil && l.logger != nil {
			l.logger.Warn("decision answer rejected", zap.String("decision", id), zap.Error(err))
		}
	}
}

const linearGraphQLEndpoint = "https://api.linear.app/graphql"

func (l *Linear) fetchComments(ctx context.Context) ([]linearComment, error) {
	query := `query($teamId: String!, $label: String!) {
		issues(filter: { team: { id: { eq: $teamId } }, labels: { name: { eq: $label } } }) {
			nodes {
				comments {
					nodes { id body userId issue { id } }
				}
			}
		}
	}`
	body, err := json.Marshal(map[string]any{
		"query": query,
		"variables": map[string]string{
			"teamId": l.teamID,
			"label":  l.label,
		},
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnrecoverable, "marshal linear query")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, linearGraphQLEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindExternal, "build linear request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", l.apiKey)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindExternal, "call linear api")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Newf(apperrors.KindExternal, "linear api returned %s", resp.Status)
	}

	var parsed struct {
		Data struct {
			Issues struct {
				Nodes []struct {
					Comments struct {
						Nodes []linearComment `json:"nodes"`
					} `json:"comments"`
				} `json:"nodes"`
			} `json:"issues"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindExternal, "decode linear response")
	}

	var out []linearComment
	for _, issue := range parsed.Data.Issues.Nodes {
		out = append(out, issue.Comments.Nodes...)
	}
	return out, nil
}
