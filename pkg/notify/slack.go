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

package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/conductorhq/conductor/internal/apperrors"
	"github.com/slack-go/slack"
)

// SlackNotifier posts each notification as a message to a single Slack
// channel. It is the concrete Notifier the spec's narrative example
// ("Slack message") maps onto. It posts the decision question;
// DecisionChannel's Slack implementation uses its own client of the same
// type to read the answer back from the channel history.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

var _ Notifier = (*SlackNotifier)(nil)

func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{client: slack.New(token), channel: channel}
}

func (n *SlackNotifier) post(ctx context.Context, text string) error {
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindExternal, "post slack message")
	}
	return nil
}

func (n *SlackNotifier) NotifyStarted(ctx context.Context) error {
	return n.post(ctx, "conductor: orchestration run started")
}

func (n *SlackNotifier) NotifyClaimed(ctx context.Context, featureID, workerID string) error {
	return n.post(ctx, fmt.Sprintf("conductor: `%s` claimed by `%s`", featureID, workerID))
}

func (n *SlackNotifier) NotifyCompleted(ctx context.Context, featureID, prURL string) error {
	msg := fmt.Sprintf("conductor: `%s` completed", featureID)
	if prURL != "" {
		msg += " — " + prURL
	}
	return n.post(ctx, msg)
}

func (n *SlackNotifier) NotifyBlocked(ctx context.Context, featureID, reason string) error {
	return n.post(ctx, fmt.Sprintf("conductor: `%s` blocked — %s", featureID, reason))
}

func (n *SlackNotifier) NotifyDecisionNeeded(ctx context.Context, decisionID, question string, options []string) error {
	return n.post(ctx, fmt.Sprintf("conductor: decision `%s` needed — %s (options: %s)", decisionID, question, strings.Join(options, ", ")))
}

func (n *SlackNotifier) NotifyProgress(ctx context.Context, counts ProgressCounts) error {
	return n.post(ctx, fmt.Sprintf("conductor: progress pending=%d in_progress=%d completed=%d blocked=%d",
		counts.Pending, counts.InProgress, counts.Completed, counts.Blocked))
}

func (n *SlackNotifier) NotifyCost(ctx context.Context, amount, cap float64) error {
	return n.post(ctx, fmt.Sprintf("conductor: daily cost $%.2f of $%.2f cap", amount, cap))
}
