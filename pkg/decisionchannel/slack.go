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
	"context"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Slack polls a channel's message history for replies shaped like
// "decision <id>: <answer>", posted by a human after NotifyDecisionNeeded
// announced the question. It shares the underlying client type with
// notify.SlackNotifier but owns its own poll loop and read cursor.
type Slack struct {
	client   *slack.Client
	channel  string
	answerer Answerer
	interval time.Duration
	logger   *zap.Logger

	oldest string
}

var _ Channel = (*Slack)(nil)

func NewSlack(token, channel string, answerer Answerer, interval time.Duration, logger *zap.Logger) *Slack {
	return &Slack{
		client:   slack.New(token),
		channel:  channel,
		answerer: answerer,
		interval: interval,
		logger:   logger,
		oldest:   "0",
	}
}

func (s *Slack) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Slack) poll(ctx context.Context) {
	hist, err := s.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: s.channel,
		Oldest:    s.oldest,
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("slack decision poll failed", zap.Error(err))
		}
		return
	}

	for i := len(hist.Messages) - 1; i >= 0; i-- {
		msg := hist.Messages[i]
		if msg.Timestamp > s.oldest {
			s.oldest = msg.Timestamp
		}
		id, answer, ok := parseDecisionReply(msg.Text)
		if !ok {
			continue
		}
		if err := s.answerer.Answer(id, answer, msg.User); err != nil && s.logger != nil {
			s.logger.Warn("decision answer rejected", zap.String("decision", id), zap.Error(err))
		}
	}
}

// parseDecisionReply recognizes "decision <id>: <answer>" (case
// insensitive prefix), the reply format NotifyDecisionNeeded's Slack
// message asks a human to use.
func parseDecisionReply(text string) (id, answer string, ok bool) {
	const prefix = "decision "
	lower := strings.ToLower(text)
	if !strings.HasPrefix(lower, prefix) {
		return "", "", false
	}
	rest := text[len(prefix):]
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}
