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

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/conductorhq/conductor/internal/apperrors"
)

// Anthropic invokes Claude directly via the official SDK. It is one of
// two interchangeable concrete Builders (the other is Bedrock); neither
// the Worker nor the orchestrator core distinguishes between them beyond
// the Builder interface.
type Anthropic struct {
	client *anthropic.Client
	model  anthropic.Model

	mu        sync.Mutex
	lastUsage Usage
}

var (
	_ Builder       = (*Anthropic)(nil)
	_ UsageReporter = (*Anthropic)(nil)
)

func NewAnthropic(apiKey string, model anthropic.Model) *Anthropic {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Anthropic{client: &client, model: model}
}

func (a *Anthropic) Invoke(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.KindExternal, "anthropic invoke")
	}

	a.mu.Lock()
	a.lastUsage = Usage{TokensIn: resp.Usage.InputTokens, TokensOut: resp.Usage.OutputTokens}
	a.mu.Unlock()

	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}

func (a *Anthropic) LastUsage() Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastUsage
}
