// Package anthropic provides a text enhancer backed by the Anthropic Claude API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hupe1980/parley/core"
)

const (
	refineTopicSystem = "You rephrase discussion topics. Reply with a single natural phrasing of the given topic, under 12 words. No quotes, no explanations."

	enhanceMessageSystem = "You polish chat messages for a group channel. Reply with the improved message only, keeping all @mentions, the meaning and roughly the length. No quotes, no explanations."

	generateTopicSystem = "You suggest conversation topics for a group of colleagues. Reply with exactly one engaging discussion topic as a short phrase, under 12 words. No quotes, no explanations."
)

// Options configures the Anthropic enhancer (model id, temperature, max
// tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Enhancer implements core.TextEnhancer on the Anthropic Messages API.
type Enhancer struct {
	client *anthropic.Client
	opts   Options
}

var _ core.TextEnhancer = (*Enhancer)(nil)

// New creates a new Anthropic enhancer using the official client
func New(optFns ...func(o *Options)) *Enhancer {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   256,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Enhancer{
		client: &client,
		opts:   opts,
	}
}

// NewFromClient creates a new Anthropic enhancer from an existing client
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Enhancer {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   256,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Enhancer{
		client: client,
		opts:   opts,
	}
}

// RefineTopic rephrases a raw topic into a natural short phrase.
func (e *Enhancer) RefineTopic(ctx context.Context, raw string) (string, error) {
	return e.complete(ctx, refineTopicSystem, raw)
}

// EnhanceMessage polishes an outgoing message while preserving mentions.
func (e *Enhancer) EnhanceMessage(ctx context.Context, raw string) (string, error) {
	return e.complete(ctx, enhanceMessageSystem, raw)
}

// GenerateTopic produces a fresh discussion topic.
func (e *Enhancer) GenerateTopic(ctx context.Context) (string, error) {
	return e.complete(ctx, generateTopicSystem, "Suggest one discussion topic.")
}

// complete runs a single system+user exchange and returns the concatenated
// text blocks of the reply.
func (e *Enhancer) complete(ctx context.Context, system, user string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       e.opts.Model,
		MaxTokens:   e.opts.MaxTokens,
		Temperature: anthropic.Float(e.opts.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}

	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder

	for _, block := range resp.Content {
		if block.Type == "text" {
			textBlock := block.AsText()
			sb.WriteString(textBlock.Text)
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("empty completion")
	}

	return text, nil
}
