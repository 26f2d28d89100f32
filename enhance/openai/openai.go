// Package openai provides a text enhancer backed by the OpenAI Chat
// Completions API.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/parley/core"
	"github.com/openai/openai-go"
)

const (
	refineTopicSystem = "You rephrase discussion topics. Reply with a single natural phrasing of the given topic, under 12 words. No quotes, no explanations."

	enhanceMessageSystem = "You polish chat messages for a group channel. Reply with the improved message only, keeping all @mentions, the meaning and roughly the length. No quotes, no explanations."

	generateTopicSystem = "You suggest conversation topics for a group of colleagues. Reply with exactly one engaging discussion topic as a short phrase, under 12 words. No quotes, no explanations."
)

// Options configure the OpenAI enhancer.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Enhancer implements core.TextEnhancer on the OpenAI Chat Completions API.
type Enhancer struct {
	client *openai.Client
	opts   Options
}

var _ core.TextEnhancer = (*Enhancer)(nil)

// New creates a new OpenAI enhancer using the official client
func New(optFns ...func(o *Options)) *Enhancer {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI enhancer from an existing client
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Enhancer {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 256,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Enhancer{client: client, opts: opts}
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

// complete runs a single system+user exchange and returns the first choice's
// text.
func (e *Enhancer) complete(ctx context.Context, system, user string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model:               e.opts.Model,
		Temperature:         openai.Float(e.opts.Temperature),
		MaxCompletionTokens: openai.Int(e.opts.MaxCompletionTokens),
	}

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty completion")
	}

	return text, nil
}
