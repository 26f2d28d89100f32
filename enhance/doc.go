// Package enhance provides core.TextEnhancer implementations.
//
// The Static enhancer is deterministic and offline, suitable for tests,
// examples and deployments without a language model. LLM-backed enhancers
// live in the enhance/anthropic and enhance/openai subpackages behind the
// same interface, so the scheduler never knows which one it talks to.
package enhance
