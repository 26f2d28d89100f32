package testutil

import (
	"time"

	"github.com/hupe1980/parley/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewMessageBuilder(conv.ID).Sender("agent-b").Content("hello").FollowUp().Build()
type MessageBuilder struct {
	conversationID string
	id             string
	senderID       string
	content        string
	sentAt         *time.Time
	followUp       bool
}

// NewMessageBuilder creates a builder for a message in the given conversation
// with default sender "agent" and content "hello".
func NewMessageBuilder(conversationID string) *MessageBuilder {
	return &MessageBuilder{conversationID: conversationID, senderID: "agent", content: "hello"}
}

// ID overrides the auto-generated message ID (chainable). Use to exercise
// duplicate-delivery paths.
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.id = id; return b }

// Sender sets the sending agent (chainable).
func (b *MessageBuilder) Sender(agentID string) *MessageBuilder { b.senderID = agentID; return b }

// Content sets the message body (chainable).
func (b *MessageBuilder) Content(text string) *MessageBuilder { b.content = text; return b }

// SentAt pins the send timestamp (chainable).
func (b *MessageBuilder) SentAt(t time.Time) *MessageBuilder { b.sentAt = &t; return b }

// FollowUp marks the message as a reactive continuation (chainable).
func (b *MessageBuilder) FollowUp() *MessageBuilder { b.followUp = true; return b }

// Build constructs the core.Message value.
func (b *MessageBuilder) Build() core.Message {
	msg := core.NewMessage(b.conversationID, b.senderID, b.content)
	if b.id != "" {
		msg.ID = b.id
	}
	if b.sentAt != nil {
		msg.SentAt = *b.sentAt
	}
	msg.IsFollowUp = b.followUp
	return msg
}
