package testutil

import (
	"time"

	"github.com/hupe1980/parley/core"
)

// ConversationBuilder provides a fluent helper for constructing conversations
// in tests. Example:
//
//	conv := NewConversationBuilder("g1").Topic("deploys").IdleFor(time.Hour).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type ConversationBuilder struct {
	groupID      string
	id           string
	topic        string
	initiatedBy  string
	startedAt    *time.Time
	lastActivity *time.Time
	messageCount int
	ended        bool
	endReason    core.EndReason
}

// NewConversationBuilder creates a builder for a conversation in the given
// group with default initiator "agent" and topic "test topic".
func NewConversationBuilder(groupID string) *ConversationBuilder {
	return &ConversationBuilder{groupID: groupID, initiatedBy: "agent", topic: "test topic"}
}

// ID overrides the auto-generated conversation ID (chainable). Use mainly in
// tests where determinism matters.
func (b *ConversationBuilder) ID(id string) *ConversationBuilder { b.id = id; return b }

// Topic sets the conversation topic (chainable).
func (b *ConversationBuilder) Topic(name string) *ConversationBuilder { b.topic = name; return b }

// InitiatedBy sets the initiating agent (chainable).
func (b *ConversationBuilder) InitiatedBy(agentID string) *ConversationBuilder {
	b.initiatedBy = agentID
	return b
}

// StartedAt pins the start timestamp (chainable). LastActivity follows unless
// set explicitly.
func (b *ConversationBuilder) StartedAt(t time.Time) *ConversationBuilder {
	b.startedAt = &t
	return b
}

// LastActivity pins the last-activity timestamp (chainable).
func (b *ConversationBuilder) LastActivity(t time.Time) *ConversationBuilder {
	b.lastActivity = &t
	return b
}

// IdleFor backdates LastActivity by the given duration from now (chainable).
// Handy for seeding conversations that have exceeded an inactivity window.
func (b *ConversationBuilder) IdleFor(d time.Duration) *ConversationBuilder {
	t := time.Now().UTC().Add(-d)
	b.lastActivity = &t
	return b
}

// Messages seeds the message counter without creating message rows (chainable).
func (b *ConversationBuilder) Messages(n int) *ConversationBuilder { b.messageCount = n; return b }

// Ended marks the conversation terminal with the given reason (chainable).
// EndedAt is derived from the final LastActivity.
func (b *ConversationBuilder) Ended(reason core.EndReason) *ConversationBuilder {
	b.ended = true
	b.endReason = reason
	return b
}

// Build constructs the core.Conversation value.
func (b *ConversationBuilder) Build() core.Conversation {
	conv := core.NewConversation(b.groupID, b.initiatedBy, b.topic)
	if b.id != "" {
		conv.ID = b.id
	}
	if b.startedAt != nil {
		conv.StartedAt = *b.startedAt
		conv.LastActivity = *b.startedAt
	}
	if b.lastActivity != nil {
		conv.LastActivity = *b.lastActivity
	}
	conv.MessageCount = b.messageCount
	if b.ended {
		conv.Status = core.StatusEnded
		conv.EndReason = b.endReason
		endedAt := conv.LastActivity
		conv.EndedAt = &endedAt
	}
	return conv
}
