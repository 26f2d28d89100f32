package testutil

import (
	"time"

	"github.com/hupe1980/parley/core"
)

// TopicBuilder provides a fluent helper for constructing topics in tests.
// Example:
//
//	topic := NewTopicBuilder("g1", "observability").Interest("me", 0.9).Build()
type TopicBuilder struct {
	groupID       string
	id            string
	name          string
	keywords      []string
	interest      map[string]float64
	lastDiscussed *time.Time
}

// NewTopicBuilder creates a builder for a topic scoped to the given group.
func NewTopicBuilder(groupID, name string) *TopicBuilder {
	return &TopicBuilder{groupID: groupID, name: name, interest: map[string]float64{}}
}

// ID overrides the auto-generated topic ID (chainable). Use mainly in tests
// where determinism matters.
func (b *TopicBuilder) ID(id string) *TopicBuilder { b.id = id; return b }

// Keywords appends keywords to the topic (chainable).
func (b *TopicBuilder) Keywords(kw ...string) *TopicBuilder {
	b.keywords = append(b.keywords, kw...)
	return b
}

// Interest sets one agent's interest score (chainable).
func (b *TopicBuilder) Interest(agentID string, score float64) *TopicBuilder {
	b.interest[agentID] = score
	return b
}

// LastDiscussed pins the last-discussed timestamp (chainable).
func (b *TopicBuilder) LastDiscussed(t time.Time) *TopicBuilder {
	b.lastDiscussed = &t
	return b
}

// Build constructs the core.Topic value.
func (b *TopicBuilder) Build() core.Topic {
	topic := core.NewTopic(b.groupID, b.name)
	if b.id != "" {
		topic.ID = b.id
	}
	topic.Keywords = append(topic.Keywords, b.keywords...)
	for agent, score := range b.interest {
		topic.AgentInterest[agent] = score
	}
	if b.lastDiscussed != nil {
		topic.LastDiscussedAt = b.lastDiscussed
	}
	return topic
}
