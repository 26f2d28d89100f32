package core

import (
	"time"
)

// Status enumerates the lifecycle states of a conversation. The absence of a
// record is the implicit initial state; once created a conversation is ACTIVE
// and the only further transition is to the terminal ENDED state.
type Status string

const (
	// StatusActive marks a conversation that is accepting messages.
	StatusActive Status = "active"

	// StatusEnded marks a terminal conversation. Late-arriving duplicate
	// messages are still absorbed idempotently but never reopen it.
	StatusEnded Status = "ended"
)

// EndReason records why a conversation transitioned to ENDED. Exactly one
// reason is stored with the terminal record.
type EndReason string

const (
	// EndReasonInactivity indicates no message arrived within the configured
	// inactivity window.
	EndReasonInactivity EndReason = "inactivity"

	// EndReasonMessageCap indicates the message ceiling was reached.
	EndReasonMessageCap EndReason = "message-cap"

	// EndReasonSignal indicates an explicit end signal from the caller, e.g.
	// detected topic exhaustion or an operator action.
	EndReasonSignal EndReason = "signal"
)

// Conversation is a bounded exchange around one topic within a group.
//
// Contract:
//   - At most one conversation with StatusActive exists per GroupID at any
//     instant; the store enforces this transactionally.
//   - MessageCount and LastActivity advance only while the conversation is
//     ACTIVE; EndedAt and EndReason are set exactly once on ending.
//   - Instances returned by stores are defensive copies safe to retain.
type Conversation struct {
	ID           string     `json:"id"`
	GroupID      string     `json:"group_id"`
	Status       Status     `json:"status"`
	Topic        string     `json:"topic"`
	InitiatedBy  string     `json:"initiated_by"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	EndReason    EndReason  `json:"end_reason,omitempty"`
	MessageCount int        `json:"message_count"`
	LastActivity time.Time  `json:"last_activity"`
}

// NewConversation creates an ACTIVE conversation for the given group with a
// fresh id and current timestamps.
func NewConversation(groupID, initiatedBy, topic string) Conversation {
	now := time.Now().UTC()
	return Conversation{
		ID:           NewID(),
		GroupID:      groupID,
		Status:       StatusActive,
		Topic:        topic,
		InitiatedBy:  initiatedBy,
		StartedAt:    now,
		LastActivity: now,
	}
}

// Active reports whether the conversation is still accepting messages.
func (c Conversation) Active() bool { return c.Status == StatusActive }

// Ended reports whether the conversation reached its terminal state.
func (c Conversation) Ended() bool { return c.Status == StatusEnded }

// Clone returns a deep copy safe for independent mutation (the EndedAt
// pointer is the only aliased field).
func (c Conversation) Clone() Conversation {
	clone := c
	if c.EndedAt != nil {
		t := *c.EndedAt
		clone.EndedAt = &t
	}
	return clone
}

// Participant tracks one agent's involvement in one conversation. Identity is
// the (ConversationID, AgentID) pair; rows are created on first join or
// tagging, updated on every message from that agent, and never deleted.
type Participant struct {
	ConversationID string    `json:"conversation_id"`
	AgentID        string    `json:"agent_id"`
	JoinedAt       time.Time `json:"joined_at"`
	MessageCount   int       `json:"message_count"`
	LastActiveAt   time.Time `json:"last_active_at"`
}

// NewParticipant creates a participant row with a current join timestamp and
// zero message count.
func NewParticipant(conversationID, agentID string) Participant {
	now := time.Now().UTC()
	return Participant{
		ConversationID: conversationID,
		AgentID:        agentID,
		JoinedAt:       now,
		LastActiveAt:   now,
	}
}

// Message is one append-only, immutable entry in a conversation. IsFollowUp
// distinguishes reactive continuations from original posts (a kickstart
// opening has IsFollowUp=false).
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sent_at"`
	IsFollowUp     bool      `json:"is_follow_up"`
}

// NewMessage creates a message with a fresh id and current timestamp. Callers
// set IsFollowUp according to how the message originated.
func NewMessage(conversationID, senderID, content string) Message {
	return Message{
		ID:             NewID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		SentAt:         time.Now().UTC(),
	}
}

// Topic is a discussion subject known within a group. AgentInterest maps
// agent ids to interest scores in [0,1]; the selector refreshes
// LastDiscussedAt whenever the topic is chosen.
type Topic struct {
	ID              string             `json:"id"`
	GroupID         string             `json:"group_id"`
	Name            string             `json:"name"`
	Keywords        []string           `json:"keywords,omitempty"`
	LastDiscussedAt *time.Time         `json:"last_discussed_at,omitempty"`
	AgentInterest   map[string]float64 `json:"agent_interest,omitempty"`
}

// NewTopic creates a topic scoped to a group with a fresh id and empty
// keyword/interest sets.
func NewTopic(groupID, name string) Topic {
	return Topic{
		ID:            NewID(),
		GroupID:       groupID,
		Name:          name,
		Keywords:      []string{},
		AgentInterest: map[string]float64{},
	}
}

// InterestOf returns the interest score recorded for the given agent, zero
// when unknown.
func (t Topic) InterestOf(agentID string) float64 {
	if t.AgentInterest == nil {
		return 0
	}
	return t.AgentInterest[agentID]
}

// Clone returns a deep copy of the topic (keywords slice and interest map)
// safe for independent mutation.
func (t Topic) Clone() Topic {
	clone := t
	if t.Keywords != nil {
		clone.Keywords = make([]string, len(t.Keywords))
		copy(clone.Keywords, t.Keywords)
	}
	if t.AgentInterest != nil {
		clone.AgentInterest = make(map[string]float64, len(t.AgentInterest))
		for k, v := range t.AgentInterest {
			clone.AgentInterest[k] = v
		}
	}
	if t.LastDiscussedAt != nil {
		ts := *t.LastDiscussedAt
		clone.LastDiscussedAt = &ts
	}
	return clone
}
