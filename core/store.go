package core

import "time"

// Store persists conversations, participants, messages and topics and
// enforces the data invariants that the coordination layers build on.
//
// Contract:
//   - CreateConversation fails with ErrConflict if an ACTIVE conversation
//     already exists for the same group. The check and the insert happen
//     under the store's own per-group synchronization (transactional, not
//     check-then-act) so concurrent creators cannot both win.
//   - RecordMessage fails with ErrNotFound for an unknown conversation.
//     Recording an already-known message id is an idempotent no-op
//     (recorded=false) because delivery may be at-least-once. On an ACTIVE
//     conversation a recorded message also advances MessageCount and
//     LastActivity and upserts the sender's participant row in the same
//     atomic step; on an ENDED conversation the message is appended as
//     history only.
//   - EndConversation is idempotent on already-ENDED conversations and
//     fails with ErrNotFound for unknown ids.
//   - AddParticipant is an idempotent join: an existing (conversation,
//     agent) row is left untouched.
//   - All writes are atomic with respect to a single group; writes for
//     different groups never block each other.
//
// Read methods return defensive copies; callers may retain and mutate them
// freely.
type Store interface {
	CreateConversation(conv Conversation) (string, error)
	Conversation(id string) (Conversation, error)
	GroupConversations(groupID string) ([]Conversation, error)
	ActiveConversations(groupID string) ([]Conversation, error)
	EndConversation(id string, reason EndReason) error

	RecordMessage(msg Message) (bool, error)
	Messages(conversationID string) ([]Message, error)

	AddParticipant(conversationID string, p Participant) error
	Participant(conversationID, agentID string) (Participant, error)
	Participants(conversationID string) ([]Participant, error)

	UpsertTopic(t Topic) error
	Topics(groupID string) ([]Topic, error)
}

// GroupSnapshot is a read-only diagnostic view of one group's coordination
// state, assembled from store queries plus the engine's cached peer roster.
type GroupSnapshot struct {
	GroupID      string         `json:"group_id"`
	TakenAt      time.Time      `json:"taken_at"`
	Active       *Conversation  `json:"active,omitempty"`
	Messages     []Message      `json:"messages,omitempty"`
	Participants []Participant  `json:"participants,omitempty"`
	Recent       []Conversation `json:"recent,omitempty"`
	Topics       []Topic        `json:"topics,omitempty"`
	Peers        []string       `json:"peers,omitempty"`
}
