package core

import (
	"time"

	"github.com/google/uuid"
)

// InboundMessage is the structured form of a message that arrived from the
// relay. Mention/tag detection is assumed already performed by the adapter
// feeding this event; Tags holds the mentioned agent ids. ID carries the
// transport's message reference when available so duplicate deliveries
// collapse onto one record; a fresh id is assigned when empty.
type InboundMessage struct {
	ID       string    `json:"id,omitempty"`
	GroupID  string    `json:"group_id"`
	SenderID string    `json:"sender_id"`
	Text     string    `json:"text"`
	Tags     []string  `json:"tags,omitempty"`
	SentAt   time.Time `json:"sent_at,omitempty"`
}

// NewInboundMessage creates an inbound message event with a fresh id and
// current timestamp. Adapters that know the transport reference should set ID
// themselves instead.
func NewInboundMessage(groupID, senderID, text string, tags ...string) InboundMessage {
	return InboundMessage{
		ID:       NewID(),
		GroupID:  groupID,
		SenderID: senderID,
		Text:     text,
		Tags:     tags,
		SentAt:   time.Now().UTC(),
	}
}

// RosterChange signals that the set of reachable peers for a group changed.
// PeerIDs is the complete new roster, not a delta.
type RosterChange struct {
	GroupID string   `json:"group_id"`
	PeerIDs []string `json:"peer_ids"`
}

// NewID generates a new unique identifier for conversations, messages and
// topics.
//
// Returns a string representation of a new UUID.
func NewID() string { return uuid.NewString() }
