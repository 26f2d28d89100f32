package core

import "fmt"

var (
	// ErrConflict is returned when creating a conversation for a group that
	// already has an ACTIVE one. Expected under concurrency: both the
	// scheduler and the inbound-message path may race to create, and exactly
	// one wins.
	ErrConflict = fmt.Errorf("conversation already active")

	// ErrNotFound is returned when an operation references an unknown
	// conversation, participant or topic.
	ErrNotFound = fmt.Errorf("record not found")

	// ErrNoTopicAvailable is returned by topic selection when neither a known
	// topic nor a generated fallback could be produced. This is a
	// configuration-level condition; scheduling cycles skip and continue.
	ErrNoTopicAvailable = fmt.Errorf("no topic available")
)
