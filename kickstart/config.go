package kickstart

import "time"

// Config tunes kickstart behavior for a single group.
//
// The scheduler consumes a Config as an immutable snapshot per cycle:
// Register replaces a group's snapshot atomically, and a cycle that is already
// running finishes under the snapshot it started with. Nothing mutates a
// Config in place.
type Config struct {
	// MinInterval is the hard floor between two kickstart attempts for the
	// same group. A forced kickstart counts as an attempt, so a scheduled
	// wake-up landing inside the floor reschedules without acting.
	MinInterval time.Duration

	// MaxInterval bounds the random delay drawn for the next cycle. The delay
	// is uniform in [MinInterval, MaxInterval] so groups drift apart instead
	// of waking in synchronized bursts.
	MaxInterval time.Duration

	// ProbabilityFactor in [0,1] is the chance an unforced wake-up proceeds
	// past the probability gate. 0 disables unforced kickstarts entirely,
	// 1 lets every wake-up proceed.
	ProbabilityFactor float64

	// MaxActiveConversations caps how many ACTIVE conversations the group may
	// hold before unforced kickstarts skip. An attempt is rejected when the
	// active count is at or above the cap, so zero disables unforced
	// kickstarts entirely. Forced kickstarts bypass the gate; the store's
	// single-ACTIVE rule still applies either way.
	MaxActiveConversations int

	// TagAgents controls whether opening messages mention sampled peers.
	TagAgents bool

	// MaxAgentsToTag bounds the uniform random peer sample mentioned in an
	// opening message. The actual count is drawn from 0..MaxAgentsToTag.
	MaxAgentsToTag int

	// PersistConversations controls whether a successful kickstart records
	// the opening message and the tagged peers in the store. When false the
	// conversation record itself is still created.
	PersistConversations bool
}

// DefaultConfig returns the tuning applied when a group registers without
// overrides: attempts between 15 minutes and 2 hours apart, a 30% chance per
// wake-up, a single active conversation, up to 2 tagged peers, and full
// persistence.
func DefaultConfig() Config {
	return Config{
		MinInterval:            15 * time.Minute,
		MaxInterval:            2 * time.Hour,
		ProbabilityFactor:      0.3,
		MaxActiveConversations: 1,
		TagAgents:              true,
		MaxAgentsToTag:         2,
		PersistConversations:   true,
	}
}

// normalized clamps a Config into its valid domain once at registration so
// cycles never have to defend against nonsensical values.
func (c Config) normalized() Config {
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}

	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = c.MinInterval
	}

	if c.ProbabilityFactor < 0 {
		c.ProbabilityFactor = 0
	}

	if c.ProbabilityFactor > 1 {
		c.ProbabilityFactor = 1
	}

	if c.MaxActiveConversations < 0 {
		c.MaxActiveConversations = 0
	}

	if c.MaxAgentsToTag < 0 {
		c.MaxAgentsToTag = 0
	}

	return c
}
