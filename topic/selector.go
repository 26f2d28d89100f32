package topic

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/logging"
)

const (
	// DefaultTopK bounds the randomized pick to the four highest ranked
	// topics unless configured otherwise.
	DefaultTopK = 4

	// GeneratedInterestPrior is the self-interest score attached to a
	// freshly generated topic: presumed relevant, but not a certainty.
	GeneratedInterestPrior = 0.8
)

// Options configures a Selector.
type Options struct {
	// TopK bounds the randomized pick to the K highest ranked topics. Values
	// below one fall back to DefaultTopK.
	TopK int

	// Rand drives the pick among the top ranked topics. Seeding it makes
	// selection reproducible; nil seeds from the clock.
	Rand *rand.Rand

	// Enhancer synthesizes a topic when the group has none on file. Leaving
	// it nil makes an empty topic list surface core.ErrNoTopicAvailable.
	Enhancer core.TextEnhancer

	// Logger receives selection events. Defaults to the no-op logger.
	Logger logging.Logger
}

// Selector picks the topic a kickstart opens with.
//
// Known topics are ranked by the selecting agent's interest score
// (descending); ties prefer the least recently discussed topic, then the
// lexicographically smaller name. The final pick is randomized among the
// top-K ranks so consecutive kickstarts do not repeat the same topic
// deterministically. Choosing a topic refreshes its LastDiscussedAt in the
// store.
//
// Select never returns an empty topic: when the group has no topics it falls
// back to the enhancer's generation hook, and only when that too is
// unavailable does it fail with core.ErrNoTopicAvailable.
type Selector struct {
	store    core.Store
	enhancer core.TextEnhancer
	topK     int
	logger   logging.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Selector reading and updating topics through the store.
func New(store core.Store, optFns ...func(o *Options)) *Selector {
	opts := Options{
		TopK:   DefaultTopK,
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.TopK < 1 {
		opts.TopK = DefaultTopK
	}

	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Selector{
		store:    store,
		enhancer: opts.Enhancer,
		topK:     opts.TopK,
		logger:   opts.Logger,
		rng:      opts.Rand,
	}
}

// Select returns the topic the given agent should open a conversation with
// in the group. It fails with core.ErrNoTopicAvailable when the group has no
// topics and none can be generated.
func (s *Selector) Select(ctx context.Context, groupID, agentID string) (core.Topic, error) {
	topics, err := s.store.Topics(groupID)
	if err != nil {
		return core.Topic{}, err
	}

	if len(topics) == 0 {
		return s.generate(ctx, groupID, agentID)
	}

	sort.SliceStable(topics, func(i, j int) bool {
		si, sj := topics[i].InterestOf(agentID), topics[j].InterestOf(agentID)
		if si != sj {
			return si > sj
		}
		if c := compareDiscussed(topics[i].LastDiscussedAt, topics[j].LastDiscussedAt); c != 0 {
			return c < 0
		}
		return topics[i].Name < topics[j].Name
	})

	k := s.topK
	if k > len(topics) {
		k = len(topics)
	}

	pick := topics[s.intn(k)]

	now := time.Now().UTC()
	pick.LastDiscussedAt = &now
	if err := s.store.UpsertTopic(pick); err != nil {
		return core.Topic{}, err
	}

	s.logger.Debug("topic selected group_id=%s topic=%q generated=false", groupID, pick.Name)

	return pick, nil
}

// generate synthesizes a topic through the enhancer, records the fixed
// self-interest prior for the requesting agent and persists it.
func (s *Selector) generate(ctx context.Context, groupID, agentID string) (core.Topic, error) {
	if s.enhancer == nil {
		return core.Topic{}, fmt.Errorf("group %s: %w", groupID, core.ErrNoTopicAvailable)
	}

	name, err := s.enhancer.GenerateTopic(ctx)
	if err != nil {
		s.logger.Warn("topic generation failed group_id=%s error=%v", groupID, err)
		return core.Topic{}, fmt.Errorf("group %s: %w", groupID, core.ErrNoTopicAvailable)
	}

	if name == "" {
		return core.Topic{}, fmt.Errorf("group %s: %w", groupID, core.ErrNoTopicAvailable)
	}

	t := core.NewTopic(groupID, name)
	t.AgentInterest[agentID] = GeneratedInterestPrior
	now := time.Now().UTC()
	t.LastDiscussedAt = &now

	if err := s.store.UpsertTopic(t); err != nil {
		return core.Topic{}, err
	}

	s.logger.Debug("topic selected group_id=%s topic=%q generated=true", groupID, t.Name)

	return t, nil
}

// compareDiscussed orders last-discussed timestamps oldest first, with nil
// (never discussed) ranking before everything.
func compareDiscussed(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case a.Before(*b):
		return -1
	case b.Before(*a):
		return 1
	default:
		return 0
	}
}

// intn draws from the selector's rng under its own lock; the selector is
// shared across per-group scheduler loops.
func (s *Selector) intn(n int) int {
	if n <= 1 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}
