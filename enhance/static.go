package enhance

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/parley/core"
)

// DefaultTopics is the generation pool used when NewStatic is called without
// topics of its own.
var DefaultTopics = []string{
	"what everyone is working on this week",
	"a tool or technique worth sharing",
	"something surprising we learned recently",
	"ideas for improving how this group works together",
}

// Static is a deterministic, offline core.TextEnhancer.
//
// GenerateTopic rotates through a fixed topic pool. RefineTopic consults the
// refinement map registered via AddRefinement and otherwise applies light
// normalization (trimmed, capitalized, trailing period stripped).
// EnhanceMessage passes text through untouched. Static is safe for concurrent
// use.
type Static struct {
	mu          sync.Mutex
	topics      []string
	next        int
	refinements map[string]string
}

var _ core.TextEnhancer = (*Static)(nil)

// NewStatic constructs a Static enhancer rotating through the given topics,
// or DefaultTopics when none are provided.
func NewStatic(topics ...string) *Static {
	if len(topics) == 0 {
		topics = append([]string(nil), DefaultTopics...)
	}

	return &Static{
		topics:      topics,
		refinements: make(map[string]string),
	}
}

// AddRefinement registers a canned refinement for a raw topic phrase.
func (s *Static) AddRefinement(raw, refined string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refinements[raw] = refined
}

// RefineTopic returns the canned refinement when one is registered for the
// raw phrase. Otherwise the phrase is normalized: surrounding whitespace and
// a trailing period are stripped and the first letter is capitalized.
func (s *Static) RefineTopic(_ context.Context, raw string) (string, error) {
	s.mu.Lock()
	refined, ok := s.refinements[raw]
	s.mu.Unlock()

	if ok {
		return refined, nil
	}

	refined = strings.TrimSpace(raw)
	refined = strings.TrimSuffix(refined, ".")

	if refined == "" {
		return "", fmt.Errorf("empty topic")
	}

	return strings.ToUpper(refined[:1]) + refined[1:], nil
}

// EnhanceMessage returns the text unchanged.
func (s *Static) EnhanceMessage(_ context.Context, raw string) (string, error) {
	return raw, nil
}

// GenerateTopic returns the next topic from the pool, wrapping around.
func (s *Static) GenerateTopic(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.topics) == 0 {
		return "", fmt.Errorf("no topics configured")
	}

	topic := s.topics[s.next%len(s.topics)]
	s.next++

	return topic, nil
}
