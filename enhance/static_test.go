package enhance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Static Enhancer Test Cases

func TestNewStatic(t *testing.T) {
	s := NewStatic()

	topic, err := s.GenerateTopic(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, DefaultTopics[0], topic)
}

func TestStatic_GenerateTopicRotation(t *testing.T) {
	s := NewStatic("alpha", "beta")

	ctx := context.Background()

	for _, want := range []string{"alpha", "beta", "alpha", "beta"} {
		topic, err := s.GenerateTopic(ctx)
		assert.NoError(t, err)
		assert.Equal(t, want, topic)
	}
}

func TestStatic_RefineTopic(t *testing.T) {
	s := NewStatic()

	refined, err := s.RefineTopic(context.Background(), "  coffee brewing. ")
	assert.NoError(t, err)
	assert.Equal(t, "Coffee brewing", refined)

	_, err = s.RefineTopic(context.Background(), "   ")
	assert.Error(t, err)
}

func TestStatic_RefineTopicCanned(t *testing.T) {
	s := NewStatic()
	s.AddRefinement("q3 okrs", "How the Q3 OKRs are shaping up")

	refined, err := s.RefineTopic(context.Background(), "q3 okrs")
	assert.NoError(t, err)
	assert.Equal(t, "How the Q3 OKRs are shaping up", refined)

	// Unregistered phrases still normalize.
	refined, err = s.RefineTopic(context.Background(), "q4 okrs")
	assert.NoError(t, err)
	assert.Equal(t, "Q4 okrs", refined)
}

func TestStatic_EnhanceMessagePassthrough(t *testing.T) {
	s := NewStatic()

	msg := "@alice let's talk about coffee brewing."
	enhanced, err := s.EnhanceMessage(context.Background(), msg)
	assert.NoError(t, err)
	assert.Equal(t, msg, enhanced)
}
