package kickstart

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/parley/conversation"
	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/store"
	"github.com/hupe1980/parley/topic"
)

// Test Helpers

// stubRelay is a scriptable core.RelayGateway recording every send.
type stubRelay struct {
	mu    sync.Mutex
	peers []string
	fail  error
	sends []string
}

var _ core.RelayGateway = (*stubRelay)(nil)

func (r *stubRelay) SendText(_ context.Context, _, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail != nil {
		return "", r.fail
	}

	r.sends = append(r.sends, text)

	return fmt.Sprintf("ref-%d", len(r.sends)), nil
}

func (r *stubRelay) Peers(string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.peers...)
}

func (r *stubRelay) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.sends...)
}

// attemptRecorder collects cycle outcomes via the OnAttempt hook.
type attemptRecorder struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (r *attemptRecorder) record(at Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts = append(r.attempts, at)
}

func (r *attemptRecorder) all() []Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Attempt(nil), r.attempts...)
}

// schedulerEnv wires a Scheduler to an in-memory store, a stub relay and an
// attempt recorder, all on seeded randomness.
type schedulerEnv struct {
	store *store.InMemoryStore
	relay *stubRelay
	rec   *attemptRecorder
	sched *Scheduler
}

func newSchedulerEnv(seed int64, peers []string, optFns ...func(o *Options)) *schedulerEnv {
	st := store.NewInMemoryStore()
	relay := &stubRelay{peers: peers}
	rec := &attemptRecorder{}

	manager := conversation.New(st)
	topics := topic.New(st, func(o *topic.Options) {
		o.Rand = rand.New(rand.NewSource(seed))
	})

	fns := append([]func(o *Options){func(o *Options) {
		o.Rand = rand.New(rand.NewSource(seed))
		o.OnAttempt = rec.record
	}}, optFns...)

	sched := New("self", manager, topics, relay, fns...)

	return &schedulerEnv{store: st, relay: relay, rec: rec, sched: sched}
}

// wake drives one timer expiry for the group without waiting for a real
// timer.
func (e *schedulerEnv) wake(t *testing.T, groupID string) {
	t.Helper()

	e.sched.mu.Lock()
	g, ok := e.sched.groups[groupID]
	e.sched.mu.Unlock()

	if !ok {
		t.Fatalf("group %s not registered", groupID)
	}

	e.sched.wake(context.Background(), g)
}

func (e *schedulerEnv) loop(t *testing.T, groupID string) *groupLoop {
	t.Helper()

	e.sched.mu.Lock()
	g, ok := e.sched.groups[groupID]
	e.sched.mu.Unlock()

	if !ok {
		t.Fatalf("group %s not registered", groupID)
	}

	return g
}

func (e *schedulerEnv) seedTopic(t *testing.T, groupID, name string, interest float64) {
	t.Helper()

	tp := core.NewTopic(groupID, name)
	tp.AgentInterest["self"] = interest

	assert.NoError(t, e.store.UpsertTopic(tp))
}

// eagerConfig makes every wake-up pass the probability gate with no delay
// between cycles.
func eagerConfig() Config {
	return Config{
		ProbabilityFactor:      1,
		MaxActiveConversations: 1,
		TagAgents:              true,
		MaxAgentsToTag:         2,
		PersistConversations:   true,
	}
}

// Config Test Cases

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Greater(t, cfg.MaxInterval, cfg.MinInterval)
	assert.GreaterOrEqual(t, cfg.ProbabilityFactor, 0.0)
	assert.LessOrEqual(t, cfg.ProbabilityFactor, 1.0)
	assert.Equal(t, 1, cfg.MaxActiveConversations)
	assert.True(t, cfg.TagAgents)
	assert.True(t, cfg.PersistConversations)
}

func TestConfigNormalized(t *testing.T) {
	cfg := Config{
		MinInterval:       time.Hour,
		MaxInterval:       time.Minute,
		ProbabilityFactor: 1.7,
		MaxAgentsToTag:    -3,
	}.normalized()

	assert.Equal(t, time.Hour, cfg.MinInterval)
	assert.Equal(t, time.Hour, cfg.MaxInterval)
	assert.Equal(t, 1.0, cfg.ProbabilityFactor)
	assert.Equal(t, 0, cfg.MaxAgentsToTag)

	cfg = Config{MinInterval: -time.Minute, ProbabilityFactor: -0.5, MaxActiveConversations: -2}.normalized()

	assert.Equal(t, time.Duration(0), cfg.MinInterval)
	assert.Equal(t, 0.0, cfg.ProbabilityFactor)
	assert.Equal(t, 0, cfg.MaxActiveConversations)
}

// Template Test Cases

func TestRenderOpening(t *testing.T) {
	first := func(int) int { return 0 }

	plain, err := renderOpening(first, "coffee brewing", nil)
	assert.NoError(t, err)
	assert.Contains(t, plain, "coffee brewing")
	assert.NotContains(t, plain, "@")

	tagged, err := renderOpening(first, "coffee brewing", []string{"alice", "bob"})
	assert.NoError(t, err)
	assert.Contains(t, tagged, "@alice @bob")
	assert.Contains(t, tagged, "coffee brewing")
}

// Scheduler Test Cases

func TestNewScheduler(t *testing.T) {
	env := newSchedulerEnv(1, nil)

	assert.False(t, env.sched.Registered("g1"))
	assert.Empty(t, env.sched.Groups())

	env.sched.Register("g1", DefaultConfig())

	assert.True(t, env.sched.Registered("g1"))
	assert.Equal(t, []string{"g1"}, env.sched.Groups())
}

func TestScheduler_ProbabilityConvergence(t *testing.T) {
	// With no peers a passing draw still creates nothing, so the pass rate
	// is visible purely through the recorded skip reasons.
	env := newSchedulerEnv(7, nil)
	env.sched.Register("g1", Config{ProbabilityFactor: 0.4, MaxActiveConversations: 1})

	const cycles = 2000
	for i := 0; i < cycles; i++ {
		env.wake(t, "g1")
	}

	attempts := env.rec.all()
	assert.Len(t, attempts, cycles)

	passed := 0

	for _, at := range attempts {
		switch at.SkipReason {
		case SkipProbability:
		case SkipNoPeers:
			passed++
		default:
			t.Fatalf("unexpected outcome: %+v", at)
		}
	}

	assert.InDelta(t, 0.4, float64(passed)/float64(cycles), 0.05)
}

func TestScheduler_RateFloorAfterForce(t *testing.T) {
	env := newSchedulerEnv(1, []string{"alice", "bob"})

	cfg := eagerConfig()
	cfg.MinInterval = time.Hour
	cfg.MaxInterval = 2 * time.Hour
	env.sched.Register("g1", cfg)
	env.seedTopic(t, "g1", "coffee brewing", 0.9)

	convID, err := env.sched.Force(context.Background(), "g1", "")
	assert.NoError(t, err)
	assert.NotEmpty(t, convID)

	// The wake lands inside the rate floor, so it reschedules without
	// spending an attempt.
	env.wake(t, "g1")

	attempts := env.rec.all()
	assert.Len(t, attempts, 1)
	assert.True(t, attempts[0].Forced)

	delay := env.sched.nextDelay(env.loop(t, "g1"))
	assert.Greater(t, delay, 59*time.Minute)
	assert.LessOrEqual(t, delay, time.Hour)
}

func TestScheduler_NextDelayWithinBounds(t *testing.T) {
	env := newSchedulerEnv(3, nil)
	env.sched.Register("g1", Config{MinInterval: 10 * time.Minute, MaxInterval: 20 * time.Minute})

	g := env.loop(t, "g1")

	for i := 0; i < 100; i++ {
		delay := env.sched.nextDelay(g)
		assert.GreaterOrEqual(t, delay, 10*time.Minute)
		assert.LessOrEqual(t, delay, 20*time.Minute)
	}
}

func TestScheduler_NextDelayFloorsZeroIntervals(t *testing.T) {
	env := newSchedulerEnv(3, nil)
	env.sched.Register("g1", Config{})

	g := env.loop(t, "g1")

	// A zero-valued config must not make the loop reschedule immediately.
	for i := 0; i < 50; i++ {
		assert.GreaterOrEqual(t, env.sched.nextDelay(g), minLoopDelay)
	}

	// The floor also covers the rate-floor remainder branch.
	g.markAttempt(time.Now())
	assert.GreaterOrEqual(t, env.sched.nextDelay(g), minLoopDelay)
}

func TestScheduler_SkipsAtActiveCap(t *testing.T) {
	env := newSchedulerEnv(1, []string{"alice"})
	env.sched.Register("g1", eagerConfig())
	env.seedTopic(t, "g1", "coffee brewing", 0.9)

	_, err := env.store.CreateConversation(core.NewConversation("g1", "alice", "ongoing"))
	assert.NoError(t, err)

	env.wake(t, "g1")

	attempts := env.rec.all()
	assert.Len(t, attempts, 1)
	assert.Equal(t, SkipActiveCap, attempts[0].SkipReason)

	convs, err := env.store.GroupConversations("g1")
	assert.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestScheduler_CapZeroDisablesUnforcedKickstarts(t *testing.T) {
	env := newSchedulerEnv(1, []string{"alice"})

	cfg := eagerConfig()
	cfg.MaxActiveConversations = 0
	env.sched.Register("g1", cfg)
	env.seedTopic(t, "g1", "coffee brewing", 0.9)

	// Zero active conversations is already at a cap of zero, so every
	// unforced wake-up skips before anything is created.
	for i := 0; i < 5; i++ {
		env.wake(t, "g1")
	}

	attempts := env.rec.all()
	assert.Len(t, attempts, 5)

	for _, at := range attempts {
		assert.Equal(t, SkipActiveCap, at.SkipReason)
		assert.Empty(t, at.ConversationID)
	}

	convs, err := env.store.GroupConversations("g1")
	assert.NoError(t, err)
	assert.Empty(t, convs)

	// Force bypasses the cap gate, so operators can still start one.
	convID, err := env.sched.Force(context.Background(), "g1", "")
	assert.NoError(t, err)
	assert.NotEmpty(t, convID)
}

func TestScheduler_AlwaysSkipsWithoutPeers(t *testing.T) {
	env := newSchedulerEnv(1, []string{"self"}) // roster lists only ourselves
	env.sched.Register("g1", eagerConfig())

	for i := 0; i < 20; i++ {
		env.wake(t, "g1")
	}

	attempts := env.rec.all()
	assert.Len(t, attempts, 20)

	for _, at := range attempts {
		assert.Equal(t, SkipNoPeers, at.SkipReason)
	}

	convs, err := env.store.GroupConversations("g1")
	assert.NoError(t, err)
	assert.Empty(t, convs)
}

func TestScheduler_KickstartCreatesConversation(t *testing.T) {
	env := newSchedulerEnv(1, []string{"alice", "bob", "carol"})
	env.sched.Register("g1", eagerConfig())
	env.seedTopic(t, "g1", "coffee brewing", 0.9)

	env.wake(t, "g1")

	attempts := env.rec.all()
	assert.Len(t, attempts, 1)

	at := attempts[0]
	assert.NoError(t, at.Err)
	assert.Empty(t, at.SkipReason)
	assert.NotEmpty(t, at.ConversationID)
	assert.Equal(t, "coffee brewing", at.Topic)
	assert.NotEmpty(t, at.MessageRef)
	assert.LessOrEqual(t, len(at.Tagged), 2)

	conv, err := env.store.Conversation(at.ConversationID)
	assert.NoError(t, err)
	assert.Equal(t, core.StatusActive, conv.Status)
	assert.Equal(t, "self", conv.InitiatedBy)
	assert.Equal(t, "coffee brewing", conv.Topic)
	assert.Equal(t, 1, conv.MessageCount)

	convs, err := env.store.GroupConversations("g1")
	assert.NoError(t, err)
	assert.Len(t, convs, 1)

	msgs, err := env.store.Messages(at.ConversationID)
	assert.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, "self", msgs[0].SenderID)
	assert.False(t, msgs[0].IsFollowUp)

	sent := env.relay.sent()
	assert.Len(t, sent, 1)
	assert.Equal(t, sent[0], msgs[0].Content)
	assert.Contains(t, sent[0], "coffee brewing")

	for _, id := range at.Tagged {
		assert.Contains(t, sent[0], "@"+id)
	}

	// The initiator joins through the recorded opening, tagged peers through
	// explicit joins.
	parts, err := env.store.Participants(at.ConversationID)
	assert.NoError(t, err)
	assert.Len(t, parts, 1+len(at.Tagged))

	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.AgentID)
	}

	assert.Contains(t, ids, "self")

	for _, id := range at.Tagged {
		assert.Contains(t, ids, id)
	}
}

func TestScheduler_ForceBypassesProbability(t *testing.T) {
	env := newSchedulerEnv(1, []string{"alice"})

	cfg := eagerConfig()
	cfg.ProbabilityFactor = 0 // unforced kickstarts disabled
	env.sched.Register("g1", cfg)
	env.seedTopic(t, "g1", "coffee brewing", 0.9)

	env.wake(t, "g1")

	attempts := env.rec.all()
	assert.Len(t, attempts, 1)
	assert.Equal(t, SkipProbability, attempts[0].SkipReason)

	convID, err := env.sched.Force(context.Background(), "g1", "")
	assert.NoError(t, err)
	assert.NotEmpty(t, convID)

	attempts = env.rec.all()
	assert.Len(t, attempts, 2)
	assert.True(t, attempts[1].Forced)
	assert.Equal(t, convID, attempts[1].ConversationID)
}

func TestScheduler_ForceConflictLeavesStateUntouched(t *testing.T) {
	env := newSchedulerEnv(1, []string{"alice", "bob"})
	env.sched.Register("g1", eagerConfig())

	first, err := env.sched.Force(context.Background(), "g1", "launch plans")
	assert.NoError(t, err)

	_, err = env.sched.Force(context.Background(), "g1", "X")
	assert.ErrorIs(t, err, core.ErrConflict)

	convs, err := env.store.GroupConversations("g1")
	assert.NoError(t, err)
	assert.Len(t, convs, 1)
	assert.Equal(t, first, convs[0].ID)

	msgs, err := env.store.Messages(first)
	assert.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestScheduler_ForceWithoutPeers(t *testing.T) {
	env := newSchedulerEnv(1, nil)
	env.sched.Register("g1", DefaultConfig())

	convID, err := env.sched.Force(context.Background(), "g1", "anything")
	assert.ErrorIs(t, err, ErrNoPeers)
	assert.Empty(t, convID)
}

func TestScheduler_ForceUnregisteredGroup(t *testing.T) {
	env := newSchedulerEnv(1, []string{"alice"})

	_, err := env.sched.Force(context.Background(), "nope", "")
	assert.ErrorContains(t, err, "not registered")
}

func TestScheduler_ForcedTopicOverridesSelection(t *testing.T) {
	env := newSchedulerEnv(1, []string{"alice"})
	env.sched.Register("g1", eagerConfig())
	env.seedTopic(t, "g1", "coffee brewing", 0.9)

	convID, err := env.sched.Force(context.Background(), "g1", "quarterly planning")
	assert.NoError(t, err)

	conv, err := env.store.Conversation(convID)
	assert.NoError(t, err)
	assert.Equal(t, "quarterly planning", conv.Topic)
}

func TestScheduler_TransportFailureKeepsConversationActive(t *testing.T) {
	env := newSchedulerEnv(1, []string{"alice"})
	env.relay.fail = fmt.Errorf("relay unreachable")
	env.sched.Register("g1", eagerConfig())

	_, err := env.sched.Force(context.Background(), "g1", "launch plans")
	assert.ErrorContains(t, err, "send opening")

	// No rollback: the conversation exists and stays ACTIVE for a later
	// cycle's reconcile step.
	active, err := env.store.ActiveConversations("g1")
	assert.NoError(t, err)
	assert.Len(t, active, 1)

	msgs, err := env.store.Messages(active[0].ID)
	assert.NoError(t, err)
	assert.Empty(t, msgs)

	attempts := env.rec.all()
	assert.Len(t, attempts, 1)
	assert.NotEmpty(t, attempts[0].ConversationID)
	assert.Error(t, attempts[0].Err)
}

func TestScheduler_PersistDisabled(t *testing.T) {
	env := newSchedulerEnv(1, []string{"alice"})

	cfg := eagerConfig()
	cfg.PersistConversations = false
	env.sched.Register("g1", cfg)

	convID, err := env.sched.Force(context.Background(), "g1", "launch plans")
	assert.NoError(t, err)

	conv, err := env.store.Conversation(convID)
	assert.NoError(t, err)
	assert.Equal(t, 0, conv.MessageCount)

	msgs, err := env.store.Messages(convID)
	assert.NoError(t, err)
	assert.Empty(t, msgs)

	parts, err := env.store.Participants(convID)
	assert.NoError(t, err)
	assert.Empty(t, parts)

	assert.Len(t, env.relay.sent(), 1)
}

func TestScheduler_ReconcileFreesSlotBeforeGates(t *testing.T) {
	env := newSchedulerEnv(1, []string{"alice"})
	env.sched.Register("g1", eagerConfig())
	env.seedTopic(t, "g1", "coffee brewing", 0.9)

	stale := core.NewConversation("g1", "alice", "stale subject")
	stale.LastActivity = time.Now().Add(-time.Hour)
	_, err := env.store.CreateConversation(stale)
	assert.NoError(t, err)

	env.wake(t, "g1")

	ended, err := env.store.Conversation(stale.ID)
	assert.NoError(t, err)
	assert.Equal(t, core.StatusEnded, ended.Status)
	assert.Equal(t, core.EndReasonInactivity, ended.EndReason)

	attempts := env.rec.all()
	assert.Len(t, attempts, 1)
	assert.NoError(t, attempts[0].Err)
	assert.NotEmpty(t, attempts[0].ConversationID)

	active, err := env.store.ActiveConversations("g1")
	assert.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, attempts[0].ConversationID, active[0].ID)
}

func TestScheduler_RegisterReplacesConfig(t *testing.T) {
	env := newSchedulerEnv(1, []string{"alice"})
	env.seedTopic(t, "g1", "coffee brewing", 0.9)

	cfg := eagerConfig()
	cfg.ProbabilityFactor = 0
	env.sched.Register("g1", cfg)

	env.wake(t, "g1")

	env.sched.Register("g1", eagerConfig())

	env.wake(t, "g1")

	attempts := env.rec.all()
	assert.Len(t, attempts, 2)
	assert.Equal(t, SkipProbability, attempts[0].SkipReason)
	assert.Empty(t, attempts[1].SkipReason)
	assert.NoError(t, attempts[1].Err)

	assert.Equal(t, []string{"g1"}, env.sched.Groups())
}

func TestScheduler_SampleTaggedBounds(t *testing.T) {
	env := newSchedulerEnv(5, nil)
	peers := []string{"a", "b", "c", "d", "e"}

	cfg := Config{TagAgents: true, MaxAgentsToTag: 3}

	for i := 0; i < 100; i++ {
		tagged := env.sched.sampleTagged(cfg, peers)
		assert.LessOrEqual(t, len(tagged), 3)

		seen := map[string]bool{}
		for _, id := range tagged {
			assert.Contains(t, peers, id)
			assert.False(t, seen[id], "peer %s tagged twice", id)
			seen[id] = true
		}
	}

	assert.Nil(t, env.sched.sampleTagged(Config{TagAgents: false, MaxAgentsToTag: 3}, peers))
	assert.Nil(t, env.sched.sampleTagged(Config{TagAgents: true, MaxAgentsToTag: 0}, peers))
	assert.Nil(t, env.sched.sampleTagged(cfg, nil))
}

func TestScheduler_StopBeforeFirstWake(t *testing.T) {
	env := newSchedulerEnv(1, []string{"alice"})

	cfg := eagerConfig()
	cfg.MinInterval = time.Hour
	cfg.MaxInterval = 2 * time.Hour
	env.sched.Register("g1", cfg)

	env.sched.Start()
	env.sched.Stop()

	assert.Empty(t, env.rec.all())

	convs, err := env.store.GroupConversations("g1")
	assert.NoError(t, err)
	assert.Empty(t, convs)
}

func TestScheduler_StartStopLifecycle(t *testing.T) {
	env := newSchedulerEnv(1, nil)

	cfg := eagerConfig()
	cfg.MinInterval = time.Hour
	cfg.MaxInterval = time.Hour
	env.sched.Register("g1", cfg)

	env.sched.Stop() // never started: no-op

	env.sched.Start()
	env.sched.Start() // already running: no-op
	env.sched.Stop()
	env.sched.Stop() // already stopped: no-op

	// A stopped scheduler can be started again.
	env.sched.Start()
	env.sched.Stop()

	assert.Empty(t, env.rec.all())
}

func TestScheduler_TimerLoopFiresAndStops(t *testing.T) {
	env := newSchedulerEnv(1, nil) // no peers: cycles skip but keep firing

	env.sched.Register("g1", Config{
		MinInterval:            5 * time.Millisecond,
		MaxInterval:            10 * time.Millisecond,
		ProbabilityFactor:      1,
		MaxActiveConversations: 1,
	})

	env.sched.Start()

	assert.Eventually(t, func() bool {
		return len(env.rec.all()) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	env.sched.Stop()

	// After Stop returns no loop is left to fire.
	count := len(env.rec.all())
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, env.rec.all(), count)
}

func TestScheduler_RegisterWhileRunningStartsLoop(t *testing.T) {
	env := newSchedulerEnv(1, nil)

	env.sched.Start()
	defer env.sched.Stop()

	env.sched.Register("late", Config{
		MinInterval:            5 * time.Millisecond,
		MaxInterval:            10 * time.Millisecond,
		ProbabilityFactor:      1,
		MaxActiveConversations: 1,
	})

	assert.Eventually(t, func() bool {
		for _, at := range env.rec.all() {
			if at.GroupID == "late" {
				return true
			}
		}

		return false
	}, 2*time.Second, 5*time.Millisecond)
}
