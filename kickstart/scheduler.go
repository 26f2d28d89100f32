package kickstart

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/parley/conversation"
	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/logging"
	"github.com/hupe1980/parley/topic"
)

// Skip reasons recorded on an Attempt that ended before a conversation was
// created. They are ordered: a cycle reports the first gate it failed.
const (
	// SkipProbability means the pseudo-random draw did not clear
	// ProbabilityFactor.
	SkipProbability = "probability"

	// SkipActiveCap means the group already holds MaxActiveConversations
	// ACTIVE conversations.
	SkipActiveCap = "active-cap"

	// SkipNoPeers means the relay reported no reachable peers besides the
	// scheduling agent itself.
	SkipNoPeers = "no-peers"
)

// ErrNoPeers is returned by Force when the group has nobody to talk to.
// Scheduled cycles report the same condition as a skip instead of an error.
var ErrNoPeers = fmt.Errorf("no peers available")

// minLoopDelay is the shortest sleep a group loop accepts between wake-ups.
// A config whose intervals collapse to zero would otherwise reschedule
// immediately and spin the loop hot, burning a probability draw per
// iteration. The rate-floor semantics of MinInterval are unaffected.
const minLoopDelay = 100 * time.Millisecond

// Attempt is the outcome record of a single kickstart cycle, forced or
// scheduled. Exactly one of SkipReason, Err, or a non-empty ConversationID
// with nil Err describes what happened:
//   - SkipReason set: a gate rejected the cycle before anything was created.
//   - Err set with empty ConversationID: the cycle failed before the
//     conversation existed (topic selection, composition, creation conflict).
//   - Err set with ConversationID: the conversation was created but a later
//     step failed (typically the relay send); the conversation stays ACTIVE.
//   - Neither set: the kickstart succeeded end to end.
type Attempt struct {
	GroupID        string
	Time           time.Time
	Forced         bool
	SkipReason     string
	ConversationID string
	Topic          string
	Tagged         []string
	MessageRef     string
	Err            error
}

// Options configures a Scheduler instance using the functional options pattern.
type Options struct {
	// Enhancer refines topic phrasing and opening messages. Nil skips both
	// refinement steps; refinement failures degrade to the raw text.
	Enhancer core.TextEnhancer

	// Rand seeds probability draws, template picks and peer sampling.
	// Defaults to a time-seeded source. Tests inject a fixed seed here to
	// make cycles deterministic.
	Rand *rand.Rand

	// Logger receives cycle outcomes. Defaults to the no-op logger.
	Logger logging.Logger

	// OnAttempt observes every cycle outcome, scheduled and forced alike.
	// It is invoked synchronously from the attempting goroutine, so it must
	// not block for long.
	OnAttempt func(at Attempt)
}

// Scheduler periodically kickstarts conversations in registered groups.
//
// Each group owns an independent timer loop (goroutine, time.Timer and the
// shared cancellation context), so a slow cycle in one group never delays
// another. A scheduled wake-up runs the gauntlet in a fixed order:
//
//  1. Honor the rate floor: if a forced kickstart ran since the timer was
//     armed, reschedule the remainder without spending an attempt.
//  2. Mark the attempt timestamp before doing anything else, so a crash
//     mid-cycle cannot cause rapid re-attempts on restart.
//  3. Reconcile the group's active conversation against the lifetime policy.
//  4. Gates, in order: probability draw, active-conversation cap, peer
//     availability. The first failed gate records a skip.
//  5. Select a topic, refine it, sample peers to tag, compose an opening
//     from the template set, enhance it, and create the conversation.
//  6. Send the opening through the relay and, when configured, record the
//     message and tagged participants.
//
// A send failure is a transport error: the created conversation stays ACTIVE
// and is left for a later cycle's reconcile step rather than rolled back.
// No failure is retried within its cycle; the loop always reschedules.
//
// Force runs the same path immediately, bypassing only the probability and
// cap gates, and still counts toward the rate floor.
type Scheduler struct {
	agentID       string
	conversations *conversation.Manager
	topics        *topic.Selector
	relay         core.RelayGateway
	enhancer      core.TextEnhancer
	logger        logging.Logger
	onAttempt     func(at Attempt)

	// rng is shared across group loops; rngMu keeps draws serialized.
	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	groups  map[string]*groupLoop
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// groupLoop is the transient per-group scheduling state. The store remains
// the source of truth for everything else; a loop only remembers its config
// snapshot and when the last attempt started.
type groupLoop struct {
	groupID string

	mu          sync.Mutex
	cfg         Config
	lastAttempt time.Time
}

// snapshot returns the config and last-attempt timestamp as one consistent
// read.
func (g *groupLoop) snapshot() (Config, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.cfg, g.lastAttempt
}

// setConfig replaces the config snapshot consumed by the next cycle.
func (g *groupLoop) setConfig(cfg Config) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cfg = cfg
}

// markAttempt records that an attempt started at t.
func (g *groupLoop) markAttempt(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastAttempt = t
}

// New creates a Scheduler kickstarting conversations as agentID.
//
// The conversation manager, topic selector and relay are required
// collaborators; enhancer, randomness source, logger and observer hook are
// configured via functional options. The returned Scheduler holds no groups
// and is not running; call Register for each group, then Start.
func New(agentID string, conversations *conversation.Manager, topics *topic.Selector, relay core.RelayGateway, optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Scheduler{
		agentID:       agentID,
		conversations: conversations,
		topics:        topics,
		relay:         relay,
		enhancer:      opts.Enhancer,
		logger:        opts.Logger,
		onAttempt:     opts.OnAttempt,
		rng:           opts.Rand,
		groups:        make(map[string]*groupLoop),
	}
}

// Register adds a group to the scheduler or, if the group is already known,
// atomically replaces its config snapshot for the next cycle. When the
// scheduler is running, a newly registered group gets its timer loop
// immediately.
func (s *Scheduler) Register(groupID string, cfg Config) {
	cfg = cfg.normalized()

	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.groups[groupID]; ok {
		g.setConfig(cfg)

		return
	}

	g := &groupLoop{groupID: groupID, cfg: cfg}
	s.groups[groupID] = g

	if s.running {
		s.wg.Add(1)

		go s.run(s.ctx, g)
	}
}

// Registered reports whether the group is known to the scheduler.
func (s *Scheduler) Registered(groupID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.groups[groupID]

	return ok
}

// Groups returns the registered group ids in no particular order.
func (s *Scheduler) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}

	return ids
}

// Start launches one timer loop per registered group. Starting an already
// running scheduler is a no-op. A stopped scheduler may be started again.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	for _, g := range s.groups {
		s.wg.Add(1)

		go s.run(s.ctx, g)
	}

	s.logger.Info("kickstart scheduler started agent_id=%s groups=%d", s.agentID, len(s.groups))
}

// Stop cancels every pending timer and waits for in-flight cycles to finish.
// After Stop returns, no further attempt fires until Start is called again.
// An attempt already past conversation creation completes its send and
// bookkeeping before Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()

		return
	}

	s.running = false
	cancel := s.cancel

	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.logger.Info("kickstart scheduler stopped agent_id=%s", s.agentID)
}

// Force runs a kickstart attempt for the group right now, bypassing the
// probability and active-cap gates. topicName overrides topic selection when
// non-empty; it is still refined through the enhancer. The attempt counts
// toward the group's rate floor, goes through the usual creation path, and
// surfaces core.ErrConflict when the group already holds an ACTIVE
// conversation and ErrNoPeers when there is nobody to talk to.
//
// On success the new conversation id is returned.
func (s *Scheduler) Force(ctx context.Context, groupID, topicName string) (string, error) {
	s.mu.Lock()
	g, ok := s.groups[groupID]
	s.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("group %s not registered", groupID)
	}

	cfg, _ := g.snapshot()
	g.markAttempt(time.Now())

	at := s.attempt(ctx, groupID, cfg, topicName, true)
	s.report(at)

	if at.SkipReason == SkipNoPeers {
		return "", fmt.Errorf("kickstart %s: %w", groupID, ErrNoPeers)
	}

	if at.Err != nil {
		return "", at.Err
	}

	return at.ConversationID, nil
}

// run is the timer loop of a single group. It exits only when the scheduler
// context is cancelled; cycle failures are reported and rescheduled.
func (s *Scheduler) run(ctx context.Context, g *groupLoop) {
	defer s.wg.Done()

	timer := time.NewTimer(s.nextDelay(g))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.wake(ctx, g)
			timer.Reset(s.nextDelay(g))
		}
	}
}

// wake handles one timer expiry. A force may have run since the timer was
// armed; in that case the rate floor is honored by returning without
// bookkeeping, and run reschedules the remainder.
func (s *Scheduler) wake(ctx context.Context, g *groupLoop) {
	cfg, last := g.snapshot()

	if !last.IsZero() && time.Since(last) < cfg.MinInterval {
		return
	}

	g.markAttempt(time.Now())

	at := s.attempt(ctx, g.groupID, cfg, "", false)
	s.report(at)
}

// nextDelay computes how long the group sleeps before its next wake-up: the
// remainder of the rate floor when the last attempt is still fresh, otherwise
// a uniform draw from [MinInterval, MaxInterval] so groups do not wake in
// lockstep. The result never drops below minLoopDelay.
func (s *Scheduler) nextDelay(g *groupLoop) time.Duration {
	cfg, last := g.snapshot()

	delay := cfg.MinInterval

	if !last.IsZero() {
		if since := time.Since(last); since < cfg.MinInterval {
			return floorDelay(cfg.MinInterval - since)
		}
	}

	if span := cfg.MaxInterval - cfg.MinInterval; span > 0 {
		delay = cfg.MinInterval + time.Duration(s.randInt63n(int64(span)))
	}

	return floorDelay(delay)
}

// floorDelay clamps a computed sleep to the loop's minimum.
func floorDelay(d time.Duration) time.Duration {
	if d < minLoopDelay {
		return minLoopDelay
	}

	return d
}

// attempt executes one kickstart cycle under an immutable config snapshot and
// returns its outcome. Forced attempts skip the probability and cap gates but
// share everything else with scheduled ones.
func (s *Scheduler) attempt(ctx context.Context, groupID string, cfg Config, forcedTopic string, forced bool) Attempt {
	at := Attempt{GroupID: groupID, Time: time.Now(), Forced: forced}

	// Sweep the active conversation against the lifetime policy first so a
	// stale one cannot hold the slot into this cycle.
	if _, err := s.conversations.Reconcile(groupID); err != nil {
		at.Err = fmt.Errorf("kickstart %s: reconcile: %w", groupID, err)

		return at
	}

	if !forced {
		if s.randFloat64() >= cfg.ProbabilityFactor {
			at.SkipReason = SkipProbability

			return at
		}

		_, active, err := s.conversations.Active(groupID)
		if err != nil {
			at.Err = fmt.Errorf("kickstart %s: active lookup: %w", groupID, err)

			return at
		}

		count := 0
		if active {
			count = 1
		}

		// At or above the cap rejects; a cap of zero rejects every unforced
		// cycle, which is how kickstarts are disabled for a group.
		if count >= cfg.MaxActiveConversations {
			at.SkipReason = SkipActiveCap

			return at
		}
	}

	peers := s.reachablePeers(groupID)
	if len(peers) == 0 {
		at.SkipReason = SkipNoPeers

		return at
	}

	topicName := forcedTopic
	if topicName == "" {
		selected, err := s.topics.Select(ctx, groupID, s.agentID)
		if err != nil {
			at.Err = fmt.Errorf("kickstart %s: topic: %w", groupID, err)

			return at
		}

		topicName = selected.Name
	}

	topicName = s.refineTopic(ctx, groupID, topicName)
	at.Topic = topicName

	tagged := s.sampleTagged(cfg, peers)
	at.Tagged = tagged

	opening, err := renderOpening(s.randIntn, topicName, tagged)
	if err != nil {
		at.Err = fmt.Errorf("kickstart %s: compose opening: %w", groupID, err)

		return at
	}

	opening = s.enhanceMessage(ctx, groupID, opening)

	conv, err := s.conversations.Initiate(groupID, s.agentID, topicName)
	if err != nil {
		at.Err = fmt.Errorf("kickstart %s: %w", groupID, err)

		return at
	}

	at.ConversationID = conv.ID

	// Past the commit point: the conversation exists, so the send and its
	// bookkeeping finish even if the caller's context is cancelled.
	ctx = context.WithoutCancel(ctx)

	ref, err := s.relay.SendText(ctx, groupID, opening)
	if err != nil {
		// Transport failure. The conversation stays ACTIVE and is left for
		// a later cycle's reconcile step rather than rolled back.
		at.Err = fmt.Errorf("kickstart %s: send opening: %w", groupID, err)

		return at
	}

	at.MessageRef = ref

	if cfg.PersistConversations {
		if err := s.persistOpening(conv, ref, opening, tagged); err != nil {
			at.Err = fmt.Errorf("kickstart %s: %w", groupID, err)

			return at
		}
	}

	return at
}

// persistOpening records the opening message (the sender's participant row
// rides along in the store) and joins the tagged peers. The relay message
// reference doubles as the message id so an inbound echo of our own opening
// deduplicates instead of double counting.
func (s *Scheduler) persistOpening(conv core.Conversation, ref, text string, tagged []string) error {
	msg := core.Message{
		ID:             ref,
		ConversationID: conv.ID,
		SenderID:       s.agentID,
		Content:        text,
		SentAt:         time.Now(),
	}

	if msg.ID == "" {
		msg.ID = core.NewID()
	}

	if _, err := s.conversations.Record(msg); err != nil {
		return fmt.Errorf("record opening: %w", err)
	}

	for _, agentID := range tagged {
		if err := s.conversations.Join(conv.ID, agentID); err != nil {
			return fmt.Errorf("join %s: %w", agentID, err)
		}
	}

	return nil
}

// reachablePeers returns the relay's current roster for the group minus the
// scheduling agent itself.
func (s *Scheduler) reachablePeers(groupID string) []string {
	peers := s.relay.Peers(groupID)

	out := make([]string, 0, len(peers))
	for _, id := range peers {
		if id == "" || id == s.agentID {
			continue
		}

		out = append(out, id)
	}

	return out
}

// sampleTagged draws a uniform random subset of 0..MaxAgentsToTag peers to
// mention in the opening. Returns nil when tagging is disabled or the draw
// came up empty.
func (s *Scheduler) sampleTagged(cfg Config, peers []string) []string {
	if !cfg.TagAgents || cfg.MaxAgentsToTag <= 0 || len(peers) == 0 {
		return nil
	}

	limit := cfg.MaxAgentsToTag
	if limit > len(peers) {
		limit = len(peers)
	}

	n := s.randIntn(limit + 1)
	if n == 0 {
		return nil
	}

	sample := make([]string, len(peers))
	copy(sample, peers)

	s.randShuffle(len(sample), func(i, j int) {
		sample[i], sample[j] = sample[j], sample[i]
	})

	return sample[:n]
}

// refineTopic runs the topic phrase through the enhancer, degrading to the
// raw phrase when no enhancer is set or refinement fails.
func (s *Scheduler) refineTopic(ctx context.Context, groupID, raw string) string {
	if s.enhancer == nil {
		return raw
	}

	refined, err := s.enhancer.RefineTopic(ctx, raw)
	if err != nil {
		s.logger.Warn("topic refinement failed group_id=%s: %v", groupID, err)

		return raw
	}

	if strings.TrimSpace(refined) == "" {
		return raw
	}

	return refined
}

// enhanceMessage runs the composed opening through the enhancer, degrading
// to the raw text when no enhancer is set or enhancement fails.
func (s *Scheduler) enhanceMessage(ctx context.Context, groupID, raw string) string {
	if s.enhancer == nil {
		return raw
	}

	enhanced, err := s.enhancer.EnhanceMessage(ctx, raw)
	if err != nil {
		s.logger.Warn("message enhancement failed group_id=%s: %v", groupID, err)

		return raw
	}

	if strings.TrimSpace(enhanced) == "" {
		return raw
	}

	return enhanced
}

// report logs the cycle outcome and forwards it to the observer hook.
func (s *Scheduler) report(at Attempt) {
	switch {
	case at.Err != nil:
		s.logger.Error("kickstart attempt failed group_id=%s forced=%t: %v", at.GroupID, at.Forced, at.Err)
	case at.SkipReason != "":
		s.logger.Debug("kickstart skipped group_id=%s reason=%s", at.GroupID, at.SkipReason)
	default:
		s.logger.Info("kickstart succeeded group_id=%s conversation_id=%s topic=%q tagged=%d", at.GroupID, at.ConversationID, at.Topic, len(at.Tagged))
	}

	if s.onAttempt != nil {
		s.onAttempt(at)
	}
}

func (s *Scheduler) randFloat64() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	return s.rng.Float64()
}

func (s *Scheduler) randIntn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	if n <= 1 {
		return 0
	}

	return s.rng.Intn(n)
}

func (s *Scheduler) randInt63n(n int64) int64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	if n <= 1 {
		return 0
	}

	return s.rng.Int63n(n)
}

func (s *Scheduler) randShuffle(n int, swap func(i, j int)) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	s.rng.Shuffle(n, swap)
}
