package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/parley/conversation"
	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/kickstart"
	"github.com/hupe1980/parley/logging"
	"github.com/hupe1980/parley/store"
	"github.com/hupe1980/parley/topic"
)

const (
	// fallbackTopic names conversations opened by an inbound message whose
	// text yields no usable topic phrase.
	fallbackTopic = "General discussion"

	// topicHeadLimit bounds how much of an opening message's first line is
	// taken as the derived topic.
	topicHeadLimit = 80

	// snapshotRecentLimit bounds how many conversations a snapshot lists.
	snapshotRecentLimit = 10
)

// Options configures an Engine instance using the functional options pattern.
//
// All collaborators have in-memory defaults suitable for development and
// testing; production deployments typically provide a durable store and an
// LLM-backed enhancer.
type Options struct {
	// Store persists conversations, participants, messages and topics.
	// Defaults to the in-memory store.
	Store core.Store

	// Enhancer refines topic phrasing and opening messages and synthesizes
	// topics for groups that have none. Nil disables all three; topic
	// selection then fails on empty groups with core.ErrNoTopicAvailable.
	Enhancer core.TextEnhancer

	// Logger provides structured logging for debugging and monitoring.
	// Defaults to the no-op logger.
	Logger logging.Logger

	// Policy bounds conversation lifetime. Defaults to
	// conversation.DefaultPolicy.
	Policy conversation.Policy

	// Kickstart is the base scheduling configuration applied to every
	// registered group unless overridden per group. Defaults to
	// kickstart.DefaultConfig.
	Kickstart kickstart.Config

	// TopicTopK bounds the randomized topic pick. Defaults to
	// topic.DefaultTopK.
	TopicTopK int

	// Rand seeds the randomness of topic selection and kickstart scheduling.
	// The engine derives an independent source for each component from it,
	// so a fixed seed makes a whole engine run reproducible. Nil seeds from
	// the clock.
	Rand *rand.Rand
}

// Engine orchestrates conversation coordination for one agent across its
// group channels.
//
// It owns the three coordination layers and wires them together:
//   - conversation.Manager: the per-group conversation state machine
//   - topic.Selector: interest-ranked topic selection
//   - kickstart.Scheduler: per-group probabilistic kickstart loops
//
// Inbound flow: the process hosting the engine subscribes to its transport
// and feeds HandleMessage and HandleRosterChange. Outbound flow: the
// scheduler (or ForceKickstart) creates conversations and sends openings
// through the relay gateway.
//
// Concurrency model: scheduled cycles run on per-group scheduler goroutines,
// inbound handling runs on the caller's goroutine, and the store's
// transactional CreateConversation is the sole synchronization point between
// the two paths. Lifecycle callbacks fire synchronously on whichever
// goroutine triggered them.
type Engine struct {
	agentID string
	relay   core.RelayGateway
	store   core.Store
	logger  logging.Logger

	conversations *conversation.Manager
	topics        *topic.Selector
	scheduler     *kickstart.Scheduler

	baseKickstart kickstart.Config
	callbacks     *CallbackManager

	// rosters caches the latest roster event per group for diagnostics;
	// Snapshot falls back to the live gateway roster when a group has none.
	rosterMu sync.RWMutex
	rosters  map[string][]string
}

// New creates an Engine coordinating conversations as agentID through the
// given relay gateway.
//
// The relay is the engine's only required collaborator; everything else
// defaults to local in-memory implementations via Options. Register groups
// with RegisterGroup, then call Start to launch the kickstart loops. Inbound
// handling works without Start, so a purely reactive agent can skip the
// scheduler entirely.
func New(agentID string, relay core.RelayGateway, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Store:     store.NewInMemoryStore(),
		Logger:    logging.NoOpLogger{},
		Policy:    conversation.DefaultPolicy(),
		Kickstart: kickstart.DefaultConfig(),
		TopicTopK: topic.DefaultTopK,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	e := &Engine{
		agentID:       agentID,
		relay:         relay,
		store:         opts.Store,
		logger:        opts.Logger,
		baseKickstart: opts.Kickstart,
		callbacks:     NewCallbackManager(),
		rosters:       make(map[string][]string),
	}

	e.conversations = conversation.New(opts.Store, func(o *conversation.Options) {
		o.Policy = opts.Policy
		o.Logger = opts.Logger
		o.OnEnded = e.conversationEnded
	})

	e.topics = topic.New(opts.Store, func(o *topic.Options) {
		o.TopK = opts.TopicTopK
		o.Enhancer = opts.Enhancer
		o.Logger = opts.Logger
		if opts.Rand != nil {
			o.Rand = rand.New(rand.NewSource(opts.Rand.Int63()))
		}
	})

	e.scheduler = kickstart.New(agentID, e.conversations, e.topics, relay, func(o *kickstart.Options) {
		o.Enhancer = opts.Enhancer
		o.Logger = opts.Logger
		o.OnAttempt = e.afterAttempt
		if opts.Rand != nil {
			o.Rand = rand.New(rand.NewSource(opts.Rand.Int63()))
		}
	})

	return e
}

// AgentID returns the identity this engine coordinates as.
func (e *Engine) AgentID() string { return e.agentID }

// RegisterGroup adds a group to the kickstart scheduler. The group starts
// from the engine's base kickstart configuration; optFns mutate a copy for
// per-group overrides:
//
//	e.RegisterGroup("incidents", func(cfg *kickstart.Config) {
//	    cfg.ProbabilityFactor = 0.9
//	    cfg.MinInterval = 5 * time.Minute
//	})
//
// Registering an already-known group replaces its configuration for the next
// cycle. When the engine is running, a newly registered group gets its timer
// loop immediately.
func (e *Engine) RegisterGroup(groupID string, optFns ...func(cfg *kickstart.Config)) {
	cfg := e.baseKickstart

	for _, fn := range optFns {
		fn(&cfg)
	}

	e.scheduler.Register(groupID, cfg)
}

// Groups returns the registered group ids in no particular order.
func (e *Engine) Groups() []string { return e.scheduler.Groups() }

// SetGroupPolicy overrides the conversation lifetime policy for one group.
// Groups without an override keep the engine-wide policy. Takes effect on
// the next policy evaluation, so it is safe to call on a running engine.
func (e *Engine) SetGroupPolicy(groupID string, p conversation.Policy) {
	e.conversations.SetGroupPolicy(groupID, p)
}

// RegisterCallback adds a lifecycle callback. Register all callbacks before
// Start; callback errors are logged, never propagated into coordination.
func (e *Engine) RegisterCallback(callback Callback) {
	e.callbacks.RegisterCallback(callback)
}

// Start launches the kickstart loops for all registered groups. Starting an
// already running engine is a no-op.
func (e *Engine) Start() { e.scheduler.Start() }

// Stop cancels all pending kickstart timers and waits for in-flight cycles
// to finish. The engine can be started again afterwards; inbound handling
// keeps working while stopped.
func (e *Engine) Stop() { e.scheduler.Stop() }

// ForceKickstart runs a kickstart for the group right now, bypassing the
// probability and active-cap gates. topicName overrides topic selection when
// non-empty. Returns the new conversation id on success; fails with
// core.ErrConflict when the group already has an ACTIVE conversation and
// kickstart.ErrNoPeers when there is nobody to talk to.
func (e *Engine) ForceKickstart(ctx context.Context, groupID, topicName string) (string, error) {
	return e.scheduler.Force(ctx, groupID, topicName)
}

// HandleMessage feeds one inbound group message into the coordination state.
//
// With an ACTIVE conversation in the group the message is recorded as a
// follow-up. Without one, the message opens a new conversation with the
// sender as initiator and a topic derived from the text head; losing the
// creation race against a concurrent kickstart simply records the message
// into the winner instead. Tagged agents join as participants, duplicate
// deliveries of the same message id are absorbed silently, and the group's
// end-condition policy is swept afterwards so a conversation that just hit
// its message ceiling ends immediately.
//
// The returned conversation reflects the state after recording, which may
// already be ENDED.
func (e *Engine) HandleMessage(ctx context.Context, msg core.InboundMessage) (core.Conversation, error) {
	if msg.GroupID == "" {
		return core.Conversation{}, fmt.Errorf("handle message: group id is required")
	}

	if msg.SenderID == "" {
		return core.Conversation{}, fmt.Errorf("handle message: sender id is required")
	}

	conv, opened, err := e.conversationFor(msg)
	if err != nil {
		e.reportError(ctx, msg.GroupID, err)

		return core.Conversation{}, err
	}

	record := core.Message{
		ID:             msg.ID,
		ConversationID: conv.ID,
		SenderID:       msg.SenderID,
		Content:        msg.Text,
		SentAt:         msg.SentAt,
		IsFollowUp:     !opened,
	}

	if record.ID == "" {
		record.ID = core.NewID()
	}

	if record.SentAt.IsZero() {
		record.SentAt = time.Now().UTC()
	}

	if _, err := e.conversations.Record(record); err != nil {
		err = fmt.Errorf("handle message %s: %w", msg.GroupID, err)
		e.reportError(ctx, msg.GroupID, err)

		return core.Conversation{}, err
	}

	for _, tag := range msg.Tags {
		if tag == "" {
			continue
		}

		if err := e.conversations.Join(conv.ID, tag); err != nil {
			e.logger.Warn("tagged participant join failed conversation_id=%s agent_id=%s: %v", conv.ID, tag, err)
		}
	}

	// Sweep the policy so a conversation that just hit its ceiling ends now
	// instead of lingering until the next scheduled cycle.
	if _, err := e.conversations.Reconcile(msg.GroupID); err != nil {
		e.logger.Warn("post-message reconcile failed group_id=%s: %v", msg.GroupID, err)
	}

	final, err := e.store.Conversation(conv.ID)
	if err != nil {
		return core.Conversation{}, fmt.Errorf("handle message %s: %w", msg.GroupID, err)
	}

	return final, nil
}

// conversationFor resolves the conversation an inbound message belongs to,
// opening one when the group has none. The opened return reports whether
// this call created the conversation, which makes the triggering message its
// opening rather than a follow-up. The store's transactional create closes
// the race against concurrent kickstarts: on conflict the message is
// redirected into whichever conversation won.
func (e *Engine) conversationFor(msg core.InboundMessage) (core.Conversation, bool, error) {
	conv, ok, err := e.conversations.Active(msg.GroupID)
	if err != nil {
		return core.Conversation{}, false, fmt.Errorf("handle message %s: %w", msg.GroupID, err)
	}

	if ok {
		return conv, false, nil
	}

	topicName := topicFromText(msg.Text)

	created, err := e.conversations.Initiate(msg.GroupID, msg.SenderID, topicName)
	if err == nil {
		e.rememberTopic(msg.GroupID, topicName)

		return created, true, nil
	}

	if !errors.Is(err, core.ErrConflict) {
		return core.Conversation{}, false, fmt.Errorf("handle message %s: %w", msg.GroupID, err)
	}

	conv, ok, err = e.conversations.Active(msg.GroupID)
	if err != nil {
		return core.Conversation{}, false, fmt.Errorf("handle message %s: %w", msg.GroupID, err)
	}

	if !ok {
		// The winner ended in the meantime; extremely tight window, give up
		// on this delivery rather than looping.
		return core.Conversation{}, false, fmt.Errorf("handle message %s: %w", msg.GroupID, core.ErrConflict)
	}

	return conv, false, nil
}

// rememberTopic adds an externally introduced topic to the group's knowledge
// unless one with the same name is already on file. No interest scores are
// assumed; the fresh LastDiscussedAt alone keeps the selector from treating
// it as stale.
func (e *Engine) rememberTopic(groupID, name string) {
	known, err := e.store.Topics(groupID)
	if err != nil {
		e.logger.Warn("topic lookup failed group_id=%s: %v", groupID, err)

		return
	}

	for _, t := range known {
		if strings.EqualFold(t.Name, name) {
			return
		}
	}

	t := core.NewTopic(groupID, name)
	now := time.Now().UTC()
	t.LastDiscussedAt = &now

	if err := e.store.UpsertTopic(t); err != nil {
		e.logger.Warn("topic upsert failed group_id=%s topic=%q: %v", groupID, name, err)
	}
}

// HandleRosterChange caches the new peer roster for the group. The cache
// feeds Snapshot diagnostics only; kickstart cycles always read the live
// roster from the relay gateway.
func (e *Engine) HandleRosterChange(change core.RosterChange) {
	peers := make([]string, len(change.PeerIDs))
	copy(peers, change.PeerIDs)

	e.rosterMu.Lock()
	e.rosters[change.GroupID] = peers
	e.rosterMu.Unlock()

	e.logger.Debug("roster updated group_id=%s peers=%d", change.GroupID, len(peers))
}

// EndConversation explicitly ends a conversation, recording the given
// reason. Ending an already-ENDED conversation is an idempotent no-op; an
// unknown id fails with core.ErrNotFound. An empty reason is recorded as
// core.EndReasonSignal.
func (e *Engine) EndConversation(conversationID string, reason core.EndReason) error {
	if reason == "" {
		reason = core.EndReasonSignal
	}

	return e.conversations.End(conversationID, reason)
}

// Snapshot assembles a read-only diagnostic view of the group: the ACTIVE
// conversation with its messages and participants, the most recent
// conversations, the group's topics and the peer roster (cached from roster
// events, falling back to the live gateway roster).
func (e *Engine) Snapshot(groupID string) (core.GroupSnapshot, error) {
	snap := core.GroupSnapshot{
		GroupID: groupID,
		TakenAt: time.Now().UTC(),
	}

	active, ok, err := e.conversations.Active(groupID)
	if err != nil {
		return core.GroupSnapshot{}, fmt.Errorf("snapshot %s: %w", groupID, err)
	}

	if ok {
		snap.Active = &active

		if snap.Messages, err = e.store.Messages(active.ID); err != nil {
			return core.GroupSnapshot{}, fmt.Errorf("snapshot %s: %w", groupID, err)
		}

		if snap.Participants, err = e.store.Participants(active.ID); err != nil {
			return core.GroupSnapshot{}, fmt.Errorf("snapshot %s: %w", groupID, err)
		}
	}

	recent, err := e.store.GroupConversations(groupID)
	if err != nil {
		return core.GroupSnapshot{}, fmt.Errorf("snapshot %s: %w", groupID, err)
	}

	if len(recent) > snapshotRecentLimit {
		recent = recent[:snapshotRecentLimit]
	}

	snap.Recent = recent

	if snap.Topics, err = e.store.Topics(groupID); err != nil {
		return core.GroupSnapshot{}, fmt.Errorf("snapshot %s: %w", groupID, err)
	}

	snap.Peers = e.peersFor(groupID)

	return snap, nil
}

// peersFor returns the cached roster for the group, or the live gateway
// roster when no roster event arrived yet.
func (e *Engine) peersFor(groupID string) []string {
	e.rosterMu.RLock()
	cached, ok := e.rosters[groupID]
	e.rosterMu.RUnlock()

	if !ok {
		return e.relay.Peers(groupID)
	}

	peers := make([]string, len(cached))
	copy(peers, cached)

	return peers
}

// afterAttempt bridges kickstart cycle outcomes into the callback system. It
// runs synchronously on the scheduler's group goroutine.
func (e *Engine) afterAttempt(at kickstart.Attempt) {
	ctx := context.Background()

	e.execute(ctx, CallbackAfterAttempt, &CallbackContext{
		GroupID:      at.GroupID,
		Attempt:      &at,
		CallbackType: CallbackAfterAttempt,
	})

	switch {
	case at.Err != nil:
		e.execute(ctx, CallbackOnError, &CallbackContext{
			GroupID:      at.GroupID,
			Attempt:      &at,
			Err:          at.Err,
			CallbackType: CallbackOnError,
		})
	case at.SkipReason == "" && at.ConversationID != "":
		e.execute(ctx, CallbackOnKickstart, &CallbackContext{
			GroupID:      at.GroupID,
			Attempt:      &at,
			CallbackType: CallbackOnKickstart,
		})
	}
}

// conversationEnded bridges ACTIVE → ENDED transitions into the callback
// system, whichever path performed them.
func (e *Engine) conversationEnded(conv core.Conversation, reason core.EndReason) {
	e.execute(context.Background(), CallbackOnConversationEnd, &CallbackContext{
		GroupID:      conv.GroupID,
		Conversation: &conv,
		EndReason:    reason,
		CallbackType: CallbackOnConversationEnd,
	})
}

// reportError funnels inbound-path failures to the error callbacks.
func (e *Engine) reportError(ctx context.Context, groupID string, err error) {
	e.execute(ctx, CallbackOnError, &CallbackContext{
		GroupID:      groupID,
		Err:          err,
		CallbackType: CallbackOnError,
	})
}

// execute runs the callbacks for one lifecycle point, logging failures
// instead of propagating them.
func (e *Engine) execute(ctx context.Context, callbackType CallbackType, callbackCtx *CallbackContext) {
	if err := e.callbacks.ExecuteCallbacks(ctx, callbackType, callbackCtx); err != nil {
		e.logger.Warn("callback failed type=%s group_id=%s: %v", callbackType, callbackCtx.GroupID, err)
	}
}

// topicFromText derives a provisional topic from the head of an opening
// message: the first line, trimmed and capped. Empty text falls back to a
// generic topic so externally opened conversations never carry an empty one.
func topicFromText(text string) string {
	text = strings.TrimSpace(text)

	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}

	if runes := []rune(text); len(runes) > topicHeadLimit {
		text = strings.TrimSpace(string(runes[:topicHeadLimit]))
	}

	if text == "" {
		return fallbackTopic
	}

	return text
}
