package conversation

import (
	"sync"
	"time"

	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/logging"
)

// Policy bounds the lifetime of every conversation the manager supervises.
// A zero value disables the respective bound.
type Policy struct {
	// InactivityWindow ends a conversation once no message arrived for this
	// long.
	InactivityWindow time.Duration

	// MaxMessages ends a conversation once its message count reaches this
	// ceiling.
	MaxMessages int
}

// DefaultPolicy returns the bounds applied when none are configured: a 30
// minute inactivity window and a 50 message ceiling.
func DefaultPolicy() Policy {
	return Policy{
		InactivityWindow: 30 * time.Minute,
		MaxMessages:      50,
	}
}

// Options configures a Manager.
type Options struct {
	// Policy bounds conversation lifetime.
	Policy Policy

	// Logger receives lifecycle events. Defaults to the no-op logger.
	Logger logging.Logger

	// OnEnded observes every ACTIVE → ENDED transition the manager performs,
	// whether triggered by End or swept up by Reconcile. It receives the
	// conversation in its final state. Invoked synchronously; keep it short.
	OnEnded func(conv core.Conversation, reason core.EndReason)
}

// Manager drives the conversation state machine on top of a core.Store.
//
// The machine has three states: no record (implicit), ACTIVE and the terminal
// ENDED. Initiate performs the only entry transition and bubbles
// core.ErrConflict from the store when the group already has an ACTIVE
// conversation. Record is the ACTIVE self-loop. ShouldEnd is a pure query so
// callers stay in charge of when the terminal transition actually happens;
// Reconcile combines the query with End for the common sweep-before-kickstart
// case.
type Manager struct {
	store   core.Store
	policy  Policy
	logger  logging.Logger
	onEnded func(conv core.Conversation, reason core.EndReason)

	// groupPolicies overrides the default policy per group; groups without
	// an entry use policy.
	policyMu      sync.RWMutex
	groupPolicies map[string]Policy
}

// New creates a Manager applying DefaultPolicy unless overridden via optFns.
func New(store core.Store, optFns ...func(o *Options)) *Manager {
	opts := Options{
		Policy: DefaultPolicy(),
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Manager{
		store:         store,
		policy:        opts.Policy,
		logger:        opts.Logger,
		onEnded:       opts.OnEnded,
		groupPolicies: make(map[string]Policy),
	}
}

// Policy returns the default bounds the manager applies.
func (m *Manager) Policy() Policy { return m.policy }

// SetGroupPolicy overrides the lifetime bounds for one group. Conversations
// in groups without an override keep the default policy. Safe to call while
// the manager is in use; the next evaluation sees the new bounds.
func (m *Manager) SetGroupPolicy(groupID string, p Policy) {
	m.policyMu.Lock()
	defer m.policyMu.Unlock()

	m.groupPolicies[groupID] = p
}

// PolicyFor returns the bounds applied to conversations of the given group.
func (m *Manager) PolicyFor(groupID string) Policy {
	m.policyMu.RLock()
	defer m.policyMu.RUnlock()

	if p, ok := m.groupPolicies[groupID]; ok {
		return p
	}

	return m.policy
}

// Initiate starts a new ACTIVE conversation in the group. It fails with
// core.ErrConflict (bubbled from the store) when the group already has one.
func (m *Manager) Initiate(groupID, initiatedBy, topic string) (core.Conversation, error) {
	conv := core.NewConversation(groupID, initiatedBy, topic)
	if _, err := m.store.CreateConversation(conv); err != nil {
		return core.Conversation{}, err
	}

	m.logger.Info("conversation started group_id=%s conversation_id=%s topic=%q initiated_by=%s", groupID, conv.ID, topic, initiatedBy)

	return conv, nil
}

// Record appends a message to its conversation. While the conversation is
// ACTIVE the store also advances its counters and the sender's participant
// stats. A replayed message id reports recorded=false without error.
func (m *Manager) Record(msg core.Message) (bool, error) {
	recorded, err := m.store.RecordMessage(msg)
	if err != nil {
		return false, err
	}

	if recorded {
		m.logger.Debug("message recorded conversation_id=%s sender_id=%s follow_up=%t", msg.ConversationID, msg.SenderID, msg.IsFollowUp)
	}

	return recorded, nil
}

// ShouldEnd reports whether the conversation has exhausted one of its policy
// bounds, and which one. It is a pure query with no side effects; the caller
// decides when to perform the transition. An ENDED conversation reports
// false.
func (m *Manager) ShouldEnd(conversationID string) (bool, core.EndReason, error) {
	conv, err := m.store.Conversation(conversationID)
	if err != nil {
		return false, "", err
	}

	end, reason := m.evaluate(conv)

	return end, reason, nil
}

// evaluate applies the group's policy bounds to a conversation snapshot.
// Inactivity is considered before the message ceiling so at most one reason
// is reported.
func (m *Manager) evaluate(conv core.Conversation) (bool, core.EndReason) {
	if conv.Ended() {
		return false, ""
	}

	policy := m.PolicyFor(conv.GroupID)

	if policy.InactivityWindow > 0 && time.Since(conv.LastActivity) >= policy.InactivityWindow {
		return true, core.EndReasonInactivity
	}

	if policy.MaxMessages > 0 && conv.MessageCount >= policy.MaxMessages {
		return true, core.EndReasonMessageCap
	}

	return false, ""
}

// End transitions the conversation to its terminal state with the given
// reason. Ending an already-ENDED conversation is an idempotent no-op; an
// unknown id fails with core.ErrNotFound.
func (m *Manager) End(conversationID string, reason core.EndReason) error {
	conv, err := m.store.Conversation(conversationID)
	if err != nil {
		return err
	}

	if conv.Ended() {
		return nil
	}

	if err := m.store.EndConversation(conversationID, reason); err != nil {
		return err
	}

	m.logger.Info("conversation ended group_id=%s conversation_id=%s reason=%s messages=%d", conv.GroupID, conversationID, reason, conv.MessageCount)

	m.notifyEnded(conversationID, reason)

	return nil
}

// notifyEnded re-reads the final record and hands it to the OnEnded hook.
func (m *Manager) notifyEnded(conversationID string, reason core.EndReason) {
	if m.onEnded == nil {
		return
	}

	final, err := m.store.Conversation(conversationID)
	if err != nil {
		m.logger.Warn("ended conversation readback failed conversation_id=%s: %v", conversationID, err)

		return
	}

	m.onEnded(final, reason)
}

// Join records an agent as a participant of the conversation. Joining twice
// is an idempotent no-op; an unknown conversation fails with core.ErrNotFound.
func (m *Manager) Join(conversationID, agentID string) error {
	if err := m.store.AddParticipant(conversationID, core.NewParticipant(conversationID, agentID)); err != nil {
		return err
	}

	m.logger.Debug("participant joined conversation_id=%s agent_id=%s", conversationID, agentID)

	return nil
}

// Active returns the group's ACTIVE conversation, if any.
func (m *Manager) Active(groupID string) (core.Conversation, bool, error) {
	active, err := m.store.ActiveConversations(groupID)
	if err != nil {
		return core.Conversation{}, false, err
	}

	if len(active) == 0 {
		return core.Conversation{}, false, nil
	}

	return active[0], true, nil
}

// Reconcile sweeps the group's ACTIVE conversation against the policy and
// ends it when a bound is exhausted, returning the conversations ended by
// this call in their final state. The scheduler runs it ahead of every
// kickstart so a stale conversation cannot occupy the ACTIVE slot forever.
func (m *Manager) Reconcile(groupID string) ([]core.Conversation, error) {
	active, err := m.store.ActiveConversations(groupID)
	if err != nil {
		return nil, err
	}

	ended := []core.Conversation{}

	for _, conv := range active {
		end, reason := m.evaluate(conv)
		if !end {
			continue
		}

		if err := m.store.EndConversation(conv.ID, reason); err != nil {
			return ended, err
		}

		m.logger.Info("conversation ended group_id=%s conversation_id=%s reason=%s messages=%d", groupID, conv.ID, reason, conv.MessageCount)

		final, err := m.store.Conversation(conv.ID)
		if err != nil {
			return ended, err
		}

		ended = append(ended, final)

		if m.onEnded != nil {
			m.onEnded(final, reason)
		}
	}

	return ended, nil
}
