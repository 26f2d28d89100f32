package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/parley/core"
)

// InMemoryStore is a volatile core.Store implementation keeping all records
// in process-local maps. It is safe for concurrent access and best suited for
// tests or ephemeral demo processes. Every read returns a defensive copy.
//
// Locking discipline: mu guards only the group registry and the
// conversation-to-group index and is never held together with a group lock.
// Each groupState owns a mutex serializing all record access for that group,
// so writes for different groups never block each other while writes within
// one group are atomic.
type InMemoryStore struct {
	mu             sync.RWMutex
	groups         map[string]*groupState
	byConversation map[string]*groupState
}

// groupState holds one group's records. activeID caches the id of the single
// ACTIVE conversation ("" when none) and is the conflict gate for creation.
type groupState struct {
	mu            sync.Mutex
	groupID       string
	conversations map[string]*core.Conversation
	messages      map[string]map[string]core.Message
	order         map[string][]string
	participants  map[string]map[string]core.Participant
	topics        map[string]core.Topic
	activeID      string
}

// NewInMemoryStore constructs an empty in-memory coordination store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		groups:         make(map[string]*groupState),
		byConversation: make(map[string]*groupState),
	}
}

// ensureGroup returns the state for a group, creating it lazily.
func (s *InMemoryStore) ensureGroup(groupID string) *groupState {
	s.mu.RLock()
	g, ok := s.groups[groupID]
	s.mu.RUnlock()
	if ok {
		return g
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok = s.groups[groupID]; ok {
		return g
	}
	g = &groupState{
		groupID:       groupID,
		conversations: make(map[string]*core.Conversation),
		messages:      make(map[string]map[string]core.Message),
		order:         make(map[string][]string),
		participants:  make(map[string]map[string]core.Participant),
		topics:        make(map[string]core.Topic),
	}
	s.groups[groupID] = g
	return g
}

// lookupGroup returns an existing group's state without creating it.
func (s *InMemoryStore) lookupGroup(groupID string) (*groupState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	return g, ok
}

// groupFor resolves the group owning a conversation id.
func (s *InMemoryStore) groupFor(conversationID string) (*groupState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.byConversation[conversationID]
	return g, ok
}

// CreateConversation stores a new conversation. Missing id/status/timestamps
// are filled in. Creating an ACTIVE conversation while the group already has
// one fails with core.ErrConflict; the check and the insert happen under the
// group lock so concurrent creators cannot both win.
func (s *InMemoryStore) CreateConversation(conv core.Conversation) (string, error) {
	if conv.GroupID == "" {
		return "", fmt.Errorf("create conversation: missing group id")
	}
	g := s.ensureGroup(conv.GroupID)

	stored := conv.Clone()
	if stored.ID == "" {
		stored.ID = core.NewID()
	}
	if stored.Status == "" {
		stored.Status = core.StatusActive
	}
	if stored.StartedAt.IsZero() {
		stored.StartedAt = time.Now().UTC()
	}
	if stored.LastActivity.IsZero() {
		stored.LastActivity = stored.StartedAt
	}

	g.mu.Lock()
	if stored.Status == core.StatusActive && g.activeID != "" {
		g.mu.Unlock()
		return "", fmt.Errorf("group %s: %w", conv.GroupID, core.ErrConflict)
	}
	if _, exists := g.conversations[stored.ID]; exists {
		g.mu.Unlock()
		return "", fmt.Errorf("conversation %s already exists", stored.ID)
	}
	g.conversations[stored.ID] = &stored
	if stored.Status == core.StatusActive {
		g.activeID = stored.ID
	}
	g.mu.Unlock()

	s.mu.Lock()
	s.byConversation[stored.ID] = g
	s.mu.Unlock()

	return stored.ID, nil
}

// Conversation returns a copy of the conversation with the given id.
func (s *InMemoryStore) Conversation(id string) (core.Conversation, error) {
	g, ok := s.groupFor(id)
	if !ok {
		return core.Conversation{}, fmt.Errorf("conversation %s: %w", id, core.ErrNotFound)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	conv, ok := g.conversations[id]
	if !ok {
		return core.Conversation{}, fmt.Errorf("conversation %s: %w", id, core.ErrNotFound)
	}
	return conv.Clone(), nil
}

// GroupConversations returns copies of all conversations recorded for a
// group, most recently started first.
func (s *InMemoryStore) GroupConversations(groupID string) ([]core.Conversation, error) {
	g, ok := s.lookupGroup(groupID)
	if !ok {
		return []core.Conversation{}, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]core.Conversation, 0, len(g.conversations))
	for _, conv := range g.conversations {
		out = append(out, conv.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// ActiveConversations returns the group's ACTIVE conversations. Given the
// single-ACTIVE invariant the result holds at most one element.
func (s *InMemoryStore) ActiveConversations(groupID string) ([]core.Conversation, error) {
	g, ok := s.lookupGroup(groupID)
	if !ok {
		return []core.Conversation{}, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.activeID == "" {
		return []core.Conversation{}, nil
	}
	conv, ok := g.conversations[g.activeID]
	if !ok {
		return []core.Conversation{}, nil
	}
	return []core.Conversation{conv.Clone()}, nil
}

// EndConversation moves a conversation to ENDED recording the reason and end
// timestamp. Ending an already-ENDED conversation is an idempotent no-op; an
// unknown id fails with core.ErrNotFound. An empty reason is recorded as an
// explicit end signal.
func (s *InMemoryStore) EndConversation(id string, reason core.EndReason) error {
	g, ok := s.groupFor(id)
	if !ok {
		return fmt.Errorf("end conversation %s: %w", id, core.ErrNotFound)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	conv, ok := g.conversations[id]
	if !ok {
		return fmt.Errorf("end conversation %s: %w", id, core.ErrNotFound)
	}
	if conv.Status == core.StatusEnded {
		return nil
	}
	now := time.Now().UTC()
	conv.Status = core.StatusEnded
	conv.EndedAt = &now
	if reason == "" {
		reason = core.EndReasonSignal
	}
	conv.EndReason = reason
	if g.activeID == id {
		g.activeID = ""
	}
	return nil
}

// RecordMessage appends a message to its conversation. A duplicate message id
// is an idempotent no-op returning recorded=false. On an ACTIVE conversation
// the write also advances MessageCount/LastActivity and upserts the sender's
// participant row atomically; an ENDED conversation absorbs the message as
// history without any counter or participant updates.
func (s *InMemoryStore) RecordMessage(msg core.Message) (bool, error) {
	g, ok := s.groupFor(msg.ConversationID)
	if !ok {
		return false, fmt.Errorf("record message: conversation %s: %w", msg.ConversationID, core.ErrNotFound)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	conv, ok := g.conversations[msg.ConversationID]
	if !ok {
		return false, fmt.Errorf("record message: conversation %s: %w", msg.ConversationID, core.ErrNotFound)
	}

	stored := msg
	if stored.ID == "" {
		stored.ID = core.NewID()
	} else if _, dup := g.messages[conv.ID][stored.ID]; dup {
		return false, nil
	}
	if stored.SentAt.IsZero() {
		stored.SentAt = time.Now().UTC()
	}

	if g.messages[conv.ID] == nil {
		g.messages[conv.ID] = make(map[string]core.Message)
	}
	g.messages[conv.ID][stored.ID] = stored
	g.order[conv.ID] = append(g.order[conv.ID], stored.ID)

	if conv.Status == core.StatusActive {
		conv.MessageCount++
		conv.LastActivity = stored.SentAt
		s.bumpParticipantLocked(g, conv.ID, stored.SenderID, stored.SentAt)
	}
	return true, nil
}

// bumpParticipantLocked upserts the sender's participant row; caller must
// hold the group lock.
func (s *InMemoryStore) bumpParticipantLocked(g *groupState, conversationID, agentID string, at time.Time) {
	if g.participants[conversationID] == nil {
		g.participants[conversationID] = make(map[string]core.Participant)
	}
	p, ok := g.participants[conversationID][agentID]
	if !ok {
		p = core.Participant{ConversationID: conversationID, AgentID: agentID, JoinedAt: at}
	}
	p.MessageCount++
	p.LastActiveAt = at
	g.participants[conversationID][agentID] = p
}

// Messages returns the conversation's messages in arrival order.
func (s *InMemoryStore) Messages(conversationID string) ([]core.Message, error) {
	g, ok := s.groupFor(conversationID)
	if !ok {
		return nil, fmt.Errorf("messages: conversation %s: %w", conversationID, core.ErrNotFound)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := g.order[conversationID]
	out := make([]core.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.messages[conversationID][id])
	}
	return out, nil
}

// AddParticipant joins an agent to a conversation. Joining an agent that is
// already a participant is an idempotent no-op so tagged agents and later
// speakers never collide.
func (s *InMemoryStore) AddParticipant(conversationID string, p core.Participant) error {
	g, ok := s.groupFor(conversationID)
	if !ok {
		return fmt.Errorf("add participant: conversation %s: %w", conversationID, core.ErrNotFound)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.conversations[conversationID]; !ok {
		return fmt.Errorf("add participant: conversation %s: %w", conversationID, core.ErrNotFound)
	}
	if g.participants[conversationID] == nil {
		g.participants[conversationID] = make(map[string]core.Participant)
	}
	if _, exists := g.participants[conversationID][p.AgentID]; exists {
		return nil
	}
	stored := p
	stored.ConversationID = conversationID
	if stored.JoinedAt.IsZero() {
		stored.JoinedAt = time.Now().UTC()
	}
	if stored.LastActiveAt.IsZero() {
		stored.LastActiveAt = stored.JoinedAt
	}
	g.participants[conversationID][stored.AgentID] = stored
	return nil
}

// Participant returns the participant row for the given conversation/agent
// pair, or core.ErrNotFound when the agent never joined.
func (s *InMemoryStore) Participant(conversationID, agentID string) (core.Participant, error) {
	g, ok := s.groupFor(conversationID)
	if !ok {
		return core.Participant{}, fmt.Errorf("participant: conversation %s: %w", conversationID, core.ErrNotFound)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.participants[conversationID][agentID]
	if !ok {
		return core.Participant{}, fmt.Errorf("participant %s/%s: %w", conversationID, agentID, core.ErrNotFound)
	}
	return p, nil
}

// Participants returns all participant rows of a conversation ordered by
// join time (agent id as tie-break).
func (s *InMemoryStore) Participants(conversationID string) ([]core.Participant, error) {
	g, ok := s.groupFor(conversationID)
	if !ok {
		return nil, fmt.Errorf("participants: conversation %s: %w", conversationID, core.ErrNotFound)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]core.Participant, 0, len(g.participants[conversationID]))
	for _, p := range g.participants[conversationID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

// UpsertTopic inserts or replaces a topic record. A missing id is assigned so
// freshly generated topics can be stored directly.
func (s *InMemoryStore) UpsertTopic(t core.Topic) error {
	if t.GroupID == "" {
		return fmt.Errorf("upsert topic: missing group id")
	}
	g := s.ensureGroup(t.GroupID)
	stored := t.Clone()
	if stored.ID == "" {
		stored.ID = core.NewID()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.topics[stored.ID] = stored
	return nil
}

// Topics returns copies of all topics known for a group, sorted by name.
func (s *InMemoryStore) Topics(groupID string) ([]core.Topic, error) {
	g, ok := s.lookupGroup(groupID)
	if !ok {
		return []core.Topic{}, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]core.Topic, 0, len(g.topics))
	for _, t := range g.topics {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
