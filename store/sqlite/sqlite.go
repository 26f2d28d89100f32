package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/parley/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	group_id      TEXT NOT NULL,
	status        TEXT NOT NULL,
	topic         TEXT NOT NULL DEFAULT '',
	initiated_by  TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMP NOT NULL,
	ended_at      TIMESTAMP,
	end_reason    TEXT NOT NULL DEFAULT '',
	message_count INTEGER NOT NULL DEFAULT 0,
	last_activity TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_single_active
	ON conversations(group_id) WHERE status = 'active';

CREATE INDEX IF NOT EXISTS idx_conversations_group
	ON conversations(group_id, status);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	sender_id       TEXT NOT NULL,
	content         TEXT NOT NULL,
	sent_at         TIMESTAMP NOT NULL,
	is_follow_up    BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id);

CREATE TABLE IF NOT EXISTS participants (
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	agent_id        TEXT NOT NULL,
	joined_at       TIMESTAMP NOT NULL,
	message_count   INTEGER NOT NULL DEFAULT 0,
	last_active_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (conversation_id, agent_id)
);

CREATE TABLE IF NOT EXISTS topics (
	id                TEXT PRIMARY KEY,
	group_id          TEXT NOT NULL,
	name              TEXT NOT NULL,
	keywords          TEXT NOT NULL DEFAULT '[]',
	last_discussed_at TIMESTAMP,
	agent_interest    TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_topics_group
	ON topics(group_id);
`

const conversationColumns = `id, group_id, status, topic, initiated_by, started_at, ended_at, end_reason, message_count, last_activity`

// Store is a durable core.Store implementation backed by a single SQLite
// database file. State survives process restarts, which is what lets a
// coordinator resume exactly where it left off after a crash or redeploy.
//
// The single-ACTIVE-per-group invariant is enforced twice: by an explicit
// check inside the creation transaction and, as the hard backstop, by a
// partial unique index on (group_id) WHERE status = 'active'. All write
// methods run in immediate transactions so concurrent writers serialize at
// the database instead of racing.
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) the SQLite database at path and applies
// the schema. The connection uses WAL journaling, foreign keys, a busy
// timeout and immediate write transactions.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying *sql.DB for shared access.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversation stores a new conversation. Missing id/status/timestamps
// are filled in. Creating an ACTIVE conversation while the group already has
// one fails with core.ErrConflict; the check and the insert share one
// transaction so concurrent creators cannot both win.
func (s *Store) CreateConversation(conv core.Conversation) (string, error) {
	if conv.GroupID == "" {
		return "", fmt.Errorf("create conversation: missing group id")
	}
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

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM conversations WHERE id = ?`, stored.ID).Scan(&exists); err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	if exists > 0 {
		return "", fmt.Errorf("conversation %s already exists", stored.ID)
	}

	if stored.Status == core.StatusActive {
		var active int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM conversations WHERE group_id = ? AND status = ?`,
			stored.GroupID, string(core.StatusActive)).Scan(&active); err != nil {
			return "", fmt.Errorf("create conversation: %w", err)
		}
		if active > 0 {
			return "", fmt.Errorf("group %s: %w", stored.GroupID, core.ErrConflict)
		}
	}

	_, err = tx.Exec(`INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.GroupID, string(stored.Status), stored.Topic, stored.InitiatedBy,
		stored.StartedAt, nullableTime(stored.EndedAt), string(stored.EndReason),
		stored.MessageCount, stored.LastActivity)
	if err != nil {
		if isActiveConflict(err) {
			return "", fmt.Errorf("group %s: %w", stored.GroupID, core.ErrConflict)
		}
		return "", fmt.Errorf("create conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return stored.ID, nil
}

// Conversation returns the conversation with the given id.
func (s *Store) Conversation(id string) (core.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return core.Conversation{}, fmt.Errorf("conversation %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Conversation{}, fmt.Errorf("conversation %s: %w", id, err)
	}
	return conv, nil
}

// GroupConversations returns all conversations recorded for a group, most
// recently created first.
func (s *Store) GroupConversations(groupID string) ([]core.Conversation, error) {
	rows, err := s.db.Query(`SELECT `+conversationColumns+` FROM conversations
		WHERE group_id = ? ORDER BY rowid DESC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("group conversations: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

// ActiveConversations returns the group's ACTIVE conversations. Given the
// single-ACTIVE invariant the result holds at most one element.
func (s *Store) ActiveConversations(groupID string) ([]core.Conversation, error) {
	rows, err := s.db.Query(`SELECT `+conversationColumns+` FROM conversations
		WHERE group_id = ? AND status = ?`, groupID, string(core.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("active conversations: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

// EndConversation moves a conversation to ENDED recording the reason and end
// timestamp. Ending an already-ENDED conversation is an idempotent no-op; an
// unknown id fails with core.ErrNotFound. An empty reason is recorded as an
// explicit end signal.
func (s *Store) EndConversation(id string, reason core.EndReason) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`SELECT status FROM conversations WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("end conversation %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	if core.Status(status) == core.StatusEnded {
		return nil
	}
	if reason == "" {
		reason = core.EndReasonSignal
	}
	_, err = tx.Exec(`UPDATE conversations SET status = ?, ended_at = ?, end_reason = ? WHERE id = ?`,
		string(core.StatusEnded), time.Now().UTC(), string(reason), id)
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	return tx.Commit()
}

// RecordMessage appends a message to its conversation. A duplicate message id
// is an idempotent no-op returning recorded=false. On an ACTIVE conversation
// the write also advances MessageCount/LastActivity and upserts the sender's
// participant row in the same transaction; an ENDED conversation absorbs the
// message as history without any counter or participant updates.
func (s *Store) RecordMessage(msg core.Message) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("record message: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`SELECT status FROM conversations WHERE id = ?`, msg.ConversationID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("record message: conversation %s: %w", msg.ConversationID, core.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("record message: %w", err)
	}

	stored := msg
	if stored.ID == "" {
		stored.ID = core.NewID()
	}
	if stored.SentAt.IsZero() {
		stored.SentAt = time.Now().UTC()
	}

	res, err := tx.Exec(`INSERT OR IGNORE INTO messages (id, conversation_id, sender_id, content, sent_at, is_follow_up)
		VALUES (?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.ConversationID, stored.SenderID, stored.Content, stored.SentAt, stored.IsFollowUp)
	if err != nil {
		return false, fmt.Errorf("record message: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record message: %w", err)
	}
	if inserted == 0 {
		return false, nil
	}

	if core.Status(status) == core.StatusActive {
		_, err = tx.Exec(`UPDATE conversations SET message_count = message_count + 1, last_activity = ? WHERE id = ?`,
			stored.SentAt, stored.ConversationID)
		if err != nil {
			return false, fmt.Errorf("record message: %w", err)
		}
		_, err = tx.Exec(`INSERT INTO participants (conversation_id, agent_id, joined_at, message_count, last_active_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(conversation_id, agent_id) DO UPDATE SET
				message_count = message_count + 1,
				last_active_at = excluded.last_active_at`,
			stored.ConversationID, stored.SenderID, stored.SentAt, stored.SentAt)
		if err != nil {
			return false, fmt.Errorf("record message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("record message: %w", err)
	}
	return true, nil
}

// Messages returns the conversation's messages in arrival order.
func (s *Store) Messages(conversationID string) ([]core.Message, error) {
	if err := s.requireConversation("messages", conversationID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT id, conversation_id, sender_id, content, sent_at, is_follow_up
		FROM messages WHERE conversation_id = ? ORDER BY rowid ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	defer rows.Close()

	out := []core.Message{}
	for rows.Next() {
		var m core.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.SentAt, &m.IsFollowUp); err != nil {
			return nil, fmt.Errorf("messages: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddParticipant joins an agent to a conversation. Joining an agent that is
// already a participant is an idempotent no-op so tagged agents and later
// speakers never collide.
func (s *Store) AddParticipant(conversationID string, p core.Participant) error {
	if err := s.requireConversation("add participant", conversationID); err != nil {
		return err
	}
	stored := p
	stored.ConversationID = conversationID
	if stored.JoinedAt.IsZero() {
		stored.JoinedAt = time.Now().UTC()
	}
	if stored.LastActiveAt.IsZero() {
		stored.LastActiveAt = stored.JoinedAt
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO participants (conversation_id, agent_id, joined_at, message_count, last_active_at)
		VALUES (?, ?, ?, ?, ?)`,
		stored.ConversationID, stored.AgentID, stored.JoinedAt, stored.MessageCount, stored.LastActiveAt)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

// Participant returns the participant row for the given conversation/agent
// pair, or core.ErrNotFound when the agent never joined.
func (s *Store) Participant(conversationID, agentID string) (core.Participant, error) {
	var p core.Participant
	err := s.db.QueryRow(`SELECT conversation_id, agent_id, joined_at, message_count, last_active_at
		FROM participants WHERE conversation_id = ? AND agent_id = ?`, conversationID, agentID).
		Scan(&p.ConversationID, &p.AgentID, &p.JoinedAt, &p.MessageCount, &p.LastActiveAt)
	if err == sql.ErrNoRows {
		return core.Participant{}, fmt.Errorf("participant %s/%s: %w", conversationID, agentID, core.ErrNotFound)
	}
	if err != nil {
		return core.Participant{}, fmt.Errorf("participant: %w", err)
	}
	return p, nil
}

// Participants returns all participant rows of a conversation in join order.
func (s *Store) Participants(conversationID string) ([]core.Participant, error) {
	if err := s.requireConversation("participants", conversationID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT conversation_id, agent_id, joined_at, message_count, last_active_at
		FROM participants WHERE conversation_id = ? ORDER BY rowid ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("participants: %w", err)
	}
	defer rows.Close()

	out := []core.Participant{}
	for rows.Next() {
		var p core.Participant
		if err := rows.Scan(&p.ConversationID, &p.AgentID, &p.JoinedAt, &p.MessageCount, &p.LastActiveAt); err != nil {
			return nil, fmt.Errorf("participants: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertTopic inserts or replaces a topic record. A missing id is assigned so
// freshly generated topics can be stored directly.
func (s *Store) UpsertTopic(t core.Topic) error {
	if t.GroupID == "" {
		return fmt.Errorf("upsert topic: missing group id")
	}
	stored := t.Clone()
	if stored.ID == "" {
		stored.ID = core.NewID()
	}
	keywords, err := json.Marshal(stored.Keywords)
	if err != nil {
		return fmt.Errorf("upsert topic: %w", err)
	}
	if stored.Keywords == nil {
		keywords = []byte("[]")
	}
	interest, err := json.Marshal(stored.AgentInterest)
	if err != nil {
		return fmt.Errorf("upsert topic: %w", err)
	}
	if stored.AgentInterest == nil {
		interest = []byte("{}")
	}
	_, err = s.db.Exec(`INSERT INTO topics (id, group_id, name, keywords, last_discussed_at, agent_interest)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			group_id = excluded.group_id,
			name = excluded.name,
			keywords = excluded.keywords,
			last_discussed_at = excluded.last_discussed_at,
			agent_interest = excluded.agent_interest`,
		stored.ID, stored.GroupID, stored.Name, string(keywords),
		nullableTime(stored.LastDiscussedAt), string(interest))
	if err != nil {
		return fmt.Errorf("upsert topic: %w", err)
	}
	return nil
}

// Topics returns all topics known for a group, sorted by name.
func (s *Store) Topics(groupID string) ([]core.Topic, error) {
	rows, err := s.db.Query(`SELECT id, group_id, name, keywords, last_discussed_at, agent_interest
		FROM topics WHERE group_id = ? ORDER BY name ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("topics: %w", err)
	}
	defer rows.Close()

	out := []core.Topic{}
	for rows.Next() {
		var (
			t         core.Topic
			keywords  string
			interest  string
			discussed sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.GroupID, &t.Name, &keywords, &discussed, &interest); err != nil {
			return nil, fmt.Errorf("topics: %w", err)
		}
		if err := json.Unmarshal([]byte(keywords), &t.Keywords); err != nil {
			return nil, fmt.Errorf("topics: decode keywords: %w", err)
		}
		if err := json.Unmarshal([]byte(interest), &t.AgentInterest); err != nil {
			return nil, fmt.Errorf("topics: decode agent interest: %w", err)
		}
		if discussed.Valid {
			ts := discussed.Time
			t.LastDiscussedAt = &ts
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// requireConversation fails with core.ErrNotFound when the conversation id is
// unknown.
func (s *Store) requireConversation(op, conversationID string) error {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE id = ?`, conversationID).Scan(&exists); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if exists == 0 {
		return fmt.Errorf("%s: conversation %s: %w", op, conversationID, core.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (core.Conversation, error) {
	var (
		conv    core.Conversation
		status  string
		reason  string
		endedAt sql.NullTime
	)
	err := row.Scan(&conv.ID, &conv.GroupID, &status, &conv.Topic, &conv.InitiatedBy,
		&conv.StartedAt, &endedAt, &reason, &conv.MessageCount, &conv.LastActivity)
	if err != nil {
		return core.Conversation{}, err
	}
	conv.Status = core.Status(status)
	conv.EndReason = core.EndReason(reason)
	if endedAt.Valid {
		ts := endedAt.Time
		conv.EndedAt = &ts
	}
	return conv, nil
}

func scanConversations(rows *sql.Rows) ([]core.Conversation, error) {
	out := []core.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// isActiveConflict matches the unique violation raised by the partial index
// guarding the single-ACTIVE invariant.
func isActiveConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "conversations.group_id")
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
