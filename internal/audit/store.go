// Package audit keeps the permanent relational projection of conversations
// and messages. The ephemeral store serves the hot path and forgets; this
// store is what remains for compliance and BI backfills.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashik1291/customer-live-chat-system/internal/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL,
	customer_name TEXT NOT NULL DEFAULT '',
	agent_id TEXT,
	agent_name TEXT,
	status TEXT NOT NULL,
	attributes TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	accepted_at INTEGER,
	closed_at INTEGER,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_agent ON conversations(agent_id);
CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	sender_name TEXT NOT NULL DEFAULT '',
	sender_type TEXT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp);
`

// Store is the sqlite-backed audit projection.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the audit database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveConversation upserts the conversation row. Called under the
// conversation lock, so last-writer-wins is safe.
func (s *Store) SaveConversation(ctx context.Context, conv *chat.Conversation) error {
	attrs, err := json.Marshal(conv.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	var agentID, agentName sql.NullString
	if conv.Agent != nil {
		agentID = sql.NullString{String: conv.Agent.ID, Valid: true}
		agentName = sql.NullString{String: conv.Agent.DisplayName, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, customer_id, customer_name, agent_id, agent_name, status, attributes, created_at, accepted_at, closed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id = excluded.agent_id,
			agent_name = excluded.agent_name,
			status = excluded.status,
			attributes = excluded.attributes,
			accepted_at = excluded.accepted_at,
			closed_at = excluded.closed_at,
			updated_at = excluded.updated_at`,
		conv.ID, conv.Customer.ID, conv.Customer.DisplayName, agentID, agentName,
		string(conv.Status), string(attrs), conv.CreatedAt.UnixMilli(),
		nullMillis(conv.AcceptedAt), nullMillis(conv.ClosedAt), conv.UpdatedAt.UnixMilli())
	if err != nil {
		return wrapErr("audit save conversation", err)
	}
	return nil
}

// AppendMessage records one message. Message ids are unique, so replays of
// the same append are ignored.
func (s *Store) AppendMessage(ctx context.Context, msg chat.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (id, conversation_id, sender_id, sender_name, sender_type, type, content, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Sender.ID, msg.Sender.DisplayName,
		string(msg.Sender.Type), string(msg.Type), msg.Content, msg.Timestamp.UnixMilli())
	if err != nil {
		return wrapErr("audit append message", err)
	}
	return nil
}

// Conversation loads one conversation row. Unknown ids are chat.ErrNotFound.
func (s *Store) Conversation(ctx context.Context, conversationID string) (*chat.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, customer_name, agent_id, agent_name, status, attributes, created_at, accepted_at, closed_at, updated_at
		FROM conversations WHERE id = ?`, conversationID)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, chat.ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr("audit get conversation", err)
	}
	return conv, nil
}

// ConversationsForAgent lists the agent's conversations, most recently
// updated first, optionally filtered by status.
func (s *Store) ConversationsForAgent(ctx context.Context, agentID string, statuses []chat.Status) ([]chat.Conversation, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, fmt.Errorf("%w: agent id is required", chat.ErrInvalidArgument)
	}
	query := `
		SELECT id, customer_id, customer_name, agent_id, agent_name, status, attributes, created_at, accepted_at, closed_at, updated_at
		FROM conversations WHERE agent_id = ?`
	args := []any{agentID}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("audit list conversations", err)
	}
	defer rows.Close()

	out := []chat.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, wrapErr("audit list conversations", err)
		}
		out = append(out, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("audit list conversations", err)
	}
	return out, nil
}

// Messages returns up to limit messages of the conversation in send order.
func (s *Store) Messages(ctx context.Context, conversationID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	// Newest window first, then flipped back to send order.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, sender_name, sender_type, type, content, timestamp
		FROM messages WHERE conversation_id = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, wrapErr("audit list messages", err)
	}
	defer rows.Close()

	out := []chat.Message{}
	for rows.Next() {
		var msg chat.Message
		var senderType, msgType string
		var ts int64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender.ID, &msg.Sender.DisplayName,
			&senderType, &msgType, &msg.Content, &ts); err != nil {
			return nil, wrapErr("audit list messages", err)
		}
		msg.Sender.Type = chat.ParticipantType(senderType)
		msg.Type = chat.MessageType(msgType)
		msg.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("audit list messages", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*chat.Conversation, error) {
	var conv chat.Conversation
	var agentID, agentName sql.NullString
	var status, attrs string
	var createdAt, updatedAt int64
	var acceptedAt, closedAt sql.NullInt64
	if err := row.Scan(&conv.ID, &conv.Customer.ID, &conv.Customer.DisplayName,
		&agentID, &agentName, &status, &attrs, &createdAt, &acceptedAt, &closedAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.Customer.Type = chat.ParticipantCustomer
	if agentID.Valid {
		conv.Agent = &chat.Participant{ID: agentID.String, Type: chat.ParticipantAgent, DisplayName: agentName.String}
	}
	conv.Status = chat.Status(status)
	if attrs != "" && attrs != "null" {
		_ = json.Unmarshal([]byte(attrs), &conv.Attributes)
	}
	conv.CreatedAt = time.UnixMilli(createdAt).UTC()
	conv.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if acceptedAt.Valid {
		t := time.UnixMilli(acceptedAt.Int64).UTC()
		conv.AcceptedAt = &t
	}
	if closedAt.Valid {
		t := time.UnixMilli(closedAt.Int64).UTC()
		conv.ClosedAt = &t
	}
	return &conv, nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func wrapErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, chat.ErrBackendUnavailable, err)
}
