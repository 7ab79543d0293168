// Package conversation is the durable side of the session mechanism: the
// canonical, process-independent record of conversation threads. The
// in-memory session cache is always rebuildable from here.
package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/relaydesk/relaydesk/internal/observability"
	"github.com/relaydesk/relaydesk/pkg/agent"
)

var (
	// ErrPersistence is returned when a durable read or write fails. It is
	// fatal to the calling turn.
	ErrPersistence = errors.New("conversation persistence failure")

	// ErrNotFound is returned when a conversation does not exist
	ErrNotFound = errors.New("conversation not found")
)

// Conversation is one persisted conversation row.
type Conversation struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	AgentID        string    `json:"agent_id"`
	SessionID      string    `json:"session_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// QueryOptions narrows GetConversations.
type QueryOptions struct {
	// SessionID filters to one session's conversations
	SessionID string
	// Limit caps the result count; zero means no cap
	Limit int
}

// Store is the sqlite-backed conversation and message store.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the store at the given path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for concurrent readers during request handling.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		agent_id        TEXT NOT NULL DEFAULT '',
		session_id      TEXT NOT NULL,
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_org_session
		ON conversations(organization_id, session_id, updated_at DESC);

	CREATE TABLE IF NOT EXISTS messages (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		id              TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		tool_calls      TEXT NOT NULL DEFAULT '',
		tool_call_id    TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversation inserts a new conversation and returns it.
func (s *Store) CreateConversation(ctx context.Context, organizationID, agentID, sessionID string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		AgentID:        agentID,
		SessionID:      sessionID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, organization_id, agent_id, session_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.OrganizationID, conv.AgentID, conv.SessionID, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		observability.RecordDurableWriteFailure()
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return conv, nil
}

// GetConversationByID returns one conversation.
func (s *Store) GetConversationByID(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, agent_id, session_id, created_at, updated_at
		 FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// GetConversations returns an organization's conversations, most recently
// updated first.
func (s *Store) GetConversations(ctx context.Context, organizationID string, opts QueryOptions) ([]*Conversation, error) {
	query := `SELECT id, organization_id, agent_id, session_id, created_at, updated_at
		FROM conversations WHERE organization_id = ?`
	args := []interface{}{organizationID}

	if opts.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, opts.SessionID)
	}
	query += " ORDER BY updated_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// UpdateConversation bumps the conversation's updated_at, marking it as
// recently active.
func (s *Store) UpdateConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		observability.RecordDurableWriteFailure()
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// CreateMessage appends one message to a conversation. Ordering is
// guaranteed by the insertion sequence, not by timestamps.
func (s *Store) CreateMessage(ctx context.Context, conversationID string, msg agent.Message) error {
	toolCalls := ""
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("%w: marshaling tool calls: %v", ErrPersistence, err)
		}
		toolCalls = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_call_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), conversationID, msg.Role, msg.Content, toolCalls, msg.ToolCallID, time.Now().UTC())
	if err != nil {
		observability.RecordDurableWriteFailure()
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// GetMessages returns a conversation's messages in append order.
func (s *Store) GetMessages(ctx context.Context, conversationID string) ([]agent.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id
		 FROM messages WHERE conversation_id = ? ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var messages []agent.Message
	for rows.Next() {
		var msg agent.Message
		var toolCalls string
		if err := rows.Scan(&msg.Role, &msg.Content, &toolCalls, &msg.ToolCallID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("%w: unmarshaling tool calls: %v", ErrPersistence, err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// DeleteOlderThan removes conversations whose last activity predates the
// cutoff, cascading to their messages. Returns the number removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	err := row.Scan(&conv.ID, &conv.OrganizationID, &conv.AgentID, &conv.SessionID,
		&conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return &conv, nil
}
