package adapters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/taskchat/taskchat/db"
	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
	"github.com/google/uuid"
)

// LibSQLConversationStore implements ConversationStore over database/sql.
// Works with both the libsql and sqlite drivers.
type LibSQLConversationStore struct {
	conn *sql.DB
	q    db.Querier
}

// NewLibSQLConversationStore creates a new LibSQL conversation store.
func NewLibSQLConversationStore(conn *sql.DB) *LibSQLConversationStore {
	return &LibSQLConversationStore{conn: conn, q: conn}
}

// CreateConversation allocates a new conversation for userID.
func (s *LibSQLConversationStore) CreateConversation(ctx context.Context, userID string, now time.Time) (string, error) {
	id := uuid.New().String()
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, userID, now.UnixMicro(), now.UnixMicro(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	return id, nil
}

// GetConversationOwner returns the owning user id or ErrConversationNotFound.
func (s *LibSQLConversationStore) GetConversationOwner(ctx context.Context, conversationID string) (string, error) {
	var owner string
	err := s.q.QueryRowContext(ctx,
		`SELECT user_id FROM conversations WHERE id = ?`, conversationID,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ports.ErrConversationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up conversation: %w", err)
	}
	return owner, nil
}

// LoadRecentMessages loads the newest limit messages, returned oldest first.
func (s *LibSQLConversationStore) LoadRecentMessages(ctx context.Context, userID, conversationID string, limit int) ([]ports.Message, error) {
	query := `
		SELECT id, conversation_id, user_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ? AND user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.q.QueryContext(ctx, query, conversationID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []ports.Message
	for rows.Next() {
		var m ports.Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = time.UnixMicro(createdAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	// Reverse to get chronological order (oldest first)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// AppendMessages inserts msgs in order.
func (s *LibSQLConversationStore) AppendMessages(ctx context.Context, conversationID string, msgs []ports.Message) error {
	for _, m := range msgs {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, user_id, role, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, m.ID, conversationID, m.UserID, m.Role, m.Content, m.CreatedAt.UnixMicro())
		if err != nil {
			return fmt.Errorf("failed to append %s message: %w", m.Role, err)
		}
	}
	return nil
}

// TouchConversation moves the last-activity timestamp forward, never back.
func (s *LibSQLConversationStore) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE conversations SET updated_at = MAX(updated_at, ?) WHERE id = ?`,
		at.UnixMicro(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if n == 0 {
		return ports.ErrConversationNotFound
	}
	return nil
}

// RunInTx runs fn against a store bound to one transaction. Nested calls reuse
// the outer transaction.
func (s *LibSQLConversationStore) RunInTx(ctx context.Context, fn func(ports.ConversationStore) error) error {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return fn(s)
	}
	return db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		return fn(&LibSQLConversationStore{conn: s.conn, q: tx})
	})
}

// ListConversations returns the user's conversations, newest activity first.
func (s *LibSQLConversationStore) ListConversations(ctx context.Context, userID string, limit int) ([]ports.Conversation, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT c.id, c.user_id, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		WHERE c.user_id = ?
		ORDER BY c.updated_at DESC, c.id
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	convs := []ports.Conversation{}
	for rows.Next() {
		var c ports.Conversation
		var createdAt, updatedAt int64
		if err := rows.Scan(&c.ID, &c.UserID, &createdAt, &updatedAt, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		c.CreatedAt = time.UnixMicro(createdAt)
		c.UpdatedAt = time.UnixMicro(updatedAt)
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}
	return convs, nil
}

// DeleteConversation removes the conversation and its messages. Messages are
// deleted explicitly since foreign key enforcement depends on the connection.
func (s *LibSQLConversationStore) DeleteConversation(ctx context.Context, userID, conversationID string) (int, error) {
	deleted := 0
	err := s.RunInTx(ctx, func(store ports.ConversationStore) error {
		q := store.(*LibSQLConversationStore).q

		res, err := q.ExecContext(ctx,
			`DELETE FROM messages WHERE conversation_id = ? AND user_id = ?`, conversationID, userID)
		if err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}

		res, err = q.ExecContext(ctx,
			`DELETE FROM conversations WHERE id = ? AND user_id = ?`, conversationID, userID)
		if err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		gone, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		if gone == 0 {
			return ports.ErrConversationNotFound
		}
		deleted = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Ensure LibSQLConversationStore implements the ConversationStore interface.
var _ ports.ConversationStore = (*LibSQLConversationStore)(nil)
