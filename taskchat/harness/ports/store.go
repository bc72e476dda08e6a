package harnessports

import (
	"context"
	"errors"
	"time"
)

// ErrConversationNotFound is returned when a conversation id is unknown.
var ErrConversationNotFound = errors.New("conversation not found")

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is a user's chat thread.
type Conversation struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	UpdatedAt    time.Time // last activity
	MessageCount int
}

// Message is an immutable conversation entry.
type Message struct {
	ID             string
	ConversationID string
	UserID         string
	Role           string // RoleUser | RoleAssistant
	Content        string
	CreatedAt      time.Time
}

// ConversationStore is the persistence collaborator. Every read is scoped to
// the owning user.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID string, now time.Time) (string, error)
	GetConversationOwner(ctx context.Context, conversationID string) (string, error)
	// LoadRecentMessages returns up to limit newest messages in chronological order.
	LoadRecentMessages(ctx context.Context, userID, conversationID string, limit int) ([]Message, error)
	AppendMessages(ctx context.Context, conversationID string, msgs []Message) error
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error

	// RunInTx runs fn against a store bound to a single transaction.
	RunInTx(ctx context.Context, fn func(ConversationStore) error) error

	ListConversations(ctx context.Context, userID string, limit int) ([]Conversation, error)
	DeleteConversation(ctx context.Context, userID, conversationID string) (int, error)
}
