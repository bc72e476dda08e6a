package harness

import (
	"context"
	"errors"

	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
)

const (
	DefaultConversationPage = 50
	MaxConversationPage     = 100
	DefaultMessagePage      = 100
	MaxMessagePage          = 500
)

// Conversations serves ownership-checked reads and deletes outside the turn loop.
type Conversations struct {
	store ports.ConversationStore
}

func NewConversations(store ports.ConversationStore) *Conversations {
	return &Conversations{store: store}
}

// List returns the user's conversations, most recently active first.
func (c *Conversations) List(ctx context.Context, userID string, limit int) ([]ports.Conversation, error) {
	convs, err := c.store.ListConversations(ctx, userID, clampPage(limit, DefaultConversationPage, MaxConversationPage))
	if err != nil {
		return nil, newError(KindPersistence, "list_conversations", err)
	}
	return convs, nil
}

// Messages returns up to limit newest messages of a conversation, oldest first.
func (c *Conversations) Messages(ctx context.Context, userID, conversationID string, limit int) ([]ports.Message, error) {
	const op = "list_messages"
	if err := c.authorize(ctx, op, userID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := c.store.LoadRecentMessages(ctx, userID, conversationID, clampPage(limit, DefaultMessagePage, MaxMessagePage))
	if err != nil {
		return nil, newError(KindPersistence, op, err)
	}
	return msgs, nil
}

// Delete removes a conversation and its messages, returning the number of messages removed.
func (c *Conversations) Delete(ctx context.Context, userID, conversationID string) (int, error) {
	const op = "delete_conversation"
	if err := c.authorize(ctx, op, userID, conversationID); err != nil {
		return 0, err
	}
	n, err := c.store.DeleteConversation(ctx, userID, conversationID)
	if err != nil {
		if errors.Is(err, ports.ErrConversationNotFound) {
			return 0, newError(KindAuthorization, op, err)
		}
		return 0, newError(KindPersistence, op, err)
	}
	return n, nil
}

func (c *Conversations) authorize(ctx context.Context, op, userID, conversationID string) error {
	if conversationID == "" {
		return validationError(op, "A conversation id is required.")
	}
	owner, err := c.store.GetConversationOwner(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ports.ErrConversationNotFound) {
			return newError(KindAuthorization, op, err)
		}
		return newError(KindPersistence, op, err)
	}
	if owner != userID {
		return newError(KindAuthorization, op, errors.New("conversation owned by another user"))
	}
	return nil
}

func clampPage(limit, def, ceiling int) int {
	if limit <= 0 {
		return def
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}
