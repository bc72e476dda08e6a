package harness

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Utterance is one side of a turn waiting to be written.
type Utterance struct {
	Content string
	At      time.Time
}

// TurnPersister writes a finished turn in a single transaction. It never retries.
type TurnPersister struct {
	store     ports.ConversationStore
	timeout   time.Duration
	maxLength int
	tracer    ports.Tracer
	logger    zerolog.Logger
}

// NewTurnPersister creates a persister. maxLength bounds stored content in characters.
func NewTurnPersister(store ports.ConversationStore, timeout time.Duration, maxLength int, tracer ports.Tracer, logger zerolog.Logger) *TurnPersister {
	return &TurnPersister{store: store, timeout: timeout, maxLength: maxLength, tracer: tracer, logger: logger}
}

// Commit appends the user message and, when present, the assistant message, and
// touches the conversation's last activity, all in one unit of work.
func (p *TurnPersister) Commit(ctx context.Context, conversationID, userID string, user Utterance, assistant *Utterance) error {
	const op = "commit"

	// The turn is recorded even if the caller has gone away.
	ctx = context.WithoutCancel(ctx)
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	ctx, finish := p.tracer.StartSpan(ctx, "persist_turn", map[string]any{
		"conversation_id": conversationID,
		"with_reply":      assistant != nil,
	})

	msgs := []ports.Message{p.message(conversationID, userID, ports.RoleUser, user)}
	touchedAt := user.At
	if assistant != nil {
		msgs = append(msgs, p.message(conversationID, userID, ports.RoleAssistant, *assistant))
		touchedAt = assistant.At
	}

	err := p.store.RunInTx(ctx, func(tx ports.ConversationStore) error {
		if err := tx.AppendMessages(ctx, conversationID, msgs); err != nil {
			return fmt.Errorf("append messages: %w", err)
		}
		if err := tx.TouchConversation(ctx, conversationID, touchedAt); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return nil
	})
	finish(err)
	if err != nil {
		p.logger.Error().Err(err).Str("conversation_id", conversationID).Int("messages", len(msgs)).Msg("turn persistence failed")
		return newError(KindPersistence, op, err)
	}
	return nil
}

func (p *TurnPersister) message(conversationID, userID, role string, u Utterance) ports.Message {
	return ports.Message{
		ID:             newMessageID(),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        truncateRunes(u.Content, p.maxLength),
		CreatedAt:      u.At,
	}
}

// newMessageID returns a time-ordered id so ties on created_at sort by insertion.
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
