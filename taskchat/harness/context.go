package harness

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
)

const (
	DefaultHistoryLimit  = 20
	MaxHistoryLimit      = 50
	DefaultHistoryTokens = 4000
)

// Budget bounds the history window handed to the decider.
type Budget struct {
	MaxMessages int // most recent messages loaded, clamped to MaxHistoryLimit
	MaxTokens   int // estimated token ceiling for the loaded messages
}

// AssembledContext is the output of Assemble.
type AssembledContext struct {
	ConversationID string
	History        []ports.Message // chronological, newest last
	Created        bool            // conversation was allocated by this call
}

// ContextAssembler resolves the conversation for a turn and loads its bounded history.
type ContextAssembler struct {
	store  ports.ConversationStore
	budget Budget
	// TokenEstimator should be a fast heuristic; we avoid binding to a specific tokenizer here.
	TokenEstimator func(s string) int
	now            func() time.Time
}

func NewContextAssembler(store ports.ConversationStore, b Budget, est func(s string) int) *ContextAssembler {
	if est == nil {
		est = EstimateTokens
	}
	if b.MaxMessages <= 0 {
		b.MaxMessages = DefaultHistoryLimit
	}
	if b.MaxMessages > MaxHistoryLimit {
		b.MaxMessages = MaxHistoryLimit
	}
	if b.MaxTokens <= 0 {
		b.MaxTokens = DefaultHistoryTokens
	}
	return &ContextAssembler{store: store, budget: b, TokenEstimator: est, now: time.Now}
}

// EstimateTokens is a rough heuristic: ~4 characters per token. Characters
// are runes, so non-ASCII text is not overcounted by its byte length.
func EstimateTokens(s string) int {
	l := utf8.RuneCountInString(s)
	if l == 0 {
		return 0
	}
	return (l + 3) / 4
}

// Budget returns the effective (clamped) budget.
func (a *ContextAssembler) Budget() Budget { return a.budget }

// Assemble creates a conversation when conversationID is empty, otherwise checks
// that userID owns it and loads its recent history.
func (a *ContextAssembler) Assemble(ctx context.Context, userID, conversationID string) (AssembledContext, error) {
	const op = "assemble"

	if conversationID == "" {
		id, err := a.store.CreateConversation(ctx, userID, a.now())
		if err != nil {
			return AssembledContext{}, newError(KindPersistence, op, err)
		}
		return AssembledContext{ConversationID: id, Created: true}, nil
	}

	owner, err := a.store.GetConversationOwner(ctx, conversationID)
	if err != nil {
		// Unknown ids are reported like foreign ones so the response is not an existence oracle.
		if errors.Is(err, ports.ErrConversationNotFound) {
			return AssembledContext{}, newError(KindAuthorization, op, err)
		}
		return AssembledContext{}, newError(KindPersistence, op, err)
	}
	if owner != userID {
		return AssembledContext{}, newError(KindAuthorization, op, errors.New("conversation owned by another user"))
	}

	msgs, err := a.store.LoadRecentMessages(ctx, userID, conversationID, a.budget.MaxMessages)
	if err != nil {
		return AssembledContext{}, newError(KindPersistence, op, err)
	}

	return AssembledContext{ConversationID: conversationID, History: a.Trim(msgs)}, nil
}

// Trim applies the message-count and token budgets to a chronological history,
// dropping oldest messages first. The most recent message is always kept.
func (a *ContextAssembler) Trim(msgs []ports.Message) []ports.Message {
	if len(msgs) == 0 {
		return nil
	}
	if len(msgs) > a.budget.MaxMessages {
		msgs = msgs[len(msgs)-a.budget.MaxMessages:]
	}

	start := len(msgs) - 1
	total := a.TokenEstimator(msgs[start].Content)
	for i := start - 1; i >= 0; i-- {
		cost := a.TokenEstimator(msgs[i].Content)
		if total+cost > a.budget.MaxTokens {
			break
		}
		total += cost
		start = i
	}

	out := make([]ports.Message, len(msgs)-start)
	copy(out, msgs[start:])
	return out
}
