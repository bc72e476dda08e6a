package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// State is a node of the turn state machine.
type State string

const (
	StateStart             State = "start"
	StateAssembleContext   State = "assemble_context"
	StateDecide            State = "decide"
	StateExecuteOperations State = "execute_operations"
	StatePersist           State = "persist"
	StateDone              State = "done"
	StateError             State = "error"
)

// Outcome describes how a turn ended.
type Outcome string

const (
	OutcomeReply     Outcome = "reply"     // the decider produced a reply
	OutcomeExhausted Outcome = "exhausted" // round bound hit, fallback reply persisted
	OutcomeFallback  Outcome = "fallback"  // decision failure, only the user message persisted
)

// Policy controls orchestration behavior.
type Policy struct {
	MaxRounds        int // Decide/ExecuteOperations round trips per turn
	MaxMessageLength int // inbound message bound, in characters
	ToolConcurrency  int // parallel operations within one step
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRounds:        5,
		MaxMessageLength: 10000,
		ToolConcurrency:  5,
	}
}

// TurnRequest is the inbound submitTurn call.
type TurnRequest struct {
	UserID         string
	ConversationID string // empty starts a new conversation
	Message        string
}

// TurnResult is the final output of a turn.
type TurnResult struct {
	ConversationID  string                 `json:"conversation_id"`
	Reply           string                 `json:"reply"`
	ToolInvocations []ToolInvocationRecord `json:"tool_invocations"`
	CreatedAt       time.Time              `json:"created_at"`
	Outcome         Outcome                `json:"outcome"`
	Rounds          int                    `json:"rounds"`
}

// HarnessOrchestrator runs the per-turn state machine. It holds no per-request state.
type HarnessOrchestrator struct {
	limiter   ports.RateLimiter
	assembler *ContextAssembler
	decisions *DecisionAdapter
	gateway   *ToolGateway
	persister *TurnPersister
	builder   *PromptBuilder
	tracer    ports.Tracer
	logger    zerolog.Logger
	policy    *Policy
	now       func() time.Time
}

// NewHarnessOrchestrator creates a new orchestrator with dependencies.
func NewHarnessOrchestrator(
	limiter ports.RateLimiter,
	assembler *ContextAssembler,
	decisions *DecisionAdapter,
	gateway *ToolGateway,
	persister *TurnPersister,
	builder *PromptBuilder,
	tracer ports.Tracer,
	logger zerolog.Logger,
	policy *Policy,
) *HarnessOrchestrator {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &HarnessOrchestrator{
		limiter:   limiter,
		assembler: assembler,
		decisions: decisions,
		gateway:   gateway,
		persister: persister,
		builder:   builder,
		tracer:    tracer,
		logger:    logger,
		policy:    policy,
		now:       time.Now,
	}
}

// turn carries the state of one SubmitTurn call.
type turn struct {
	userID     string
	message    string
	receivedAt time.Time
	assembled  AssembledContext
	input      ports.DecisionInput
	pending    []ports.ToolCall
	records    []ToolInvocationRecord
	rounds     int
	reply      string
	outcome    Outcome
	failure    error
}

// SubmitTurn handles one user message end to end.
//
// Validation, rate limiting and authorization failures are returned as *Error
// before any state changes. Decision failures end in a fallback reply with a
// nil error; only persistence failures escape once the loop has started.
func (o *HarnessOrchestrator) SubmitTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	const op = "submit_turn"

	message := strings.TrimSpace(req.Message)
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return nil, validationError(op, "A user id is required.")
	case message == "":
		return nil, validationError(op, "Message cannot be empty.")
	case o.policy.MaxMessageLength > 0 && utf8.RuneCountInString(message) > o.policy.MaxMessageLength:
		return nil, validationError(op, "Message is too long.")
	}

	t := &turn{userID: req.UserID, message: message, receivedAt: o.now()}

	if adm := o.limiter.Admit(ctx, req.UserID, t.receivedAt); !adm.Allowed {
		return nil, &Error{
			Kind:       KindRateLimited,
			Op:         op,
			Message:    publicMessages[KindRateLimited],
			RetryAfter: adm.RetryAfter,
			Limit:      adm.Limit,
			Window:     adm.Window,
		}
	}

	ctx, finish := o.tracer.StartSpan(ctx, "turn", map[string]any{
		"conversation_id": req.ConversationID,
	})

	result, err := o.run(ctx, t, req.ConversationID)
	finish(err)
	return result, err
}

func (o *HarnessOrchestrator) run(ctx context.Context, t *turn, conversationID string) (*TurnResult, error) {
	state := StateStart

	for {
		switch state {
		case StateStart:
			state = StateAssembleContext

		case StateAssembleContext:
			assembled, err := o.assembler.Assemble(ctx, t.userID, conversationID)
			if err != nil {
				return nil, err
			}
			t.assembled = assembled
			t.input = o.builder.Build(assembled.History, t.message, o.gateway.Specs())
			state = StateDecide

		case StateDecide:
			d, err := o.decisions.Decide(ctx, t.input)
			switch {
			case err != nil:
				t.failure = err
				state = StateError
			case d.IsReply():
				t.reply = d.Text
				t.outcome = OutcomeReply
				state = StatePersist
			case t.rounds >= o.policy.MaxRounds:
				o.tracer.Event(ctx, "rounds_exhausted", map[string]any{"rounds": t.rounds})
				t.reply = ExhaustedReply
				t.outcome = OutcomeExhausted
				state = StatePersist
			default:
				t.pending = d.ToolCalls
				state = StateExecuteOperations
			}

		case StateExecuteOperations:
			t.rounds++
			records := o.executeOperations(ctx, t.userID, t.rounds, t.pending)
			t.records = append(t.records, records...)
			t.input.Steps = append(t.input.Steps, toStep(t.pending, records))
			t.pending = nil
			state = StateDecide

		case StatePersist:
			at := o.now()
			if !at.After(t.receivedAt) {
				at = t.receivedAt.Add(time.Microsecond)
			}
			err := o.persister.Commit(ctx, t.assembled.ConversationID, t.userID,
				Utterance{Content: t.message, At: t.receivedAt},
				&Utterance{Content: t.reply, At: at},
			)
			if err != nil {
				return nil, err
			}
			return o.result(t, at), nil

		case StateError:
			kind := KindOf(t.failure)
			event := o.logger.Warn()
			if kind == KindDecisionMisconfigured {
				event = o.logger.Error()
			}
			event.Err(t.failure).
				Str("conversation_id", t.assembled.ConversationID).
				Str("kind", string(kind)).
				Int("rounds", t.rounds).
				Msg("turn fell back")

			if err := o.persister.Commit(ctx, t.assembled.ConversationID, t.userID,
				Utterance{Content: t.message, At: t.receivedAt}, nil); err != nil {
				return nil, err
			}
			t.reply = fallbackReply(kind)
			t.outcome = OutcomeFallback
			return o.result(t, o.now()), nil

		default:
			return nil, fmt.Errorf("unknown turn state %q", state)
		}
	}
}

func (o *HarnessOrchestrator) result(t *turn, at time.Time) *TurnResult {
	records := t.records
	if records == nil {
		records = []ToolInvocationRecord{}
	}
	return &TurnResult{
		ConversationID:  t.assembled.ConversationID,
		Reply:           t.reply,
		ToolInvocations: records,
		CreatedAt:       at,
		Outcome:         t.outcome,
		Rounds:          t.rounds,
	}
}

// executeOperations runs one step's calls. Calls without declared dependencies
// run concurrently; dependent calls wait for the wave that satisfies them.
func (o *HarnessOrchestrator) executeOperations(ctx context.Context, userID string, round int, calls []ports.ToolCall) []ToolInvocationRecord {
	ctx, finish := o.tracer.StartSpan(ctx, "execute_operations", map[string]any{
		"round": round,
		"calls": len(calls),
	})
	defer finish(nil)

	records := make([]ToolInvocationRecord, len(calls))
	for _, wave := range planWaves(calls) {
		p := pool.New().WithMaxGoroutines(max(1, o.policy.ToolConcurrency))
		for _, idx := range wave {
			p.Go(func() {
				rec := o.gateway.Execute(ctx, userID, calls[idx])
				rec.Round = round
				records[idx] = rec
			})
		}
		p.Wait()
	}

	for _, rec := range records {
		if rec.Failed() {
			o.logger.Warn().
				Str("operation", rec.Operation).
				Str("kind", rec.Error.Kind).
				Int("round", round).
				Msg("operation failed")
		}
	}
	return records
}

// planWaves groups call indexes into sequential waves. Unknown dependency ids are
// ignored; a cycle is broken by taking the earliest remaining call.
func planWaves(calls []ports.ToolCall) [][]int {
	index := make(map[string]int, len(calls))
	for i, c := range calls {
		index[c.ID] = i
	}

	done := make([]bool, len(calls))
	remaining := len(calls)
	var waves [][]int

	for remaining > 0 {
		var wave []int
		for i, c := range calls {
			if done[i] {
				continue
			}
			ready := true
			for _, dep := range c.DependsOn {
				if j, ok := index[dep]; ok && j != i && !done[j] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, i)
			}
		}
		if len(wave) == 0 {
			for i := range calls {
				if !done[i] {
					wave = []int{i}
					break
				}
			}
		}
		for _, i := range wave {
			done[i] = true
		}
		remaining -= len(wave)
		waves = append(waves, wave)
	}
	return waves
}

func toStep(calls []ports.ToolCall, records []ToolInvocationRecord) ports.Step {
	step := ports.Step{Calls: calls, Results: make([]ports.ToolResult, len(records))}
	for i, rec := range records {
		res := ports.ToolResult{CallID: rec.ID, Name: rec.Operation, Content: string(rec.Result)}
		if rec.Error != nil {
			body, _ := json.Marshal(map[string]any{"error": rec.Error})
			res.Content = string(body)
			res.IsError = true
		}
		step.Results[i] = res
	}
	return step
}
