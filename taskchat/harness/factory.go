package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/taskchat/taskchat/config"
	"github.com/ZanzyTHEbar/taskchat/taskchat/harness/adapters"
	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
	"github.com/ZanzyTHEbar/taskchat/taskchat/harness/tools"
	"github.com/rs/zerolog"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	BackendMemory = "memory"
	BackendSQL    = "sql"
	BackendBolt   = "bolt"
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	cfg    *config.Config
	db     *sql.DB
	logger zerolog.Logger
}

// Components is a fully wired engine.
type Components struct {
	Orchestrator  *HarnessOrchestrator
	Conversations *Conversations
	Limiter       adapters.ManagedLimiter
}

// NewFactory creates a new harness factory.
func NewFactory(cfg *config.Config, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, db: db, logger: logger}
}

// Build wires every component, including the configured decider.
func (f *Factory) Build(ctx context.Context) (*Components, error) {
	decider, err := f.CreateDecider(ctx)
	if err != nil {
		return nil, err
	}
	limiter, err := f.CreateRateLimiter()
	if err != nil {
		return nil, err
	}
	orchestrator, err := f.CreateOrchestrator(decider, limiter)
	if err != nil {
		return nil, err
	}
	return &Components{
		Orchestrator:  orchestrator,
		Conversations: NewConversations(f.CreateStore()),
		Limiter:       limiter,
	}, nil
}

// CreateOrchestrator wires an orchestrator around the given decider and limiter.
func (f *Factory) CreateOrchestrator(decider ports.Decider, limiter ports.RateLimiter) (*HarnessOrchestrator, error) {
	if f.db == nil {
		return nil, errors.New("harness factory requires a database")
	}
	if decider == nil {
		return nil, errors.New("harness factory requires a decider")
	}
	if limiter == nil {
		limiter = &noOpRateLimiter{}
	}

	hc := f.cfg.Harness
	policy := f.CreatePolicy()
	tracer := f.CreateTracer()
	store := f.CreateStore()

	gateway, err := f.CreateGateway(f.CreateTaskStore(), tracer)
	if err != nil {
		return nil, err
	}

	assembler := NewContextAssembler(store, Budget{
		MaxMessages: hc.HistoryLimit,
		MaxTokens:   hc.HistoryTokenBudget,
	}, nil)
	if assembler.Budget().MaxMessages != hc.HistoryLimit {
		f.logger.Warn().
			Int("history_limit", hc.HistoryLimit).
			Int("effective", assembler.Budget().MaxMessages).
			Msg("history limit clamped")
	}

	decisions := NewDecisionAdapter(decider, hc.DecisionTimeout, hc.DecisionRetryBackoff, tracer)
	persister := NewTurnPersister(store, hc.PersistTimeout, policy.MaxMessageLength, tracer, f.logger)

	return NewHarnessOrchestrator(
		limiter,
		assembler,
		decisions,
		gateway,
		persister,
		NewPromptBuilder(SystemPrompt),
		tracer,
		f.logger,
		policy,
	), nil
}

// CreatePolicy creates a policy from config with validation.
func (f *Factory) CreatePolicy() *Policy {
	hc := f.cfg.Harness
	policy := &Policy{
		MaxRounds:        hc.MaxRounds,
		MaxMessageLength: hc.MaxMessageLength,
		ToolConcurrency:  hc.ToolConcurrency,
	}

	if policy.MaxRounds < 1 {
		policy.MaxRounds = 1
		f.logger.Warn().Int("max_rounds", hc.MaxRounds).Msg("MaxRounds clamped to minimum of 1")
	}
	if policy.MaxRounds > 10 {
		policy.MaxRounds = 10
		f.logger.Warn().Int("max_rounds", hc.MaxRounds).Msg("MaxRounds clamped to maximum of 10")
	}

	if policy.MaxMessageLength < 1 {
		policy.MaxMessageLength = DefaultPolicy().MaxMessageLength
		f.logger.Warn().Int("max_message_length", hc.MaxMessageLength).Msg("MaxMessageLength reset to default")
	}

	if policy.ToolConcurrency < 1 {
		policy.ToolConcurrency = 1
		f.logger.Warn().Int("tool_concurrency", hc.ToolConcurrency).Msg("ToolConcurrency clamped to minimum of 1")
	}

	return policy
}

// CreateRateLimiter creates the configured admission backend.
func (f *Factory) CreateRateLimiter() (adapters.ManagedLimiter, error) {
	rc := f.cfg.RateLimit
	if !rc.Enabled {
		return &noOpRateLimiter{}, nil
	}

	limits := adapters.WindowLimits{PerMinute: rc.PerMinute, PerHour: rc.PerHour}
	switch strings.ToLower(rc.Backend) {
	case "", BackendMemory:
		return adapters.NewWindowLimiter(limits, rc.Shards, rc.Capacity), nil
	case BackendSQL:
		if f.db == nil {
			return nil, errors.New("sql rate limit backend requires a database")
		}
		return adapters.NewSQLWindowLimiter(f.db, limits, f.logger), nil
	case BackendBolt:
		return adapters.OpenBoltWindowLimiter(rc.BoltPath, limits, f.logger)
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", rc.Backend)
	}
}

// CreateTracer creates a tracer adapter from config.
func (f *Factory) CreateTracer() ports.Tracer {
	if !f.cfg.Harness.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

// CreateStore creates the conversation store.
func (f *Factory) CreateStore() ports.ConversationStore {
	return adapters.NewLibSQLConversationStore(f.db)
}

// CreateTaskStore creates the task store.
func (f *Factory) CreateTaskStore() ports.TaskStore {
	return adapters.NewLibSQLTaskStore(f.db)
}

// CreateGateway registers the task operations behind the allow-list.
func (f *Factory) CreateGateway(store ports.TaskStore, tracer ports.Tracer) (*ToolGateway, error) {
	gateway := NewToolGateway(f.cfg.Harness.ToolTimeout, tracer, f.logger)
	for _, tool := range tools.All(store) {
		if err := gateway.Register(tool); err != nil {
			return nil, fmt.Errorf("register %s: %w", tool.Name(), err)
		}
	}
	return gateway, nil
}

// CreateDecider creates the configured language-model decider.
func (f *Factory) CreateDecider(ctx context.Context) (ports.Decider, error) {
	lc := f.cfg.LLM
	dc := adapters.DeciderConfig{
		Model:       lc.Model,
		APIKey:      lc.APIKey,
		BaseURL:     lc.BaseURL,
		MaxTokens:   int64(lc.MaxTokens),
		Temperature: lc.Temperature,
		UseBedrock:  lc.UseBedrock,
		AWSRegion:   lc.AWSRegion,
		AWSProfile:  lc.AWSProfile,
	}

	switch strings.ToLower(lc.Provider) {
	case "", ProviderAnthropic:
		return adapters.NewAnthropicDecider(ctx, dc)
	case ProviderOpenAI:
		return adapters.NewOpenAIDecider(dc)
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", ports.ErrDecisionMisconfigured, lc.Provider)
	}
}

// noOpRateLimiter admits everything.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Admit(ctx context.Context, userID string, now time.Time) ports.Admission {
	return ports.Admission{Allowed: true}
}
func (r *noOpRateLimiter) SetLimits(limits adapters.WindowLimits) {}
func (r *noOpRateLimiter) Prune(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// Ensure all no-op types implement their interfaces.
var (
	_ adapters.ManagedLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer            = (*noOpTracer)(nil)
)
