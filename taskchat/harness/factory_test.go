package harness

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/taskchat/taskchat/config"
	"github.com/ZanzyTHEbar/taskchat/taskchat/db"
	"github.com/ZanzyTHEbar/taskchat/taskchat/harness/adapters"
	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
)

func testConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{Provider: ProviderOpenAI, APIKey: "test", MaxTokens: 256},
		Harness: config.HarnessConfig{
			MaxRounds:            5,
			MaxMessageLength:     10000,
			HistoryLimit:         20,
			HistoryTokenBudget:   4000,
			DecisionTimeout:      time.Second,
			DecisionRetryBackoff: time.Millisecond,
			ToolTimeout:          time.Second,
			PersistTimeout:       time.Second,
			ToolConcurrency:      5,
		},
		RateLimit: config.RateLimitConfig{
			Enabled:   true,
			Backend:   BackendMemory,
			PerMinute: 20,
			PerHour:   100,
			Shards:    4,
			Capacity:  100,
		},
	}
}

func newTestFactory(t *testing.T, cfg *config.Config) *Factory {
	t.Helper()
	conn, err := db.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewFactory(cfg, conn, zerolog.Nop())
}

func TestFactory_CreatePolicyClamps(t *testing.T) {
	cfg := testConfig()
	cfg.Harness.MaxRounds = 50
	cfg.Harness.MaxMessageLength = 0
	cfg.Harness.ToolConcurrency = -1

	policy := NewFactory(cfg, nil, zerolog.Nop()).CreatePolicy()
	assert.Equal(t, 10, policy.MaxRounds)
	assert.Equal(t, DefaultPolicy().MaxMessageLength, policy.MaxMessageLength)
	assert.Equal(t, 1, policy.ToolConcurrency)

	cfg.Harness.MaxRounds = 0
	assert.Equal(t, 1, NewFactory(cfg, nil, zerolog.Nop()).CreatePolicy().MaxRounds)
}

func TestFactory_CreateRateLimiter(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimit.Enabled = false
		l, err := NewFactory(cfg, nil, zerolog.Nop()).CreateRateLimiter()
		require.NoError(t, err)
		assert.IsType(t, &noOpRateLimiter{}, l)
		assert.True(t, l.Admit(context.Background(), "alice", time.Now()).Allowed)
	})

	t.Run("memory", func(t *testing.T) {
		l, err := NewFactory(testConfig(), nil, zerolog.Nop()).CreateRateLimiter()
		require.NoError(t, err)
		assert.IsType(t, &adapters.WindowLimiter{}, l)
	})

	t.Run("sql", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimit.Backend = BackendSQL
		l, err := newTestFactory(t, cfg).CreateRateLimiter()
		require.NoError(t, err)
		assert.IsType(t, &adapters.SQLWindowLimiter{}, l)

		_, err = NewFactory(cfg, nil, zerolog.Nop()).CreateRateLimiter()
		assert.Error(t, err)
	})

	t.Run("bolt", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimit.Backend = BackendBolt
		cfg.RateLimit.BoltPath = filepath.Join(t.TempDir(), "limits", "rl.bolt")
		l, err := NewFactory(cfg, nil, zerolog.Nop()).CreateRateLimiter()
		require.NoError(t, err)
		bl, ok := l.(*adapters.BoltWindowLimiter)
		require.True(t, ok)
		assert.NoError(t, bl.Close())
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimit.Backend = "redis"
		_, err := NewFactory(cfg, nil, zerolog.Nop()).CreateRateLimiter()
		assert.Error(t, err)
	})
}

func TestFactory_CreateDecider(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg := testConfig()
	d, err := NewFactory(cfg, nil, zerolog.Nop()).CreateDecider(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &adapters.OpenAIDecider{}, d)

	cfg.LLM = config.LLMConfig{Provider: ProviderAnthropic, APIKey: "test"}
	d, err = NewFactory(cfg, nil, zerolog.Nop()).CreateDecider(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &adapters.AnthropicDecider{}, d)

	for _, provider := range []string{ProviderAnthropic, ProviderOpenAI} {
		cfg.LLM = config.LLMConfig{Provider: provider}
		_, err = NewFactory(cfg, nil, zerolog.Nop()).CreateDecider(context.Background())
		assert.ErrorIs(t, err, ports.ErrDecisionMisconfigured, provider)
	}

	cfg.LLM = config.LLMConfig{Provider: "clippy"}
	_, err = NewFactory(cfg, nil, zerolog.Nop()).CreateDecider(context.Background())
	assert.ErrorIs(t, err, ports.ErrDecisionMisconfigured)
}

func TestFactory_CreateOrchestrator(t *testing.T) {
	cfg := testConfig()

	_, err := NewFactory(cfg, nil, zerolog.Nop()).CreateOrchestrator(scripted(reply("hi")), nil)
	assert.Error(t, err)

	f := newTestFactory(t, cfg)
	_, err = f.CreateOrchestrator(nil, nil)
	assert.Error(t, err)

	orch, err := f.CreateOrchestrator(scripted(
		request(op("c1", "add_task", `{"title": "water plants"}`)),
		reply("Added."),
	), nil)
	require.NoError(t, err)

	res, err := orch.SubmitTurn(context.Background(), TurnRequest{UserID: "alice", Message: "add water plants"})
	require.NoError(t, err)
	assert.Equal(t, "Added.", res.Reply)
	require.Len(t, res.ToolInvocations, 1)
	assert.Nil(t, res.ToolInvocations[0].Error)
}

func TestFactory_Build(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	f := newTestFactory(t, testConfig())

	c, err := f.Build(context.Background())
	require.NoError(t, err)
	require.NotNil(t, c.Orchestrator)
	require.NotNil(t, c.Conversations)
	assert.IsType(t, &adapters.WindowLimiter{}, c.Limiter)

	convs, err := c.Conversations.List(context.Background(), "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestFactory_CreateGatewayRegistersTaskOperations(t *testing.T) {
	f := newTestFactory(t, testConfig())
	g, err := f.CreateGateway(f.CreateTaskStore(), f.CreateTracer())
	require.NoError(t, err)

	var names []string
	for _, s := range g.Specs() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"add_task", "list_tasks", "complete_task", "update_task", "delete_task"}, names)
}
