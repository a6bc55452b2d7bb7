package convo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/convo-gateway/internal/cache"
	"github.com/ashureev/convo-gateway/internal/gatewayerr"
	"github.com/ashureev/convo-gateway/internal/llm"
	"github.com/ashureev/convo-gateway/internal/llm/llmtest"
	"github.com/ashureev/convo-gateway/internal/tools"
)

func testConfig() Config {
	return Config{
		MaxHistoryLength: 50,
		SessionTimeout:   time.Hour,
		CleanupInterval:  time.Hour,
		ToolExecutor:     tools.DefaultExecutorConfig(),
		ToolResultTTL:    time.Minute,
		MaxToolResults:   50,
	}
}

func TestProcessMessageSimpleReply(t *testing.T) {
	adapter := llmtest.NewStaticAdapter(llm.Response{Content: "hello there"})
	reg := tools.NewRegistry()
	mgr := New(adapter, reg, nil, testConfig(), nil, nil)
	defer mgr.Close()

	reply := mgr.ProcessMessage(context.Background(), "sess-1", "", "hi", nil)
	if reply.Content != "hello there" {
		t.Errorf("Content = %q, want %q", reply.Content, "hello there")
	}
	if reply.Role != RoleAssistant {
		t.Errorf("Role = %q, want assistant", reply.Role)
	}

	session := mgr.GetOrCreateSession("sess-1", "")
	msgs := session.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (user + assistant), got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("unexpected roles: %+v", msgs)
	}
}

func TestProcessMessageRunsToolLoop(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(tools.Definition{
		Name:   "get_gas_prices",
		Schema: tools.Schema{"network": {Type: tools.TypeString, Required: true}},
		Executor: func(_ context.Context, params map[string]any) (any, error) {
			return map[string]any{"network": params["network"], "gwei": float64(20)}, nil
		},
	})

	calls := 0
	adapter := llmtest.NewAdapter(func(req llm.Request) (llm.Response, error) {
		calls++
		if !req.FollowUp {
			return llm.Response{
				Content: "checking gas",
				ToolCalls: []llm.ToolCall{
					{ID: "call-1", Name: "get_gas_prices", Parameters: map[string]any{"network": "ethereum"}},
				},
			}, nil
		}
		return llm.Response{Content: "gas is cheap right now"}, nil
	})

	mgr := New(adapter, reg, nil, testConfig(), nil, nil)
	defer mgr.Close()

	reply := mgr.ProcessMessage(context.Background(), "sess-2", "", "what's gas like on ethereum?", nil)
	if calls != 2 {
		t.Fatalf("expected 2 LLM calls (initial + follow-up), got %d", calls)
	}
	if reply.Content != "gas is cheap right now" {
		t.Errorf("Content = %q, want follow-up content", reply.Content)
	}

	session := mgr.GetOrCreateSession("sess-2", "")
	msgs := session.Snapshot()
	var sawTool bool
	for _, m := range msgs {
		if m.Role == RoleTool {
			sawTool = true
		}
	}
	if !sawTool {
		t.Error("expected a tool message to be appended to the session log")
	}
}

func TestProcessMessageErrorPathAppendsCanonicalMessage(t *testing.T) {
	adapter := llmtest.NewAdapter(func(llm.Request) (llm.Response, error) {
		return llm.Response{}, gatewayerr.New(gatewayerr.CodeLLM, "upstream down", errors.New("dial refused"))
	})
	reg := tools.NewRegistry()
	mgr := New(adapter, reg, nil, testConfig(), nil, nil)
	defer mgr.Close()

	reply := mgr.ProcessMessage(context.Background(), "sess-3", "", "hi", nil)
	if reply.Error == nil {
		t.Fatal("expected an error descriptor on the reply")
	}
	if reply.Error.Code != string(gatewayerr.CodeLLM) {
		t.Errorf("Error.Code = %q, want %q", reply.Error.Code, gatewayerr.CodeLLM)
	}
	if reply.Content != gatewayerr.UserMessage(gatewayerr.CodeLLM) {
		t.Errorf("Content = %q, want canonical LLM error phrase", reply.Content)
	}

	session := mgr.GetOrCreateSession("sess-3", "")
	msgs := session.Snapshot()
	if msgs[len(msgs)-1].Error == nil {
		t.Error("error message should be appended to the session log so later turns have context")
	}
}

func TestToolResultMemoizationAvoidsReexecution(t *testing.T) {
	reg := tools.NewRegistry()
	execCount := 0
	reg.Register(tools.Definition{
		Name:   "get_gas_prices",
		Schema: tools.Schema{"network": {Type: tools.TypeString, Required: true}},
		Executor: func(_ context.Context, params map[string]any) (any, error) {
			execCount++
			return map[string]any{"network": params["network"]}, nil
		},
	})

	toolCache := cache.NewCache("tool_results", 50, 0, time.Minute)

	adapter := llmtest.NewAdapter(func(req llm.Request) (llm.Response, error) {
		if !req.FollowUp {
			return llm.Response{
				ToolCalls: []llm.ToolCall{
					{ID: "call-1", Name: "get_gas_prices", Parameters: map[string]any{"network": "ethereum"}},
				},
			}, nil
		}
		return llm.Response{Content: "done"}, nil
	})

	cfg := testConfig()
	mgr := New(adapter, reg, toolCache, cfg, nil, nil)
	defer mgr.Close()

	mgr.ProcessMessage(context.Background(), "sess-4", "", "gas?", nil)
	mgr.ProcessMessage(context.Background(), "sess-4", "", "gas again?", nil)

	if execCount != 1 {
		t.Errorf("executor ran %d times, want 1 (second call should hit memoization)", execCount)
	}
}

func TestProcessMessageCarriesContextAndToolResults(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(tools.Definition{
		Name:   "get_gas_prices",
		Schema: tools.Schema{"network": {Type: tools.TypeString, Required: true}},
		Executor: func(_ context.Context, params map[string]any) (any, error) {
			return map[string]any{"network": params["network"]}, nil
		},
	})

	adapter := llmtest.NewAdapter(func(req llm.Request) (llm.Response, error) {
		if !req.FollowUp {
			return llm.Response{
				ToolCalls: []llm.ToolCall{
					{ID: "call-1", Name: "get_gas_prices", Parameters: map[string]any{"network": "ethereum"}},
				},
			}, nil
		}
		return llm.Response{Content: "around 20 gwei"}, nil
	})

	mgr := New(adapter, reg, nil, testConfig(), nil, nil)
	defer mgr.Close()

	reply := mgr.ProcessMessage(context.Background(), "sess-ctx", "", "what's the gas fee?", nil)

	if len(reply.ToolResults) != 1 || reply.ToolResults[0].ToolName != "get_gas_prices" {
		t.Errorf("ToolResults = %+v, want one get_gas_prices result", reply.ToolResults)
	}
	if reply.Context == nil {
		t.Fatal("reply should carry a context bag")
	}
	if reply.Context.Intent.Primary != "gas_inquiry" {
		t.Errorf("Intent.Primary = %q, want gas_inquiry", reply.Context.Intent.Primary)
	}
	if len(reply.Context.ToolsUsed) != 1 || reply.Context.ToolsUsed[0] != "get_gas_prices" {
		t.Errorf("ToolsUsed = %v, want [get_gas_prices]", reply.Context.ToolsUsed)
	}
}

type blockedLimiter struct{}

func (blockedLimiter) WaitForRateLimit(context.Context, string, time.Duration) error {
	return gatewayerr.New(gatewayerr.CodeRateLimit, "timed out waiting for rate limit", nil)
}

func TestRateLimitGateShapesCanonicalError(t *testing.T) {
	adapter := llmtest.NewStaticAdapter(llm.Response{Content: "should never be reached"})
	mgr := New(adapter, tools.NewRegistry(), nil, testConfig(), nil, nil)
	defer mgr.Close()
	mgr.SetRateLimiter(blockedLimiter{}, "llm", time.Millisecond)

	reply := mgr.ProcessMessage(context.Background(), "sess-rl", "", "hi", nil)
	if reply.Error == nil || reply.Error.Code != string(gatewayerr.CodeRateLimit) {
		t.Fatalf("reply error = %+v, want RATE_LIMIT", reply.Error)
	}
	if reply.Content != gatewayerr.UserMessage(gatewayerr.CodeRateLimit) {
		t.Errorf("Content = %q, want canonical rate-limit phrase", reply.Content)
	}
	if len(adapter.Requests) != 0 {
		t.Errorf("LLM adapter was called %d times despite the gate", len(adapter.Requests))
	}
}

func TestSessionIdleExpirySweep(t *testing.T) {
	adapter := llmtest.NewStaticAdapter(llm.Response{Content: "ok"})
	cfg := testConfig()
	cfg.SessionTimeout = 10 * time.Millisecond
	mgr := New(adapter, tools.NewRegistry(), nil, cfg, nil, nil)
	defer mgr.Close()

	mgr.ProcessMessage(context.Background(), "sess-idle", "", "hi", nil)
	time.Sleep(20 * time.Millisecond)
	mgr.sweepExpired()

	mgr.mu.RLock()
	_, ok := mgr.sessions["sess-idle"]
	mgr.mu.RUnlock()
	if ok {
		t.Error("idle session should have been removed by the sweeper")
	}
}

func TestTrimHistoryPrefersDroppingNonToolEntries(t *testing.T) {
	now := time.Now()
	messages := []Message{
		{ID: "1", Role: RoleUser, Content: "old", Timestamp: now.Add(-3 * time.Hour)},
		{ID: "2", Role: RoleTool, Content: "tool-result", Timestamp: now.Add(-2 * time.Hour)},
		{ID: "3", Role: RoleAssistant, Content: "mid", Timestamp: now.Add(-time.Hour)},
		{ID: "4", Role: RoleUser, Content: "new", Timestamp: now},
	}

	trimmed := trimHistory(messages, 3)
	if len(trimmed) != 3 {
		t.Fatalf("len(trimmed) = %d, want 3", len(trimmed))
	}
	toolKept := false
	for _, m := range trimmed {
		if m.ID == "1" {
			t.Error("oldest non-tool message should have been dropped first")
		}
		if m.ID == "2" {
			toolKept = true
		}
	}
	if !toolKept {
		t.Error("tool message should survive since non-tool candidates existed")
	}
}
