package tools_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/convo-gateway/internal/gatewayerr"
	"github.com/ashureev/convo-gateway/internal/tools"
)

func registryWithEcho(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	err := reg.Register(tools.Definition{
		Name: "echo",
		Schema: tools.Schema{
			"msg": {Type: tools.TypeString, Required: true},
		},
		Executor: func(_ context.Context, params map[string]any) (any, error) {
			return params["msg"], nil
		},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return reg
}

func TestExecuteToolNotFound(t *testing.T) {
	reg := tools.NewRegistry()
	res := tools.ExecuteTool(context.Background(), reg, tools.DefaultExecutorConfig(), "missing", nil, nil)
	if res.Success {
		t.Fatal("expected failure for unknown tool")
	}
	if res.ErrorCode != string(gatewayerr.CodeToolNotFound) {
		t.Errorf("ErrorCode = %q, want %q", res.ErrorCode, gatewayerr.CodeToolNotFound)
	}
}

func TestExecuteToolInvalidParams(t *testing.T) {
	reg := registryWithEcho(t)
	res := tools.ExecuteTool(context.Background(), reg, tools.DefaultExecutorConfig(), "echo", map[string]any{}, nil)
	if res.Success {
		t.Fatal("expected failure for missing required param")
	}
	if res.ErrorCode != string(gatewayerr.CodeInvalidParameters) {
		t.Errorf("ErrorCode = %q, want %q", res.ErrorCode, gatewayerr.CodeInvalidParameters)
	}
}

func TestExecuteToolSuccess(t *testing.T) {
	reg := registryWithEcho(t)
	res := tools.ExecuteTool(context.Background(), reg, tools.DefaultExecutorConfig(), "echo", map[string]any{"msg": "hi"}, nil)
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.ErrorMessage)
	}
	if res.Result != "hi" {
		t.Errorf("Result = %v, want hi", res.Result)
	}
}

func TestExecuteToolRetriesRetryableError(t *testing.T) {
	reg := tools.NewRegistry()
	attempts := 0
	reg.Register(tools.Definition{
		Name:   "flaky",
		Schema: tools.Schema{},
		Executor: func(_ context.Context, _ map[string]any) (any, error) {
			attempts++
			if attempts < 2 {
				return nil, gatewayerr.New(gatewayerr.CodeNetwork, "transient", errors.New("timeout"))
			}
			return "ok", nil
		},
	})

	cfg := tools.ExecutorConfig{MaxRetries: 2, RetryBaseDelay: time.Millisecond, Timeout: time.Second}
	res := tools.ExecuteTool(context.Background(), reg, cfg, "flaky", map[string]any{}, nil)
	if !res.Success {
		t.Fatalf("expected eventual success, got error %q", res.ErrorMessage)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestExecuteToolDoesNotRetryNonRetryableError(t *testing.T) {
	reg := tools.NewRegistry()
	attempts := 0
	reg.Register(tools.Definition{
		Name:   "broken",
		Schema: tools.Schema{},
		Executor: func(_ context.Context, _ map[string]any) (any, error) {
			attempts++
			return nil, gatewayerr.New(gatewayerr.CodeValidation, "bad input", nil)
		},
	})

	cfg := tools.ExecutorConfig{MaxRetries: 2, RetryBaseDelay: time.Millisecond, Timeout: time.Second}
	res := tools.ExecuteTool(context.Background(), reg, cfg, "broken", map[string]any{}, nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (non-retryable errors shouldn't retry)", attempts)
	}
}

func TestSchemaValidateEnum(t *testing.T) {
	s := tools.Schema{
		"network": {Type: tools.TypeString, Required: true, Enum: tools.SupportedNetworks},
	}
	problems := s.Validate(map[string]any{"network": "not-a-real-chain"})
	if len(problems) != 1 {
		t.Fatalf("expected exactly one problem, got %v", problems)
	}
}

type denyingGate struct{}

func (denyingGate) WaitForRateLimit(context.Context, string, time.Duration) error {
	return gatewayerr.New(gatewayerr.CodeRateLimit, "timed out waiting for rate limit", nil)
}

func TestExecuteToolGatedByRateLimiter(t *testing.T) {
	reg := tools.NewRegistry()
	calls := 0
	reg.Register(tools.Definition{
		Name:   "gated",
		Schema: tools.Schema{},
		Executor: func(context.Context, map[string]any) (any, error) {
			calls++
			return "ok", nil
		},
	})

	cfg := tools.DefaultExecutorConfig()
	cfg.Limiter = denyingGate{}
	cfg.LimiterKey = "tools"
	cfg.LimiterWait = time.Millisecond

	res := tools.ExecuteTool(context.Background(), reg, cfg, "gated", map[string]any{}, nil)
	if res.Success {
		t.Fatal("expected failure when the rate gate denies")
	}
	if res.ErrorCode != string(gatewayerr.CodeRateLimit) {
		t.Errorf("ErrorCode = %q, want RATE_LIMIT", res.ErrorCode)
	}
	if calls != 0 {
		t.Errorf("executor ran %d times despite the gate", calls)
	}
}

type recordedCall struct {
	provider string
	failed   bool
}

type fakeRecorder struct {
	calls []recordedCall
}

func (f *fakeRecorder) RecordExternalCall(provider string, _ time.Duration, failed bool) {
	f.calls = append(f.calls, recordedCall{provider: provider, failed: failed})
}

func TestExecuteToolRecordsExternalCalls(t *testing.T) {
	reg := tools.NewRegistry()
	attempts := 0
	reg.Register(tools.Definition{
		Name:   "flaky",
		Schema: tools.Schema{},
		Executor: func(context.Context, map[string]any) (any, error) {
			attempts++
			if attempts < 2 {
				return nil, gatewayerr.New(gatewayerr.CodeNetwork, "transient", nil)
			}
			return "ok", nil
		},
	})

	rec := &fakeRecorder{}
	cfg := tools.ExecutorConfig{MaxRetries: 2, RetryBaseDelay: time.Millisecond, Timeout: time.Second, Metrics: rec}
	res := tools.ExecuteTool(context.Background(), reg, cfg, "flaky", map[string]any{}, nil)
	if !res.Success {
		t.Fatalf("expected success, got %q", res.ErrorMessage)
	}

	if len(rec.calls) != 2 {
		t.Fatalf("recorded calls = %d, want one per attempt (2)", len(rec.calls))
	}
	if !rec.calls[0].failed || rec.calls[1].failed {
		t.Errorf("recorded outcomes = %+v, want [failed, ok]", rec.calls)
	}
	if rec.calls[0].provider != "flaky" {
		t.Errorf("provider label = %q, want tool name", rec.calls[0].provider)
	}
}

func TestSchemaWireFormat(t *testing.T) {
	s := tools.Schema{
		"network":   {Type: tools.TypeString, Required: true, Enum: tools.SupportedNetworks},
		"protocols": {Type: tools.TypeArray, Items: &tools.ItemSpec{Type: tools.TypeString, Enum: tools.SupportedProtocols}},
	}
	wire := s.WireFormat()
	if wire["type"] != "object" {
		t.Errorf("type = %v, want object", wire["type"])
	}
	required, _ := wire["required"].([]string)
	if len(required) != 1 || required[0] != "network" {
		t.Errorf("required = %v, want [network]", required)
	}
	props, _ := wire["properties"].(map[string]any)
	network, _ := props["network"].(map[string]any)
	if network["type"] != "string" {
		t.Errorf("network type = %v, want string", network["type"])
	}
	protocols, _ := props["protocols"].(map[string]any)
	items, _ := protocols["items"].(map[string]any)
	if items["type"] != "string" {
		t.Errorf("protocols items = %v, want string-typed enum", items)
	}
}
