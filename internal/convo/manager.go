package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/convo-gateway/internal/cache"
	"github.com/ashureev/convo-gateway/internal/gatewayerr"
	"github.com/ashureev/convo-gateway/internal/intents"
	"github.com/ashureev/convo-gateway/internal/llm"
	"github.com/ashureev/convo-gateway/internal/tools"
)

// Config bounds the conversation manager's behavior.
type Config struct {
	MaxHistoryLength int
	SessionTimeout   time.Duration
	CleanupInterval  time.Duration
	ToolExecutor     tools.ExecutorConfig
	ToolResultTTL    time.Duration
	MaxToolResults   int
}

// Manager owns every session and runs the two-phase LLM/tool loop.
// Sessions are stored in a flat id-keyed map guarded by the Manager's own
// RWMutex, generalized from the teacher's two-level user/session
// registry since this gateway has no separate "user" dimension beyond an
// optional UserID on the session itself.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	llmAdapter    llm.Adapter
	toolReg       *tools.Registry
	toolCache     *cache.Cache
	cfg           Config
	logger        *slog.Logger
	translog      *TranscriptLogger
	promptBuilder PromptBuilder

	limiter     RateLimiter
	limiterKey  string
	limiterWait time.Duration

	closeOnce sync.Once
	closeCh   chan struct{}
}

// New constructs a Manager and starts its session sweeper.
func New(llmAdapter llm.Adapter, toolReg *tools.Registry, toolCache *cache.Cache, cfg Config, logger *slog.Logger, translog *TranscriptLogger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		sessions:   make(map[string]*Session),
		llmAdapter: llmAdapter,
		toolReg:    toolReg,
		toolCache:  toolCache,
		cfg:        cfg,
		logger:     logger,
		translog:   translog,
		closeCh:    make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// PromptBuilder produces a tool-aware system prompt for an LLM request.
type PromptBuilder interface {
	Build(catalog []llm.ToolSpec) string
}

// RateLimiter gates outbound LLM traffic; a denial surfaces as a
// RATE_LIMIT-classified error after the wait deadline.
type RateLimiter interface {
	WaitForRateLimit(ctx context.Context, key string, maxWait time.Duration) error
}

// SetRateLimiter attaches an optional limiter consulted before every LLM
// call. When unset, calls go out ungated.
func (m *Manager) SetRateLimiter(rl RateLimiter, key string, maxWait time.Duration) {
	m.limiter = rl
	m.limiterKey = key
	m.limiterWait = maxWait
}

func (m *Manager) gateLLM(ctx context.Context) error {
	if m.limiter == nil {
		return nil
	}
	return m.limiter.WaitForRateLimit(ctx, m.limiterKey, m.limiterWait)
}

// SetPromptBuilder attaches an optional system-prompt manager. When unset,
// requests go to the adapter with an empty system prompt.
func (m *Manager) SetPromptBuilder(pb PromptBuilder) {
	m.promptBuilder = pb
}

// Close stops the sweeper goroutine.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.closeCh) })
}

// GetOrCreateSession returns the session for id, creating it lazily if
// absent.
func (m *Manager) GetOrCreateSession(id, userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := newSession(id, userID)
	m.sessions[id] = s
	m.logger.Info("session created", "session_id", id)
	return s
}

// Stats reports the number of live sessions and the total messages held
// across their logs, for the metrics exposition layer.
func (m *Manager) Stats() (activeSessions, totalMessages int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		totalMessages += len(s.Snapshot())
	}
	return len(m.sessions), totalMessages
}

// DeleteSession removes a session explicitly.
func (m *Manager) DeleteSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// ProcessMessage runs the full processMessage algorithm: session
// resolution, history merge/trim, the two-phase LLM/tool loop, UI-intent
// generation, and error shaping. It never returns an error to the
// caller — any failure is converted into an assistant-role error message,
// which is itself appended to the session log.
func (m *Manager) ProcessMessage(ctx context.Context, sessionID, userID, userText string, externalHistory []Message) Message {
	session := m.GetOrCreateSession(sessionID, userID)

	session.procMu().Lock()
	defer session.procMu().Unlock()

	session.mu.Lock()
	session.LastActivity = time.Now()
	session.mu.Unlock()

	userMsg := Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   userText,
		Timestamp: time.Now(),
	}
	m.appendMessage(session, userMsg)
	m.logTranscript(session, userMsg, "inbound", "chat_user_message")

	reply, err := m.runTurn(ctx, session, userText, externalHistory)
	if err != nil {
		reply = m.errorMessage(err)
	}

	m.appendMessage(session, reply)
	m.logTranscript(session, reply, "outbound", "chat_assistant_message")
	return reply
}

func (m *Manager) runTurn(ctx context.Context, session *Session, userText string, externalHistory []Message) (Message, error) {
	history := m.buildLLMInput(session, externalHistory)

	classification := ClassifyIntent(userText)

	catalog := m.buildToolCatalog()
	system := ""
	if m.promptBuilder != nil {
		system = m.promptBuilder.Build(catalog)
	}

	if err := m.gateLLM(ctx); err != nil {
		return Message{}, err
	}

	first, err := m.llmAdapter.Complete(ctx, llm.Request{
		Messages:  toLLMMessages(history),
		Tools:     catalog,
		SessionID: session.ID,
		FollowUp:  false,
		System:    system,
	})
	if err != nil {
		return Message{}, gatewayerr.New(gatewayerr.CodeLLM, "LLM completion failed", err)
	}

	validCalls := llm.ValidateToolCalls(first.ToolCalls)

	var toolResults []tools.Result
	finalContent := first.Content

	if len(validCalls) > 0 {
		assistantMsg := Message{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			Content:   first.Content,
			Timestamp: time.Now(),
			ToolCalls: toRefs(validCalls),
		}
		m.appendMessage(session, assistantMsg)

		toolResults = m.executeToolCalls(ctx, session, validCalls)
		for _, tr := range toolResults {
			m.appendMessage(session, toolMessage(tr))
		}

		history = m.buildLLMInput(session, externalHistory)
		if err := m.gateLLM(ctx); err != nil {
			return Message{}, err
		}
		second, err := m.llmAdapter.Complete(ctx, llm.Request{
			Messages:  toLLMMessages(history),
			Tools:     catalog,
			SessionID: session.ID,
			FollowUp:  true,
			System:    system,
		})
		if err != nil {
			return Message{}, gatewayerr.New(gatewayerr.CodeLLM, "LLM follow-up completion failed", err)
		}
		finalContent = second.Content
	}

	uiIntents := intents.Generate(toIntentResults(toolResults), userText, finalContent)

	toolsUsed := make([]string, 0, len(toolResults))
	for _, tr := range toolResults {
		toolsUsed = append(toolsUsed, tr.ToolName)
	}

	return Message{
		ID:          uuid.NewString(),
		Role:        RoleAssistant,
		Content:     finalContent,
		Timestamp:   time.Now(),
		UIIntents:   uiIntents,
		ToolResults: toolResults,
		Context:     &TurnContext{Intent: classification, ToolsUsed: toolsUsed},
	}, nil
}

// executeToolCalls runs every tool call concurrently via errgroup,
// applying per-(session,tool,args) memoization ahead of the executor, and
// returns results in the original call order (results[i] answers calls[i])
// regardless of completion order.
func (m *Manager) executeToolCalls(ctx context.Context, session *Session, calls []llm.ToolCall) []tools.Result {
	results := make([]tools.Result, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = m.executeOneTool(gctx, session, call)
			return nil
		})
	}
	_ = g.Wait() // per-call failures are carried in Result.Success, not propagated as group errors

	return results
}

func (m *Manager) executeOneTool(ctx context.Context, session *Session, call llm.ToolCall) tools.Result {
	cacheKey := memoKey(session.ID, call.Name, call.Parameters)

	if m.toolCache != nil {
		if cached, ok := m.toolCache.Get(cacheKey); ok {
			if res, ok := cached.(tools.Result); ok {
				res.FromCache = true
				res.DataFreshness = "cached"
				return res
			}
		}
	}

	res := tools.ExecuteTool(ctx, m.toolReg, m.cfg.ToolExecutor, call.Name, call.Parameters, m.logger)
	if res.Success && m.toolCache != nil {
		m.toolCache.Set(cacheKey, res, m.cfg.ToolResultTTL)
	}
	return res
}

func memoKey(sessionID, toolName string, params map[string]any) string {
	data, _ := json.Marshal(params)
	return fmt.Sprintf("%s:%s:%s", sessionID, toolName, string(data))
}

func (m *Manager) buildToolCatalog() []llm.ToolSpec {
	defs := m.toolReg.List()
	specs := make([]llm.ToolSpec, 0, len(defs))
	for _, d := range defs {
		specs = append(specs, llm.ToolSpec{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Schema.WireFormat(),
		})
	}
	return specs
}

// buildLLMInput merges the session log with optionalExternalHistory,
// de-duplicates, sorts by timestamp ascending, then trims to
// maxHistoryLength, preferring to drop oldest non-tool,
// non-tool-call-bearing entries first so tool context survives pressure.
func (m *Manager) buildLLMInput(session *Session, external []Message) []Message {
	merged := append(session.Snapshot(), external...)

	dedup := make([]Message, 0, len(merged))
	seenID := make(map[string]struct{})
	seenShape := make(map[string]struct{})
	for _, msg := range merged {
		if msg.ID != "" {
			if _, ok := seenID[msg.ID]; ok {
				continue
			}
			seenID[msg.ID] = struct{}{}
		}
		shapeKey := fmt.Sprintf("%s|%s|%d", msg.Role, msg.Content, msg.Timestamp.Unix())
		if _, ok := seenShape[shapeKey]; ok {
			continue
		}
		seenShape[shapeKey] = struct{}{}
		dedup = append(dedup, msg)
	}

	sort.SliceStable(dedup, func(i, j int) bool {
		return dedup[i].Timestamp.Before(dedup[j].Timestamp)
	})

	return trimHistory(dedup, m.cfg.MaxHistoryLength)
}

func trimHistory(messages []Message, maxLen int) []Message {
	if maxLen <= 0 || len(messages) <= maxLen {
		return messages
	}

	trimmed := make([]Message, len(messages))
	copy(trimmed, messages)

	for len(trimmed) > maxLen {
		idx := -1
		for i, msg := range trimmed {
			if msg.Role != RoleTool && len(msg.ToolCalls) == 0 {
				idx = i
				break
			}
		}
		if idx == -1 {
			idx = 0
		}
		trimmed = append(trimmed[:idx], trimmed[idx+1:]...)
	}

	return trimmed
}

func (m *Manager) appendMessage(session *Session, msg Message) {
	session.mu.Lock()
	session.Messages = append(session.Messages, msg)
	session.Messages = trimHistory(session.Messages, m.cfg.MaxHistoryLength)
	session.mu.Unlock()
}

// errorMessage classifies err and converts it into the canonical
// assistant-role error message appended to the session log, per the
// gateway's error-handling contract: never throw past the boundary.
func (m *Manager) errorMessage(err error) Message {
	cls := gatewayerr.Classify(err)
	code := cls.Category

	suggestions := []string{"Retry the request"}
	if ge, ok := err.(*gatewayerr.Error); ok {
		suggestions = ge.Suggestions
	}

	m.logger.Error("processMessage failed", "code", code, "severity", cls.Severity, "error", err)

	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   gatewayerr.UserMessage(code),
		Timestamp: time.Now(),
		Error: &ErrorDescriptor{
			Code:        string(code),
			Retryable:   cls.Recoverable,
			Suggestions: suggestions,
		},
	}
}

func (m *Manager) logTranscript(session *Session, msg Message, direction, eventType string) {
	if m.translog == nil {
		return
	}
	m.translog.Log(ConversationLogEvent{
		UserID:     session.UserID,
		SessionID:  session.ID,
		Channel:    "websocket",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: msg.Content,
	})
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.closeCh:
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *Manager) sweepExpired() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.IdleFor(now) > m.cfg.SessionTimeout {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("session sweeper removed idle sessions", "count", removed)
	}
	if m.toolCache != nil {
		m.toolCache.Cleanup()
	}
}

func toLLMMessages(messages []Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		out = append(out, llm.Message{
			Role:    llm.Role(msg.Role),
			Content: msg.Content,
			Name:    msg.ToolName,
		})
	}
	return out
}

func toRefs(calls []llm.ToolCall) []ToolCallRef {
	out := make([]ToolCallRef, 0, len(calls))
	for _, c := range calls {
		out = append(out, ToolCallRef{ID: c.ID, Name: c.Name, Parameters: c.Parameters})
	}
	return out
}

func toolMessage(res tools.Result) Message {
	content, _ := json.Marshal(res.Result)
	if !res.Success {
		content, _ = json.Marshal(map[string]any{"error": res.ErrorMessage, "code": res.ErrorCode})
	}
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleTool,
		Content:   string(content),
		ToolName:  res.ToolName,
		Timestamp: time.Now(),
	}
}

func toIntentResults(results []tools.Result) []intents.ToolResult {
	out := make([]intents.ToolResult, 0, len(results))
	for _, r := range results {
		data, _ := r.Result.(map[string]any)
		out = append(out, intents.ToolResult{ToolName: r.ToolName, Success: r.Success, Data: data})
	}
	return out
}
