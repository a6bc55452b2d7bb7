// Package convo implements the conversation manager: session storage, the
// two-phase LLM/tool loop, history trimming, and error shaping.
package convo

import (
	"sync"
	"time"

	"github.com/ashureev/convo-gateway/internal/intents"
	"github.com/ashureev/convo-gateway/internal/tools"
)

// Role mirrors llm.Role for the session log; kept distinct so this
// package's data model doesn't leak llm's types into callers that only
// care about sessions.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRef is the assistant-authored record of a tool call made within
// a turn.
type ToolCallRef struct {
	ID         string
	Name       string
	Parameters map[string]any
}

// ErrorDescriptor carries a classified failure onto a Message.
type ErrorDescriptor struct {
	Code        string
	Retryable   bool
	Suggestions []string
}

// TurnContext is the per-turn context bag carried on the final assistant
// message: the advisory intent classification and the tools the turn
// actually used.
type TurnContext struct {
	Intent    IntentClassification
	ToolsUsed []string
}

// Message is one immutable entry in a session's log.
type Message struct {
	ID          string
	Role        Role
	Content     string
	Timestamp   time.Time
	ToolCalls   []ToolCallRef
	ToolName    string // set when Role == RoleTool
	UIIntents   []intents.Intent
	ToolResults []tools.Result
	Context     *TurnContext
	Error       *ErrorDescriptor
}

// Session owns its message log and tool-call state. A session's message
// log is strictly non-decreasing in timestamp order.
type Session struct {
	mu sync.Mutex

	// turnMu serializes full ProcessMessage calls against this session,
	// held across LLM/tool suspension points, distinct from mu which only
	// guards the message slice itself.
	turnMu sync.Mutex

	ID           string
	UserID       string
	CreatedAt    time.Time
	LastActivity time.Time
	Messages     []Message
}

// procMu returns the mutex serializing ProcessMessage turns on this
// session.
func (s *Session) procMu() *sync.Mutex {
	return &s.turnMu
}

func newSession(id, userID string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Snapshot returns a copy of the current message log, safe to read
// without holding the session lock afterward.
func (s *Session) Snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// IdleFor reports how long the session has been without activity.
func (s *Session) IdleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.LastActivity)
}
