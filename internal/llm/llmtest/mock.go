// Package llmtest provides a deterministic, scriptable Adapter for tests
// that exercise the conversation manager without a real LLM provider.
package llmtest

import (
	"context"
	"sync"

	"github.com/ashureev/convo-gateway/internal/llm"
)

// ResponseFunc computes a response for a given request, letting tests
// script behavior based on FollowUp or message content.
type ResponseFunc func(req llm.Request) (llm.Response, error)

// Adapter is a scriptable llm.Adapter: each call to Complete advances to
// the next queued ResponseFunc (or repeats the last one if the queue is
// exhausted), and records every request it was given for later assertion.
type Adapter struct {
	mu        sync.Mutex
	responses []ResponseFunc
	next      int
	Requests  []llm.Request
}

// NewAdapter returns an Adapter that serves responses in order.
func NewAdapter(responses ...ResponseFunc) *Adapter {
	return &Adapter{responses: responses}
}

// NewStaticAdapter returns an Adapter that always responds with resp.
func NewStaticAdapter(resp llm.Response) *Adapter {
	return NewAdapter(func(llm.Request) (llm.Response, error) { return resp, nil })
}

func (a *Adapter) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.Requests = append(a.Requests, req)

	if len(a.responses) == 0 {
		return llm.Response{}, nil
	}
	idx := a.next
	if idx >= len(a.responses) {
		idx = len(a.responses) - 1
	} else {
		a.next++
	}
	return a.responses[idx](req)
}

var _ llm.Adapter = (*Adapter)(nil)
