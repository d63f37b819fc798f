package adapter

import (
	"context"
	"sync"
)

// MockReply is one scripted reply.
type MockReply struct {
	Content string
	Err     error
}

// MockAdapter returns deterministic responses for local runs and tests.
// Scripted replies are consumed in order; after they run out, exact prompt
// matches and then the default response are used.
type MockAdapter struct {
	mu              sync.Mutex
	responses       map[string]string
	script          []MockReply
	defaultResponse string
	requests        []Request
	Usage           Usage
}

// offlineResponse normalizes as an object, an array (via its "items"
// member) and text, so every stage of a builtin pipeline succeeds offline.
const offlineResponse = `{"mock": true, "items": []}`

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		responses:       make(map[string]string),
		defaultResponse: offlineResponse,
	}
}

// NewMockAdapterWithResponses creates a mock adapter with predefined responses.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	if defaultResponse == "" {
		defaultResponse = offlineResponse
	}
	if responses == nil {
		responses = make(map[string]string)
	}
	return &MockAdapter{responses: responses, defaultResponse: defaultResponse}
}

// NewScriptedMockAdapter replays replies in order.
func NewScriptedMockAdapter(replies ...MockReply) *MockAdapter {
	m := NewMockAdapter()
	m.script = replies
	return m
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return "mock"
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Generate returns the next scripted reply.
func (a *MockAdapter) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)

	model := req.Model
	if model == "" {
		model = "mock-1"
	}

	if len(a.script) > 0 {
		next := a.script[0]
		a.script = a.script[1:]
		if next.Err != nil {
			return nil, next.Err
		}
		return &Response{Content: next.Content, Model: model, Usage: a.Usage}, nil
	}
	if response, ok := a.responses[req.Prompt]; ok {
		return &Response{Content: response, Model: model, Usage: a.Usage}, nil
	}
	return &Response{Content: a.defaultResponse, Model: model, Usage: a.Usage}, nil
}

// Requests returns the requests received so far.
func (a *MockAdapter) Requests() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Request(nil), a.requests...)
}

// Remaining reports how many scripted replies are left.
func (a *MockAdapter) Remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.script)
}

