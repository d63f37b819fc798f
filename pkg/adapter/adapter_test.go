package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMockAdapterScript(t *testing.T) {
	m := NewScriptedMockAdapter(
		MockReply{Content: "first"},
		MockReply{Err: errors.New("boom")},
	)
	m.Usage = Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}

	resp, err := m.Generate(context.Background(), Request{Prompt: "a"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Content != "first" || resp.Model != "mock-1" || resp.Usage.TotalTokens != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if _, err := m.Generate(context.Background(), Request{Prompt: "b"}); err == nil {
		t.Fatalf("expected scripted error")
	}
	resp, err = m.Generate(context.Background(), Request{Prompt: "c"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Content != offlineResponse {
		t.Fatalf("expected default response, got %q", resp.Content)
	}
	if got := len(m.Requests()); got != 3 {
		t.Fatalf("expected 3 requests, got %d", got)
	}
	if m.Remaining() != 0 {
		t.Fatalf("expected empty script")
	}
}

func TestMockAdapterResponses(t *testing.T) {
	m := NewMockAdapterWithResponses(map[string]string{"hello": "world"}, "")
	resp, err := m.Generate(context.Background(), Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Content != "world" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Generate(ctx, Request{Prompt: "hello"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"rate limited", statusError("x", 429, errors.New("slow down")), true},
		{"server error", &AdapterError{Status: 503}, true},
		{"wrapped", fmt.Errorf("call: %w", &AdapterError{Status: 502}), true},
		{"bad request", statusError("x", 400, errors.New("bad")), false},
		{"temporary flag", &AdapterError{Temporary: true}, true},
		{"plain", errors.New("nope"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestUsageAdd(t *testing.T) {
	got := newUsage(3, 4).Add(newUsage(1, 1))
	if got.PromptTokens != 4 || got.CompletionTokens != 5 || got.TotalTokens != 9 {
		t.Fatalf("unexpected usage: %+v", got)
	}
}

func TestDeepSeekGenerate(t *testing.T) {
	var got deepseekRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing auth header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"}}],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`))
	}))
	defer srv.Close()

	a, err := NewDeepSeekAdapter("key")
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	a.WithBaseURL(srv.URL + "/")

	resp, err := a.Generate(context.Background(), Request{System: "be brief", Prompt: "hi", Temperature: 0.2})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Content != `{"ok":true}` || resp.Usage.TotalTokens != 10 || resp.Model != "deepseek-chat" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "hi" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
	if got.MaxTokens != defaultMaxTokens || got.Temperature != 0.2 {
		t.Fatalf("unexpected request settings: %+v", got)
	}
}

func TestDeepSeekStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit","code":"429"}}`))
	}))
	defer srv.Close()

	a, _ := NewDeepSeekAdapter("key")
	a.WithBaseURL(srv.URL)

	_, err := a.Generate(context.Background(), Request{Prompt: "hi"})
	if err == nil {
		t.Fatalf("expected error")
	}
	var adapterErr *AdapterError
	if !errors.As(err, &adapterErr) || adapterErr.Status != http.StatusTooManyRequests {
		t.Fatalf("expected AdapterError with 429, got %v", err)
	}
	if !IsTransient(err) {
		t.Fatalf("expected transient error")
	}
}

func TestConstructorsRequireKeys(t *testing.T) {
	if _, err := NewDeepSeekAdapter(""); err == nil {
		t.Fatalf("expected deepseek key error")
	}
	if _, err := NewOpenAIAdapter(""); err == nil {
		t.Fatalf("expected openai key error")
	}
	if _, err := NewAnthropicAdapter(""); err == nil {
		t.Fatalf("expected anthropic key error")
	}
	if _, err := NewGoogleAdapter(context.Background(), ""); err == nil {
		t.Fatalf("expected google key error")
	}
}
