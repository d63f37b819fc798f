package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebSearchAvailable(t *testing.T) {
	ws, err := NewWebSearch("")
	if err != nil {
		t.Fatalf("new web search: %v", err)
	}
	if ws.Provider() != ProviderSerper {
		t.Errorf("Provider() = %s, want serper", ws.Provider())
	}
	if ws.Available() {
		t.Error("Available() should return false without API key")
	}
	if _, err := ws.Run(context.Background(), "go jobs"); err == nil {
		t.Error("Run() should fail without API key")
	}

	ws.apiKey = "test-key"
	if !ws.Available() {
		t.Error("Available() should return true with API key")
	}

	if _, err := NewWebSearch("bing"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestWebSearchSerper(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.Header.Get("X-API-KEY") != "serper-key" {
			t.Error("Expected X-API-KEY header")
		}

		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req["q"] != "golang engineer remote" {
			t.Errorf("unexpected query: %v", req["q"])
		}
		if req["num"] != float64(2) {
			t.Errorf("unexpected num: %v", req["num"])
		}

		resp := map[string]interface{}{
			"organic": []map[string]interface{}{
				{"title": "Go Engineer", "link": "https://jobs.example.com/1", "snippet": "Remote Go role", "position": 1},
				{"title": "Backend Engineer", "link": "https://jobs.example.com/2", "snippet": "Go and Postgres", "position": 2},
				{"title": "Extra", "link": "https://jobs.example.com/3", "snippet": "dropped", "position": 3},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	ws, err := NewWebSearch(ProviderSerper, WithAPIKey("serper-key"), WithEndpoint(server.URL), WithMaxResults(2))
	if err != nil {
		t.Fatalf("new web search: %v", err)
	}

	results, err := ws.Search(context.Background(), "golang engineer remote")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].URL != "https://jobs.example.com/1" || results[1].Snippet != "Go and Postgres" {
		t.Errorf("unexpected results: %+v", results)
	}

	text, err := ws.Run(context.Background(), "golang engineer remote")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !strings.Contains(text, "1. Go Engineer") || strings.Contains(text, "Extra") {
		t.Errorf("unexpected rendering: %q", text)
	}
}

func TestWebSearchTavily(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tavily-key" {
			t.Error("Expected bearer token")
		}

		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req["include_answer"] != false {
			t.Error("include_answer should be false")
		}
		if req["search_depth"] != "advanced" {
			t.Error("search_depth should be 'advanced'")
		}

		resp := map[string]interface{}{
			"results": []map[string]interface{}{
				{"title": "Test Result", "url": "https://example.com/test", "content": "raw content", "score": 0.95},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	ws, err := NewWebSearch(ProviderTavily, WithAPIKey("tavily-key"), WithEndpoint(server.URL))
	if err != nil {
		t.Fatalf("new web search: %v", err)
	}

	results, err := ws.Search(context.Background(), "test query")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 || results[0].Score != 0.95 || results[0].Snippet != "raw content" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestWebSearchStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	ws, _ := NewWebSearch(ProviderSerper, WithAPIKey("bad"), WithEndpoint(server.URL))
	if _, err := ws.Search(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected status error, got %v", err)
	}
}
