package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Search providers.
const (
	ProviderSerper = "serper"
	ProviderTavily = "tavily"
)

var defaultEndpoints = map[string]string{
	ProviderSerper: "https://google.serper.dev/search",
	ProviderTavily: "https://api.tavily.com/search",
}

// SearchResult is one web hit.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
	Score   float64
}

// WebSearch queries a web search API and renders the hits as text.
type WebSearch struct {
	provider   string
	apiKey     string
	endpoint   string
	httpClient *http.Client
	maxResults int
}

// WebOption configures a WebSearch.
type WebOption func(*WebSearch)

// WithAPIKey sets the search API key.
func WithAPIKey(key string) WebOption {
	return func(w *WebSearch) {
		w.apiKey = key
	}
}

// WithMaxResults sets the maximum search results to return.
func WithMaxResults(max int) WebOption {
	return func(w *WebSearch) {
		if max > 0 {
			w.maxResults = max
		}
	}
}

// WithEndpoint overrides the provider URL.
func WithEndpoint(url string) WebOption {
	return func(w *WebSearch) {
		w.endpoint = url
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) WebOption {
	return func(w *WebSearch) {
		if c != nil {
			w.httpClient = c
		}
	}
}

// NewWebSearch creates a web search tool for provider ("serper" when empty).
func NewWebSearch(provider string, opts ...WebOption) (*WebSearch, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = ProviderSerper
	}
	endpoint, ok := defaultEndpoints[provider]
	if !ok {
		return nil, fmt.Errorf("unknown search provider %q", provider)
	}

	w := &WebSearch{
		provider: provider,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxResults: 5,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Name returns the tool identifier.
func (w *WebSearch) Name() string {
	return "web_search"
}

// Description tells the model what the tool is for.
func (w *WebSearch) Description() string {
	return "Searches the web for current job listings and company information."
}

// Provider returns the configured search provider.
func (w *WebSearch) Provider() string {
	return w.provider
}

// Available returns true if the API key is configured.
func (w *WebSearch) Available() bool {
	return w.apiKey != ""
}

// Run searches the web and renders the hits.
func (w *WebSearch) Run(ctx context.Context, query string) (string, error) {
	results, err := w.Search(ctx, query)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No results found for: " + query, nil
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, strings.TrimSpace(r.Snippet))
	}
	return sb.String(), nil
}

// Search returns raw hits for query.
func (w *WebSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if !w.Available() {
		return nil, fmt.Errorf("%s API key not configured", w.provider)
	}

	switch w.provider {
	case ProviderTavily:
		return w.searchTavily(ctx, query)
	default:
		return w.searchSerper(ctx, query)
	}
}

type serperRequest struct {
	Query string `json:"q"`
	Num   int    `json:"num"`
}

type serperResponse struct {
	Organic []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		Position int    `json:"position"`
	} `json:"organic"`
}

func (w *WebSearch) searchSerper(ctx context.Context, query string) ([]SearchResult, error) {
	var out serperResponse
	headers := map[string]string{"X-API-KEY": w.apiKey}
	if err := w.post(ctx, serperRequest{Query: query, Num: w.maxResults}, headers, &out); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(out.Organic))
	for _, r := range out.Organic {
		if len(results) == w.maxResults {
			break
		}
		results = append(results, SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return results, nil
}

// tavilyRequest is the request payload for Tavily API.
type tavilyRequest struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
	MaxResults    int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (w *WebSearch) searchTavily(ctx context.Context, query string) ([]SearchResult, error) {
	// Raw page content only; the agent does the summarizing.
	payload := tavilyRequest{
		Query:         query,
		SearchDepth:   "advanced",
		IncludeAnswer: false,
		MaxResults:    w.maxResults,
	}

	var out tavilyResponse
	headers := map[string]string{"Authorization": "Bearer " + w.apiKey}
	if err := w.post(ctx, payload, headers, &out); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(out.Results))
	for _, r := range out.Results {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content, Score: r.Score})
	}
	return results, nil
}

func (w *WebSearch) post(ctx context.Context, payload any, headers map[string]string, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", w.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s API error: status %d", w.provider, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
