package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zen-systems/careerflow/pkg/adapter"
	"github.com/zen-systems/careerflow/pkg/document"
	"github.com/zen-systems/careerflow/pkg/normalize"
	"github.com/zen-systems/careerflow/pkg/pipeline"
	"github.com/zen-systems/careerflow/pkg/tools"
)

// MaxQueriesPerTool caps how many planned queries run against one tool.
const MaxQueriesPerTool = 3

// fallbackQueryLimit bounds the stage prompt when it is used as a query.
const fallbackQueryLimit = 300

// DocumentIndexer builds the retrieval tool for a document reference.
type DocumentIndexer func(ctx context.Context, ref string) (tools.Tool, error)

// FileIndexer reads ref from disk, extracts its text and indexes it.
func FileIndexer(opts ...tools.DocumentOption) DocumentIndexer {
	return func(ctx context.Context, ref string) (tools.Tool, error) {
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		text, err := document.Extract(ref, data)
		if err != nil {
			return nil, err
		}
		return tools.NewDocumentSearch(ctx, filepath.Base(ref), text, opts...)
	}
}

// Options configures an Executor.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Retry       *RetryPolicy

	// ResolveModel maps stage model aliases to provider model names.
	ResolveModel func(string) string

	// Web is attached to stages declaring web_search. Nil disables it.
	Web tools.Tool
	// Documents builds the pdf_retrieval tool. Nil disables it.
	Documents DocumentIndexer

	Logger func(format string, args ...any)
}

// Executor runs stages as persona-driven model calls. It implements
// pipeline.Executor. Document indexes are cached per reference, so an
// Executor should serve a single run.
type Executor struct {
	adapter     adapter.Adapter
	model       string
	temperature float64
	maxTokens   int
	retry       RetryPolicy
	resolve     func(string) string
	web         tools.Tool
	documents   DocumentIndexer
	logf        func(format string, args ...any)
	sleep       func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	indexes map[string]tools.Tool
}

var _ pipeline.Executor = (*Executor)(nil)

// New creates an Executor backed by a.
func New(a adapter.Adapter, opts Options) (*Executor, error) {
	if a == nil {
		return nil, errors.New("agent: adapter is required")
	}
	e := &Executor{
		adapter:     a,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		retry:       DefaultRetryPolicy(),
		resolve:     opts.ResolveModel,
		web:         opts.Web,
		documents:   opts.Documents,
		logf:        opts.Logger,
		sleep:       sleepWithContext,
		indexes:     make(map[string]tools.Tool),
	}
	if opts.Retry != nil {
		e.retry = *opts.Retry
	}
	if e.logf == nil {
		e.logf = func(string, ...any) {}
	}
	return e, nil
}

// Execute runs one stage: plan tool queries, run the tools, then ask the
// model for the final answer.
func (e *Executor) Execute(ctx context.Context, req pipeline.ExecRequest) (*pipeline.ExecResult, error) {
	persona, err := Lookup(req.Agent)
	if err != nil {
		return nil, err
	}

	attached, err := e.attach(ctx, req)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = e.model
	}
	if e.resolve != nil {
		model = e.resolve(model)
	}
	base := adapter.Request{
		Model:       model,
		System:      persona.SystemPrompt(),
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
	}

	var usage adapter.Usage
	prompt := req.Prompt

	if len(attached) > 0 {
		planReq := base
		planReq.Prompt = planPrompt(req.Prompt, attached)
		resp, _, err := e.generate(ctx, planReq)
		if err != nil {
			return nil, fmt.Errorf("plan tool queries: %w", err)
		}
		usage = usage.Add(resp.Usage)

		plan := parsePlan(resp.Content, attached)
		observations := e.runTools(ctx, req.StageID, attached, plan, req.Prompt)
		prompt = withObservations(req.Prompt, observations)
	}

	final := base
	final.Prompt = prompt
	resp, retries, err := e.generate(ctx, final)
	if err != nil {
		return nil, err
	}
	usage = usage.Add(resp.Usage)
	e.logf("[agent] stage %s as %s: %d tokens, %d retries", req.StageID, persona.Name, usage.TotalTokens, retries)

	return &pipeline.ExecResult{Text: resp.Content, Usage: usage}, nil
}

func (e *Executor) attach(ctx context.Context, req pipeline.ExecRequest) ([]tools.Tool, error) {
	var attached []tools.Tool
	for _, kind := range req.Tools {
		switch kind {
		case pipeline.ToolWebSearch:
			if e.web == nil {
				return nil, errors.New("web_search tool is not configured")
			}
			attached = append(attached, e.web)
		case pipeline.ToolPDFRetrieval:
			tool, err := e.documentTool(ctx, req.DocumentRef)
			if err != nil {
				return nil, err
			}
			attached = append(attached, tool)
		}
	}
	return attached, nil
}

func (e *Executor) documentTool(ctx context.Context, ref string) (tools.Tool, error) {
	if e.documents == nil {
		return nil, errors.New("pdf_retrieval tool is not configured")
	}
	if ref == "" {
		return nil, errors.New("pdf_retrieval needs a document")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if tool, ok := e.indexes[ref]; ok {
		return tool, nil
	}
	tool, err := e.documents(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("index document: %w", err)
	}
	e.indexes[ref] = tool
	return tool, nil
}

func (e *Executor) runTools(ctx context.Context, stageID string, attached []tools.Tool, plan map[string][]string, prompt string) []observation {
	var out []observation
	for _, tool := range attached {
		queries := plan[tool.Name()]
		if len(queries) == 0 {
			queries = []string{normalize.Truncate(strings.TrimSpace(prompt), fallbackQueryLimit)}
		}
		for _, q := range queries {
			start := time.Now()
			text, err := tool.Run(ctx, q)
			if err != nil {
				e.logf("[agent] stage %s tool %s failed: %v", stageID, tool.Name(), err)
				text = "tool error: " + err.Error()
			} else {
				e.logf("[agent] stage %s tool %s %q (%s)", stageID, tool.Name(), q, time.Since(start).Round(time.Millisecond))
			}
			out = append(out, observation{tool: tool.Name(), query: q, text: text})
		}
	}
	return out
}
