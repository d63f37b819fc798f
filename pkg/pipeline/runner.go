package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zen-systems/careerflow/pkg/adapter"
	"github.com/zen-systems/careerflow/pkg/normalize"
)

// Executor runs one stage prompt against a language model with the stage's
// tools attached. It may block for as long as the model takes; timeouts are
// the executor's responsibility and surface as errors.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (*ExecResult, error)
}

// ExecRequest is the input to a single executor call.
type ExecRequest struct {
	StageID     string
	Agent       string
	Model       string
	Prompt      string
	Tools       []ToolKind
	DocumentRef string
}

// ExecResult is the text produced for a stage.
type ExecResult struct {
	Text  string
	Usage adapter.Usage
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req ExecRequest) (*ExecResult, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	return f(ctx, req)
}

// Observer is notified as stages start and finish. Observers run on the
// sequencer goroutine and must not retain the run past the call.
type Observer interface {
	StageStarted(run *Run, stage *Stage, prompt string)
	StageFinished(run *Run, stage *Stage, result *StageResult)
}

// RunOptions configures pipeline execution.
type RunOptions struct {
	RunID       string
	DocumentRef string
	Observers   []Observer
	Logger      func(format string, args ...any)
}

// Execute runs every stage of p in declaration order. Stages are fed the
// normalized output of their dependencies. The first failure of any kind
// stops the run; no later stage is executed.
//
// The returned error is non-nil only for configuration problems, which are
// detected before the executor is called. Stage failures are recorded on
// the returned Run.
func Execute(ctx context.Context, p *Pipeline, exec Executor, opts RunOptions) (*Run, error) {
	if p == nil {
		return nil, &ConfigError{Reason: "pipeline is required"}
	}
	if exec == nil {
		return nil, &ConfigError{Pipeline: p.Name, Reason: "executor is required"}
	}
	if !p.validated {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	logf := opts.Logger
	if logf == nil {
		logf = func(string, ...any) {}
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	run := newRun(runID, p.Name, opts.DocumentRef)
	logf("[pipeline] run %s: %s (%d stages)", run.ID, p.Name, len(p.Stages))

	for _, stage := range p.Stages {
		if dep, ok := unmetDependency(run, stage); !ok {
			run.fail(stage.ID, &DependencyUnmetError{Stage: stage.ID, Dependency: dep})
			logf("[pipeline] run %s: stage %s skipped, dependency %s not ok", run.ID, stage.ID, dep)
			break
		}

		result := runStage(ctx, run, stage, exec, opts.Observers)
		run.record(result)
		for _, obs := range opts.Observers {
			obs.StageFinished(run, stage, result)
		}

		if result.Status != StatusOK {
			run.fail(stage.ID, result.Err)
			logf("[pipeline] run %s: stage %s %s: %v", run.ID, stage.ID, result.Status, result.Err)
			break
		}
		logf("[pipeline] run %s: stage %s ok (%s)", run.ID, stage.ID, result.Duration.Round(time.Millisecond))
	}

	run.finish()
	logf("[pipeline] run %s: %s", run.ID, run.Outcome)
	return run, nil
}

func unmetDependency(run *Run, stage *Stage) (string, bool) {
	for _, dep := range stage.DependsOn {
		res, ok := run.Result(dep)
		if !ok || res.Status != StatusOK {
			return dep, false
		}
	}
	return "", true
}

func runStage(ctx context.Context, run *Run, stage *Stage, exec Executor, observers []Observer) *StageResult {
	start := time.Now()
	result := &StageResult{StageID: stage.ID, OutputKey: stage.OutputKey()}

	prompt, err := renderPrompt(stage, run.DocumentRef, run.canonicalDeps(stage.DependsOn))
	if err != nil {
		// Validation probes every template, so this only fires on a
		// template that errors on real data.
		result.Status = StatusExecutionFailed
		result.Err = &ExecutionError{Stage: stage.ID, Err: fmt.Errorf("render prompt: %w", err)}
		result.Duration = time.Since(start)
		return result
	}
	result.Prompt = prompt

	for _, obs := range observers {
		obs.StageStarted(run, stage, prompt)
	}

	out, err := exec.Execute(ctx, ExecRequest{
		StageID:     stage.ID,
		Agent:       stage.Agent,
		Model:       stage.Model,
		Prompt:      prompt,
		Tools:       stage.ToolSet(),
		DocumentRef: run.DocumentRef,
	})
	if err == nil && out == nil {
		err = errors.New("executor returned no result")
	}
	if err != nil {
		result.Status = StatusExecutionFailed
		result.Err = &ExecutionError{Stage: stage.ID, Err: err}
		result.Duration = time.Since(start)
		return result
	}

	result.RawText = out.Text
	result.Usage = out.Usage

	value, err := stage.normalizer.Normalize(out.Text, stage.Shape)
	if err != nil {
		var nerr *normalize.Error
		if !errors.As(err, &nerr) {
			nerr = &normalize.Error{Shape: stage.Shape, Raw: out.Text, Reason: err.Error()}
		}
		result.Status = StatusNormalizationFailed
		result.Err = &NormalizationError{Stage: stage.ID, Err: nerr}
		result.Duration = time.Since(start)
		return result
	}

	result.Value = value
	result.Status = StatusOK
	result.Duration = time.Since(start)
	return result
}

func renderPrompt(stage *Stage, documentRef string, deps map[string]string) (string, error) {
	var sb strings.Builder
	if err := stage.tmpl.Execute(&sb, promptData(documentRef, deps)); err != nil {
		return "", err
	}

	if len(stage.implicit) > 0 {
		sb.WriteString("\n\nContext from earlier stages:\n")
		for _, dep := range stage.implicit {
			sb.WriteString(fmt.Sprintf("\n### %s\n%s\n", dep, deps[dep]))
		}
	}
	return sb.String(), nil
}

func promptData(documentRef string, deps map[string]string) map[string]any {
	return map[string]any{
		"Document": documentRef,
		"Deps":     deps,
	}
}
