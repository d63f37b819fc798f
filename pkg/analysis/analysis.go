// Package analysis runs a pipeline over one document and fans the outcome
// out to the configured sinks. The HTTP server, the queue worker and the
// run command all go through Service.
package analysis

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/zen-systems/careerflow/pkg/assemble"
	"github.com/zen-systems/careerflow/pkg/events"
	"github.com/zen-systems/careerflow/pkg/evidence"
	"github.com/zen-systems/careerflow/pkg/pipeline"
)

// ExecutorFactory returns a fresh executor for one run.
type ExecutorFactory func() (pipeline.Executor, error)

// RunSaver persists a finished run.
type RunSaver interface {
	SaveRun(ctx context.Context, run *pipeline.Run, resp *assemble.Response) error
}

// Service wires executors to persistence and events.
type Service struct {
	NewExecutor ExecutorFactory
	// Runs and Events are optional.
	Runs   RunSaver
	Events events.Publisher
	// EvidenceDir enables on-disk run records when set.
	EvidenceDir string
	Logger      func(format string, args ...any)
}

// Request describes one analysis.
type Request struct {
	RunID        string
	Pipeline     *pipeline.Pipeline
	DocumentPath string
}

// Result is the assembled response plus the run it came from.
type Result struct {
	Run      *pipeline.Run
	Response *assemble.Response
}

// Analyze runs req to completion. Stage failures are reported in the
// response; the error is reserved for configuration problems. Sink failures
// are logged and never change the response.
func (s *Service) Analyze(ctx context.Context, req Request) (*Result, error) {
	if s.NewExecutor == nil {
		return nil, errors.New("analysis: executor factory is required")
	}
	if req.Pipeline == nil {
		return nil, errors.New("analysis: pipeline is required")
	}
	logf := s.logf()

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	exec, err := s.NewExecutor()
	if err != nil {
		return nil, err
	}

	opts := pipeline.RunOptions{RunID: runID, DocumentRef: req.DocumentPath, Logger: logf}
	var rec *evidence.Recorder
	if s.EvidenceDir != "" {
		if rec, err = evidence.NewRecorder(s.EvidenceDir, runID); err != nil {
			logf("[analysis] run %s: evidence disabled: %v", runID, err)
		} else {
			opts.Observers = append(opts.Observers, rec)
		}
	}

	run, err := pipeline.Execute(ctx, req.Pipeline, exec, opts)
	if err != nil {
		return nil, err
	}
	resp := assemble.Assemble(run)

	if rec != nil {
		if err := rec.Finish(run); err != nil {
			logf("[analysis] run %s: write evidence: %v", run.ID, err)
		}
	}
	if s.Runs != nil {
		if err := s.Runs.SaveRun(ctx, run, resp); err != nil {
			logf("[analysis] run %s: save: %v", run.ID, err)
		}
	}
	if s.Events != nil {
		if err := s.Events.Publish(ctx, events.NewRunEvent(run)); err != nil {
			logf("[analysis] run %s: publish: %v", run.ID, err)
		}
	}
	return &Result{Run: run, Response: resp}, nil
}

func (s *Service) logf() func(string, ...any) {
	if s.Logger != nil {
		return s.Logger
	}
	return func(string, ...any) {}
}
