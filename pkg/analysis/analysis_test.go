package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zen-systems/careerflow/pkg/adapter"
	"github.com/zen-systems/careerflow/pkg/agent"
	"github.com/zen-systems/careerflow/pkg/assemble"
	"github.com/zen-systems/careerflow/pkg/events"
	"github.com/zen-systems/careerflow/pkg/pipeline"
)

type savedRun struct {
	runs []string
	err  error
}

func (s *savedRun) SaveRun(ctx context.Context, run *pipeline.Run, resp *assemble.Response) error {
	s.runs = append(s.runs, run.ID)
	return s.err
}

type capturePublisher struct {
	events []events.RunEvent
}

func (c *capturePublisher) Publish(ctx context.Context, ev events.RunEvent) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func singleStage(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.ParseManifest([]byte(`name: one
stages:
  - id: summary
    agent: resume_analyzer
    shape: object
    prompt: "Summarize {{ .Document }}"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return p
}

func mockFactory(replies ...adapter.MockReply) ExecutorFactory {
	return func() (pipeline.Executor, error) {
		return agent.New(adapter.NewScriptedMockAdapter(replies...), agent.Options{})
	}
}

func TestAnalyzeSuccess(t *testing.T) {
	runs := &savedRun{}
	pub := &capturePublisher{}
	dir := t.TempDir()
	svc := &Service{
		NewExecutor: mockFactory(adapter.MockReply{Content: "```json\n{\"name\":\"Ada\"}\n```"}),
		Runs:        runs,
		Events:      pub,
		EvidenceDir: dir,
	}

	res, err := svc.Analyze(context.Background(), Request{RunID: "r1", Pipeline: singleStage(t), DocumentPath: "cv.txt"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !res.Response.Success || res.Response.StatusCode != 200 {
		t.Fatalf("unexpected response: %+v", res.Response)
	}
	if got := res.Response.Results["summary"].Canonical(); got != `{"name":"Ada"}` {
		t.Fatalf("unexpected result: %s", got)
	}
	if len(runs.runs) != 1 || runs.runs[0] != "r1" {
		t.Fatalf("run not saved: %v", runs.runs)
	}
	if len(pub.events) != 1 || pub.events[0].Outcome != "success" {
		t.Fatalf("unexpected events: %+v", pub.events)
	}
	if _, err := os.Stat(filepath.Join(dir, "r1", "run.json")); err != nil {
		t.Fatalf("missing evidence: %v", err)
	}
}

func TestAnalyzeStageFailureIsNotAnError(t *testing.T) {
	runs := &savedRun{err: errors.New("db down")}
	svc := &Service{
		NewExecutor: mockFactory(adapter.MockReply{Content: "no json here"}),
		Runs:        runs,
	}
	res, err := svc.Analyze(context.Background(), Request{Pipeline: singleStage(t), DocumentPath: "cv.txt"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Response.Success || res.Response.FailedStage != "summary" {
		t.Fatalf("unexpected response: %+v", res.Response)
	}
	if res.Run.ID == "" || res.Response.RunID != res.Run.ID {
		t.Fatalf("run id must be generated and reported")
	}
}

func TestAnalyzeRequiresInputs(t *testing.T) {
	svc := &Service{}
	if _, err := svc.Analyze(context.Background(), Request{Pipeline: singleStage(t)}); err == nil {
		t.Fatalf("expected error without executor factory")
	}
	svc.NewExecutor = mockFactory()
	if _, err := svc.Analyze(context.Background(), Request{}); err == nil {
		t.Fatalf("expected error without pipeline")
	}
}
