package pipeline

import (
	"time"

	"github.com/zen-systems/careerflow/pkg/adapter"
	"github.com/zen-systems/careerflow/pkg/normalize"
)

// Status is the terminal state of a single stage.
type Status string

const (
	StatusOK                  Status = "ok"
	StatusNormalizationFailed Status = "normalization_failed"
	StatusExecutionFailed     Status = "execution_failed"
	// StatusDependencyUnmet never appears on a StageResult: a stage with an
	// unmet dependency is not executed. It classifies the run error.
	StatusDependencyUnmet Status = "dependency_unmet"
)

// Outcome summarizes a run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	// OutcomePartial is reserved; the sequencer is fail-fast and never
	// reports partial success.
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
	OutcomePending Outcome = "pending"
)

// StageResult records one stage execution. It is not modified after the
// sequencer records it.
type StageResult struct {
	StageID string
	// OutputKey is the key the value is reported under.
	OutputKey string
	Prompt    string
	RawText   string
	Value     *normalize.Value
	Status    Status
	Err       error
	Usage     adapter.Usage
	Duration  time.Duration
}

// Run is the state of one pipeline execution. A Run belongs to a single
// goroutine and is never shared between runs.
type Run struct {
	ID          string
	Pipeline    string
	DocumentRef string
	Outcome     Outcome
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time

	failedStage string
	order       []string
	results     map[string]*StageResult
}

func newRun(id, pipeline, documentRef string) *Run {
	return &Run{
		ID:          id,
		Pipeline:    pipeline,
		DocumentRef: documentRef,
		Outcome:     OutcomePending,
		StartedAt:   time.Now().UTC(),
		results:     make(map[string]*StageResult),
	}
}

func (r *Run) record(result *StageResult) {
	if _, ok := r.results[result.StageID]; !ok {
		r.order = append(r.order, result.StageID)
	}
	r.results[result.StageID] = result
}

func (r *Run) fail(stageID string, err error) {
	if r.failedStage == "" {
		r.failedStage = stageID
		r.Err = err
	}
}

func (r *Run) finish() {
	r.FinishedAt = time.Now().UTC()
	if r.failedStage != "" {
		r.Outcome = OutcomeFailed
		return
	}
	r.Outcome = OutcomeSuccess
}

// Results returns stage results in execution order.
func (r *Run) Results() []*StageResult {
	out := make([]*StageResult, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.results[id])
	}
	return out
}

// Result returns the result for a stage, if it was executed.
func (r *Run) Result(stageID string) (*StageResult, bool) {
	res, ok := r.results[stageID]
	return res, ok
}

// FailedStage returns the id of the stage that stopped the run, or "".
func (r *Run) FailedStage() string {
	return r.failedStage
}

// Status returns the status of the failing stage, or StatusOK.
func (r *Run) Status() Status {
	return StatusOf(r.Err)
}

// Duration is the wall time of the run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Usage sums token usage across executed stages.
func (r *Run) Usage() adapter.Usage {
	var total adapter.Usage
	for _, res := range r.results {
		total = total.Add(res.Usage)
	}
	return total
}

func (r *Run) canonicalDeps(deps []string) map[string]string {
	out := make(map[string]string, len(deps))
	for _, dep := range deps {
		if res, ok := r.results[dep]; ok && res.Value != nil {
			out[dep] = res.Value.Canonical()
		}
	}
	return out
}
