package evidence

import (
	"encoding/json"
	"sync"

	"github.com/zen-systems/careerflow/pkg/normalize"
	"github.com/zen-systems/careerflow/pkg/pipeline"
)

// Recorder is a pipeline.Observer that writes a stage record as each stage
// finishes. Call Finish once the run returns to write run.json.
type Recorder struct {
	writer *Writer

	mu  sync.Mutex
	err error
}

var _ pipeline.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder for runID under baseDir.
func NewRecorder(baseDir, runID string) (*Recorder, error) {
	w, err := NewWriter(baseDir, runID)
	if err != nil {
		return nil, err
	}
	return &Recorder{writer: w}, nil
}

// RunDir returns the directory the run is recorded in.
func (r *Recorder) RunDir() string {
	return r.writer.RunDir()
}

// StageStarted is a no-op; stages are recorded when they finish.
func (r *Recorder) StageStarted(run *pipeline.Run, stage *pipeline.Stage, prompt string) {}

// StageFinished writes stages/<id>.json.
func (r *Recorder) StageFinished(run *pipeline.Run, stage *pipeline.Stage, result *pipeline.StageResult) {
	record := StageRecord{
		StageID:        result.StageID,
		Agent:          stage.Agent,
		Model:          stage.Model,
		Shape:          string(stage.Shape),
		Status:         string(result.Status),
		Prompt:         result.Prompt,
		DurationMillis: result.Duration.Milliseconds(),
		Usage:          result.Usage,
	}
	for _, t := range stage.ToolSet() {
		record.Tools = append(record.Tools, string(t))
	}
	if result.Prompt != "" {
		record.PromptHash = hashBytes([]byte(result.Prompt))
	}
	if result.RawText != "" {
		record.Output = normalize.Truncate(result.RawText, OutputLimit)
		record.OutputHash = hashBytes([]byte(result.RawText))
		if record.Output != result.RawText {
			record.OutputTruncated = true
			ref, _, err := r.writer.WriteBlob("output", []byte(result.RawText))
			r.keep(err)
			record.OutputBlob = ref
		}
	}
	if result.Value != nil {
		if data, err := json.Marshal(result.Value); err == nil {
			record.Value = data
		}
	}
	if result.Err != nil {
		record.Error = result.Err.Error()
	}
	r.keep(r.writer.WriteStage(record))
}

// Finish writes run.json and returns the first write error seen.
func (r *Recorder) Finish(run *pipeline.Run) error {
	record := RunRecord{
		ID:             run.ID,
		Pipeline:       run.Pipeline,
		DocumentRef:    run.DocumentRef,
		Outcome:        string(run.Outcome),
		FailedStage:    run.FailedStage(),
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
		DurationMillis: run.Duration().Milliseconds(),
		Usage:          run.Usage(),
	}
	for _, res := range run.Results() {
		record.Stages = append(record.Stages, res.StageID)
	}
	if run.Err != nil {
		record.Error = run.Err.Error()
	}
	r.keep(r.writer.WriteRun(record))
	return r.Err()
}

// Err returns the first write error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) keep(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}
