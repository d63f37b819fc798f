// Package worker consumes analysis jobs from RabbitMQ. Each job names an
// uploaded document in object storage; the worker downloads it, runs the
// pipeline and reports progress on the updates exchange.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/zen-systems/careerflow/pkg/analysis"
	"github.com/zen-systems/careerflow/pkg/assemble"
	"github.com/zen-systems/careerflow/pkg/document"
	"github.com/zen-systems/careerflow/pkg/pipeline"
)

// Job is the queue message body.
type Job struct {
	JobID     string `json:"job_id"`
	ObjectKey string `json:"object_key"`
	FileName  string `json:"file_name"`
	Pipeline  string `json:"pipeline,omitempty"`
}

// Job states reported on the updates exchange.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Update is a status message for one job.
type Update struct {
	JobID     string             `json:"job_id"`
	RunID     string             `json:"run_id,omitempty"`
	Status    string             `json:"status"`
	Message   string             `json:"message"`
	Result    *assemble.Response `json:"result,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// ErrFetch marks a job whose document could not be downloaded. The job
// itself may be fine, so the first delivery is requeued.
var ErrFetch = errors.New("fetch document")

// DocumentFetcher downloads uploaded documents.
type DocumentFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// StatusPublisher reports job progress.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, update Update) error
}

// Worker processes jobs.
type Worker struct {
	analyzer *analysis.Service
	docs     DocumentFetcher
	updates  StatusPublisher
	tempDir  string
	pipeline string
	attempts int
	backoff  time.Duration
	logf     func(format string, args ...any)
	now      func() time.Time
}

// Option configures a Worker.
type Option func(*Worker)

// WithTempDir sets where downloaded documents are staged.
func WithTempDir(dir string) Option {
	return func(w *Worker) { w.tempDir = dir }
}

// WithDefaultPipeline sets the builtin pipeline for jobs that name none.
func WithDefaultPipeline(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.pipeline = name
		}
	}
}

// WithFetchRetry sets how many times a download is attempted before the job
// gives up. The wait grows linearly from backoff.
func WithFetchRetry(attempts int, backoff time.Duration) Option {
	return func(w *Worker) {
		if attempts > 0 {
			w.attempts = attempts
		}
		if backoff >= 0 {
			w.backoff = backoff
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(w *Worker) {
		if logf != nil {
			w.logf = logf
		}
	}
}

// New creates a worker.
func New(analyzer *analysis.Service, docs DocumentFetcher, updates StatusPublisher, opts ...Option) (*Worker, error) {
	if analyzer == nil {
		return nil, errors.New("worker: analysis service is required")
	}
	if docs == nil {
		return nil, errors.New("worker: document fetcher is required")
	}
	w := &Worker{
		analyzer: analyzer,
		docs:     docs,
		updates:  updates,
		pipeline: "basic",
		attempts: 3,
		backoff:  500 * time.Millisecond,
		logf:     func(string, ...any) {},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run starts n goroutines draining deliveries and blocks until the channel
// closes or ctx is canceled and every in-flight job has finished.
func (w *Worker) Run(ctx context.Context, deliveries <-chan amqp.Delivery, n int) {
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(id int) {
			defer wg.Done()
			w.logf("[worker] %d started", id)
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					w.Handle(ctx, d)
				}
			}
		}(i + 1)
	}
	wg.Wait()
}

// Handle processes one delivery and acknowledges it. A download failure on
// the first delivery is requeued. Everything else that stops the job (bad
// body, unsupported file, unknown pipeline, a download that failed again
// after redelivery) is rejected without requeue.
func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil || job.JobID == "" || job.ObjectKey == "" {
		w.logf("[worker] malformed job: %v", err)
		w.publish(ctx, Update{JobID: job.JobID, Status: StatusFailed, Message: "malformed job"})
		w.settle(job.JobID, "reject", d.Reject(false))
		return
	}

	res, err := w.Process(ctx, job)
	if err != nil {
		if errors.Is(err, ErrFetch) && !d.Redelivered {
			w.logf("[worker] job %s requeued: %v", job.JobID, err)
			w.settle(job.JobID, "requeue", d.Reject(true))
			return
		}
		w.logf("[worker] job %s failed: %v", job.JobID, err)
		w.publish(ctx, Update{JobID: job.JobID, Status: StatusFailed, Message: err.Error()})
		w.settle(job.JobID, "reject", d.Reject(false))
		return
	}

	update := Update{JobID: job.JobID, RunID: res.Run.ID, Status: StatusCompleted, Message: "analysis completed", Result: res.Response}
	if !res.Response.Success {
		update.Status = StatusFailed
		update.Message = res.Response.Error
	}
	w.publish(ctx, update)
	w.settle(job.JobID, "ack", d.Ack(false))
}

func (w *Worker) settle(jobID, action string, err error) {
	if err != nil {
		w.logf("[worker] job %s: %s: %v", jobID, action, err)
	}
}

// Process runs one job. Stage failures come back in the result; the error
// covers everything that stopped the pipeline from running at all.
func (w *Worker) Process(ctx context.Context, job Job) (*analysis.Result, error) {
	name := filepath.Base(job.FileName)
	if job.FileName == "" {
		name = filepath.Base(job.ObjectKey)
	}
	if !document.Supported(name) {
		return nil, fmt.Errorf("%w: %s", document.ErrUnsupported, name)
	}
	p, err := pipeline.Builtin(w.pipelineName(job.Pipeline))
	if err != nil {
		return nil, err
	}

	w.publish(ctx, Update{JobID: job.JobID, Status: StatusProcessing, Message: "analysis started"})
	w.logf("[worker] job %s: fetching %s", job.JobID, job.ObjectKey)

	data, err := w.fetch(ctx, job.ObjectKey)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(w.tempDir, "careerflow-job-")
	if err != nil {
		return nil, fmt.Errorf("stage document: %w", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("stage document: %w", err)
	}

	return w.analyzer.Analyze(ctx, analysis.Request{Pipeline: p, DocumentPath: path})
}

func (w *Worker) fetch(ctx context.Context, key string) ([]byte, error) {
	var lastErr error
	for i := 0; i < w.attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w %s: %w", ErrFetch, key, ctx.Err())
			case <-time.After(w.backoff * time.Duration(i)):
			}
		}
		data, err := w.docs.Fetch(ctx, key)
		if err == nil {
			return data, nil
		}
		lastErr = err
		w.logf("[worker] fetch %s attempt %d/%d: %v", key, i+1, w.attempts, err)
	}
	return nil, fmt.Errorf("%w %s after %d attempts: %w", ErrFetch, key, w.attempts, lastErr)
}

func (w *Worker) publish(ctx context.Context, update Update) {
	if w.updates == nil {
		return
	}
	update.Timestamp = w.now()
	if err := w.updates.PublishStatus(ctx, update); err != nil {
		w.logf("[worker] job %s: publish %s update: %v", update.JobID, update.Status, err)
	}
}

func (w *Worker) pipelineName(name string) string {
	if name == "" {
		return w.pipeline
	}
	return name
}
