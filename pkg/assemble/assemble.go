// Package assemble turns a finished pipeline run into the response returned
// to callers.
package assemble

import (
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/zen-systems/careerflow/pkg/normalize"
	"github.com/zen-systems/careerflow/pkg/pipeline"
)

// DefaultRawLimit bounds the raw text reported per stage on failure.
const DefaultRawLimit = 2000

// Response is the caller-facing result of a run. It always marshals to a
// well-formed JSON body.
type Response struct {
	Success     bool                        `json:"success"`
	Results     map[string]*normalize.Value `json:"results,omitempty"`
	Error       string                      `json:"error,omitempty"`
	FailedStage string                      `json:"failed_stage,omitempty"`
	Status      pipeline.Status             `json:"status,omitempty"`
	Detail      string                      `json:"detail,omitempty"`
	Raw         map[string]string           `json:"raw,omitempty"`
	RunID       string                      `json:"run_id,omitempty"`
	Timestamp   time.Time                   `json:"timestamp"`

	StatusCode int `json:"-"`
}

type options struct {
	rawLimit int
	now      func() time.Time
}

// Option customizes assembly.
type Option func(*options)

// WithRawLimit sets the per-stage raw text bound in bytes.
func WithRawLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.rawLimit = n
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Assemble builds the response for run. A nil or unfinished run yields a
// failure response.
func Assemble(run *pipeline.Run, opts ...Option) *Response {
	o := options{rawLimit: DefaultRawLimit, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	resp := &Response{Timestamp: o.now().UTC()}
	if run == nil {
		resp.Error = "no pipeline run"
		resp.StatusCode = http.StatusInternalServerError
		return resp
	}
	resp.RunID = run.ID

	if run.Outcome == pipeline.OutcomeSuccess {
		resp.Success = true
		resp.StatusCode = http.StatusOK
		resp.Results = make(map[string]*normalize.Value, len(run.Results()))
		for _, res := range run.Results() {
			resp.Results[key(res)] = res.Value
		}
		return resp
	}

	resp.FailedStage = run.FailedStage()
	resp.Status = run.Status()
	resp.Error = message(run)
	resp.Detail = detail(run.Err)
	resp.StatusCode = statusCode(run.Err)

	for _, res := range run.Results() {
		if res.RawText == "" {
			continue
		}
		if resp.Raw == nil {
			resp.Raw = make(map[string]string)
		}
		resp.Raw[res.StageID] = Bound(res.RawText, o.rawLimit)
	}
	return resp
}

func key(res *pipeline.StageResult) string {
	if res.OutputKey != "" {
		return res.OutputKey
	}
	return res.StageID
}

func message(run *pipeline.Run) string {
	switch {
	case run.Outcome == pipeline.OutcomePending:
		return "pipeline run did not finish"
	case run.FailedStage() != "":
		return "stage " + run.FailedStage() + " failed"
	default:
		return "pipeline run failed"
	}
}

func detail(err error) string {
	if err == nil {
		return ""
	}
	var normErr *pipeline.NormalizationError
	if errors.As(err, &normErr) && normErr.Err != nil {
		return normErr.Err.Reason + ": " + normErr.Err.Excerpt()
	}
	var execErr *pipeline.ExecutionError
	if errors.As(err, &execErr) && execErr.Err != nil {
		return execErr.Err.Error()
	}
	return err.Error()
}

func statusCode(err error) int {
	var execErr *pipeline.ExecutionError
	var normErr *pipeline.NormalizationError
	if errors.As(err, &execErr) || errors.As(err, &normErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Bound truncates s to at most limit bytes without splitting a rune.
func Bound(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
