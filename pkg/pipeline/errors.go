package pipeline

import (
	"errors"
	"fmt"

	"github.com/zen-systems/careerflow/pkg/normalize"
)

// ConfigError reports an invalid pipeline definition. It is always detected
// before any executor call.
type ConfigError struct {
	Pipeline string
	Stage    string
	Reason   string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Pipeline != "" && e.Stage != "":
		return fmt.Sprintf("pipeline %s: stage %s: %s", e.Pipeline, e.Stage, e.Reason)
	case e.Stage != "":
		return fmt.Sprintf("stage %s: %s", e.Stage, e.Reason)
	case e.Pipeline != "":
		return fmt.Sprintf("pipeline %s: %s", e.Pipeline, e.Reason)
	default:
		return "pipeline: " + e.Reason
	}
}

// ExecutionError reports that the executor produced no text for a stage.
type ExecutionError struct {
	Stage string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("stage %s execution failed: %v", e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NormalizationError reports a stage reply that could not be normalized.
type NormalizationError struct {
	Stage string
	Err   *normalize.Error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// DependencyUnmetError reports a stage skipped because a dependency never
// reached StatusOK.
type DependencyUnmetError struct {
	Stage      string
	Dependency string
}

func (e *DependencyUnmetError) Error() string {
	return fmt.Sprintf("stage %s skipped: dependency %s did not complete", e.Stage, e.Dependency)
}

// StatusOf maps a run error to the stage status it represents.
func StatusOf(err error) Status {
	var execErr *ExecutionError
	var normErr *NormalizationError
	var depErr *DependencyUnmetError
	switch {
	case err == nil:
		return StatusOK
	case errors.As(err, &execErr):
		return StatusExecutionFailed
	case errors.As(err, &normErr):
		return StatusNormalizationFailed
	case errors.As(err, &depErr):
		return StatusDependencyUnmet
	default:
		return StatusExecutionFailed
	}
}
