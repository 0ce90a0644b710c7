package pipeline

import "fmt"

// A StageError wraps a failure with the pipeline stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

// Error returns the error message.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}
