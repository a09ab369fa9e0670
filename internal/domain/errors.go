package domain

import (
	"errors"
	"fmt"
)

// Stage failure taxonomy. Each is raised by the stage that detects it and is
// never converted by a later stage.
var (
	ErrSourceNotFound = errors.New("source not found")
	ErrSchemaMismatch = errors.New("schema mismatch")
	ErrTransform      = errors.New("transform error")
	ErrTraining       = errors.New("training error")
	ErrLoad           = errors.New("load error")
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid run state transition")
	ErrArtifactNotFound  = errors.New("artifact not found")
)

// StageError attributes a failure to the stage that raised it.
type StageError struct {
	RunID string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	if e.RunID == "" {
		return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("run %s: stage %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ExitCode maps a failure to the process exit code reported to the scheduler.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrSourceNotFound):
		return 2
	case errors.Is(err, ErrSchemaMismatch):
		return 3
	case errors.Is(err, ErrTransform):
		return 4
	case errors.Is(err, ErrTraining):
		return 5
	case errors.Is(err, ErrLoad):
		return 6
	default:
		return 1
	}
}
