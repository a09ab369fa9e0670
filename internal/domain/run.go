package domain

import (
	"fmt"
	"time"
)

// Stage names one pipeline step.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageScore     Stage = "score"
	StageLoad      Stage = "load"
)

// Stages lists the pipeline steps in execution order.
func Stages() []Stage {
	return []Stage{StageExtract, StageTransform, StageScore, StageLoad}
}

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	for _, st := range Stages() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown stage %q", ErrInvalidInput, s)
}

// RunState is the externally observed state of a pipeline run.
type RunState string

const (
	RunPending     RunState = "PENDING"
	RunExtracted   RunState = "EXTRACTED"
	RunTransformed RunState = "TRANSFORMED"
	RunScored      RunState = "SCORED"
	RunLoaded      RunState = "LOADED"
	RunFailed      RunState = "FAILED"
)

var nextState = map[RunState]RunState{
	RunPending:     RunExtracted,
	RunExtracted:   RunTransformed,
	RunTransformed: RunScored,
	RunScored:      RunLoaded,
}

// Terminal reports whether no further transition is allowed.
func (s RunState) Terminal() bool {
	return s == RunLoaded || s == RunFailed
}

// CanTransition reports whether s -> to is legal.
func (s RunState) CanTransition(to RunState) bool {
	if s.Terminal() {
		return false
	}
	if to == RunFailed {
		return true
	}
	return nextState[s] == to
}

// Completes returns the state reached when stage succeeds.
func (st Stage) Completes() RunState {
	switch st {
	case StageExtract:
		return RunExtracted
	case StageTransform:
		return RunTransformed
	case StageScore:
		return RunScored
	case StageLoad:
		return RunLoaded
	}
	return RunFailed
}

// Paths are the staged artifacts handed from stage to stage.
type Paths struct {
	Source  string `json:"source"`
	Staged  string `json:"staged"`
	Cleaned string `json:"cleaned"`
	Scored  string `json:"scored"`
}

// RunContext is the immutable value threaded through the four stages of a run.
type RunContext struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"startedAt"`
	Seed       int64     `json:"seed"`
	TrainRatio float64   `json:"trainRatio"`
	Paths      Paths     `json:"paths"`
}

// Run is the persisted record of a pipeline run.
type Run struct {
	ID            string        `json:"id"`
	State         RunState      `json:"state"`
	Seed          int64         `json:"seed"`
	TrainRatio    float64       `json:"trainRatio"`
	Paths         Paths         `json:"paths"`
	RowsExtracted int           `json:"rowsExtracted"`
	RowsCleaned   int           `json:"rowsCleaned"`
	RowsScored    int           `json:"rowsScored"`
	RowsLoaded    int           `json:"rowsLoaded"`
	Metrics       *ScoreMetrics `json:"metrics,omitempty"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"startedAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// NewRun creates the PENDING record for a run context.
func NewRun(rc RunContext) *Run {
	return &Run{
		ID:         rc.ID,
		State:      RunPending,
		Seed:       rc.Seed,
		TrainRatio: rc.TrainRatio,
		Paths:      rc.Paths,
		StartedAt:  rc.StartedAt,
		UpdatedAt:  rc.StartedAt,
	}
}

// Transition moves the run to a new state.
func (r *Run) Transition(to RunState, at time.Time) error {
	if !r.State.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, to)
	}
	r.State = to
	r.UpdatedAt = at
	return nil
}

// ScoreMetrics summarises classifier quality on the scoring subset.
type ScoreMetrics struct {
	Classifier     string  `json:"classifier"`
	TrainRows      int     `json:"trainRows"`
	HoldoutRows    int     `json:"holdoutRows"`
	Accuracy       float64 `json:"accuracy"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
	TruePositives  int     `json:"truePositives"`
	FalsePositives int     `json:"falsePositives"`
	TrueNegatives  int     `json:"trueNegatives"`
	FalseNegatives int     `json:"falseNegatives"`
	PredictedFraud int     `json:"predictedFraud"`
}

// RunEvent is published on every state transition.
type RunEvent struct {
	RunID     string    `json:"runId"`
	State     RunState  `json:"state"`
	Stage     Stage     `json:"stage,omitempty"`
	Rows      int       `json:"rows,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RunRequest asks a worker to execute a run. Empty fields fall back to config.
type RunRequest struct {
	RunID      string   `json:"runId,omitempty"`
	Source     string   `json:"source,omitempty"`
	Seed       *int64   `json:"seed,omitempty"`
	TrainRatio *float64 `json:"trainRatio,omitempty"`
}
