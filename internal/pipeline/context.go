package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/fraudflow/internal/domain"
	"github.com/opensource-finance/fraudflow/internal/staging"
)

// NewRunContext builds the immutable value threaded through a run.
func NewRunContext(cfg domain.PipelineConfig) domain.RunContext {
	return newRunContext(cfg, uuid.New().String())
}

func newRunContext(cfg domain.PipelineConfig, id string) domain.RunContext {
	return domain.RunContext{
		ID:         id,
		StartedAt:  time.Now().UTC(),
		Seed:       cfg.Score.Seed,
		TrainRatio: cfg.Score.TrainRatio,
		Paths:      staging.RunPaths(cfg.SourcePath, cfg.StagingDir, id, cfg.NamespaceRuns),
	}
}

// RequestContext is NewRunContext with the overrides of a run request.
func RequestContext(cfg domain.PipelineConfig, req domain.RunRequest) (domain.RunContext, error) {
	if req.Source != "" {
		cfg.SourcePath = req.Source
	}
	if req.Seed != nil {
		cfg.Score.Seed = *req.Seed
	}
	if req.TrainRatio != nil {
		r := *req.TrainRatio
		if r <= 0 || r >= 1 {
			return domain.RunContext{}, fmt.Errorf("%w: trainRatio must be in (0, 1), got %v", domain.ErrInvalidInput, r)
		}
		cfg.Score.TrainRatio = r
	}
	if req.RunID != "" {
		if _, err := uuid.Parse(req.RunID); err != nil {
			return domain.RunContext{}, fmt.Errorf("%w: runId must be a UUID: %v", domain.ErrInvalidInput, err)
		}
		return newRunContext(cfg, req.RunID), nil
	}
	return NewRunContext(cfg), nil
}
