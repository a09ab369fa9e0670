// Package pipeline sequences the four stages of a fraudflow run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/fraudflow/internal/bus"
	"github.com/opensource-finance/fraudflow/internal/domain"
	"github.com/opensource-finance/fraudflow/internal/extract"
	"github.com/opensource-finance/fraudflow/internal/load"
	"github.com/opensource-finance/fraudflow/internal/score"
	"github.com/opensource-finance/fraudflow/internal/transform"
)

var tracer = otel.Tracer("fraudflow-pipeline")

// Options carries the collaborators of a Runner. Every field is optional
// except Store.
type Options struct {
	Store domain.ArtifactStore

	// Runs persists run records. Nil disables run bookkeeping.
	Runs domain.Repository

	// Cache holds stage checkpoints. Nil disables resume.
	Cache domain.Cache

	// Bus receives run events. Nil disables events.
	Bus       domain.EventBus
	Namespace string

	CheckpointTTL time.Duration
}

// StageResult is what one stage reports to the runner.
type StageResult struct {
	Stage   domain.Stage         `json:"stage"`
	Ref     string               `json:"ref,omitempty"`
	Rows    int                  `json:"rows"`
	Digest  string               `json:"digest,omitempty"`
	Skipped bool                 `json:"skipped,omitempty"`
	Metrics *domain.ScoreMetrics `json:"metrics,omitempty"`
	Detail  any                  `json:"detail,omitempty"`
}

// Runner executes stages for a RunContext.
type Runner struct {
	cfg     domain.PipelineConfig
	repoCfg domain.RepositoryConfig
	opts    Options
	now     func() time.Time
}

// NewRunner creates a runner from the pipeline and repository configuration.
func NewRunner(cfg *domain.Config, opts Options) (*Runner, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: artifact store is required", domain.ErrInvalidInput)
	}
	if opts.Namespace == "" {
		opts.Namespace = "default"
	}
	if opts.CheckpointTTL <= 0 {
		opts.CheckpointTTL = 24 * time.Hour
	}
	if _, err := score.NewClassifier(cfg.Pipeline.Score); err != nil {
		return nil, err
	}
	return &Runner{
		cfg:     cfg.Pipeline,
		repoCfg: cfg.Repository,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Config returns the pipeline configuration runs are built from.
func (r *Runner) Config() domain.PipelineConfig {
	return r.cfg
}

// Run executes extract, transform, score and load in order. The run record
// follows every transition; on failure it ends FAILED and the stage error is
// returned as a *domain.StageError.
func (r *Runner) Run(ctx context.Context, rc domain.RunContext) (*domain.Run, error) {
	ctx, span := tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("run.id", rc.ID),
			attribute.Int64("run.seed", rc.Seed),
			attribute.Float64("run.train_ratio", rc.TrainRatio),
		),
	)
	defer span.End()

	run := domain.NewRun(rc)
	r.record(ctx, run, "")

	slog.Info("run started",
		"run_id", rc.ID,
		"source", rc.Paths.Source,
		"staging", rc.Paths.Staged,
	)

	for _, st := range domain.Stages() {
		res, err := r.Stage(ctx, rc, st)
		if err != nil {
			run.Error = err.Error()
			if terr := run.Transition(domain.RunFailed, r.now()); terr != nil {
				slog.Error("run state not updated", "run_id", rc.ID, "error", terr)
			}
			r.record(ctx, run, st)
			r.publish(ctx, domain.TopicRunFailed, r.event(run, st, 0))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("run failed",
				"run_id", rc.ID,
				"stage", st,
				"exit_code", domain.ExitCode(err),
				"error", err,
			)
			return run, err
		}

		switch st {
		case domain.StageExtract:
			run.RowsExtracted = res.Rows
		case domain.StageTransform:
			run.RowsCleaned = res.Rows
		case domain.StageScore:
			run.RowsScored = res.Rows
			run.Metrics = res.Metrics
		case domain.StageLoad:
			run.RowsLoaded = res.Rows
		}
		if err := run.Transition(st.Completes(), r.now()); err != nil {
			return run, &domain.StageError{RunID: rc.ID, Stage: st, Err: err}
		}
		r.record(ctx, run, st)
	}

	r.publish(ctx, domain.TopicRunCompleted, r.event(run, domain.StageLoad, run.RowsLoaded))
	slog.Info("run complete",
		"run_id", rc.ID,
		"rows_loaded", run.RowsLoaded,
		"duration_ms", run.UpdatedAt.Sub(run.StartedAt).Milliseconds(),
	)
	return run, nil
}

// Stage executes one stage for rc. It is the entry point the scheduler uses
// when it invokes the stages as separate tasks.
func (r *Runner) Stage(ctx context.Context, rc domain.RunContext, st domain.Stage) (*StageResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.stage."+string(st),
		trace.WithAttributes(
			attribute.String("run.id", rc.ID),
			attribute.String("stage", string(st)),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := r.execute(ctx, rc, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var se *domain.StageError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, &domain.StageError{RunID: rc.ID, Stage: st, Err: err}
	}

	res.Stage = st
	span.SetAttributes(
		attribute.Int("stage.rows", res.Rows),
		attribute.Bool("stage.skipped", res.Skipped),
	)
	slog.Debug("stage finished",
		"run_id", rc.ID,
		"stage", st,
		"rows", res.Rows,
		"skipped", res.Skipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Extract runs the extract stage alone.
func (r *Runner) Extract(ctx context.Context, rc domain.RunContext) (*StageResult, error) {
	return r.Stage(ctx, rc, domain.StageExtract)
}

// Transform runs the transform stage alone.
func (r *Runner) Transform(ctx context.Context, rc domain.RunContext) (*StageResult, error) {
	return r.Stage(ctx, rc, domain.StageTransform)
}

// Score runs the score stage alone.
func (r *Runner) Score(ctx context.Context, rc domain.RunContext) (*StageResult, error) {
	return r.Stage(ctx, rc, domain.StageScore)
}

// Load runs the load stage alone.
func (r *Runner) Load(ctx context.Context, rc domain.RunContext) (*StageResult, error) {
	return r.Stage(ctx, rc, domain.StageLoad)
}

func (r *Runner) execute(ctx context.Context, rc domain.RunContext, st domain.Stage) (*StageResult, error) {
	p := rc.Paths
	switch st {
	case domain.StageExtract:
		return r.resumable(ctx, rc, st, p.Source, p.Staged, func() (*StageResult, error) {
			res, err := extract.NewExtractor(r.opts.Store).Extract(ctx, p.Source, p.Staged)
			if err != nil {
				return nil, err
			}
			return &StageResult{Ref: res.Ref, Rows: res.Rows, Digest: res.Digest, Detail: res}, nil
		})

	case domain.StageTransform:
		return r.resumable(ctx, rc, st, p.Staged, p.Cleaned, func() (*StageResult, error) {
			res, err := transform.NewTransformer(r.opts.Store, r.cfg.Transform).Transform(ctx, p.Staged, p.Cleaned)
			if err != nil {
				return nil, err
			}
			return &StageResult{Ref: res.Ref, Rows: res.RowsOut, Digest: res.Digest, Detail: res}, nil
		})

	case domain.StageScore:
		cfg := r.scoreConfig(rc)
		return r.resumable(ctx, rc, st, p.Cleaned, p.Scored, func() (*StageResult, error) {
			clf, err := score.NewClassifier(cfg)
			if err != nil {
				return nil, err
			}
			res, err := score.NewScorer(r.opts.Store, clf, cfg).Score(ctx, p.Cleaned, p.Scored)
			if err != nil {
				return nil, err
			}
			m := res.Metrics
			return &StageResult{Ref: res.Ref, Rows: res.Rows, Digest: res.Digest, Metrics: &m, Detail: res}, nil
		})

	case domain.StageLoad:
		res, err := load.NewLoader(r.opts.Store, r.repoCfg).Load(ctx, p.Scored)
		if err != nil {
			return nil, err
		}
		return &StageResult{Ref: p.Scored, Rows: res.Loaded, Detail: res}, nil
	}
	return nil, fmt.Errorf("%w: unknown stage %q", domain.ErrInvalidInput, st)
}

// scoreConfig applies the run's seed and ratio to the configured scorer.
func (r *Runner) scoreConfig(rc domain.RunContext) domain.ScoreConfig {
	cfg := r.cfg.Score
	cfg.Seed = rc.Seed
	if rc.TrainRatio > 0 {
		cfg.TrainRatio = rc.TrainRatio
	}
	return cfg
}

func (r *Runner) event(run *domain.Run, st domain.Stage, rows int) domain.RunEvent {
	return domain.RunEvent{
		RunID:     run.ID,
		State:     run.State,
		Stage:     st,
		Rows:      rows,
		Error:     run.Error,
		Timestamp: run.UpdatedAt,
	}
}

// record persists the run and publishes the state change. Failures here are
// logged and never fail the run; the staged files and the table are the
// pipeline's contract.
func (r *Runner) record(ctx context.Context, run *domain.Run, st domain.Stage) {
	if r.opts.Runs != nil {
		if err := r.opts.Runs.SaveRun(ctx, run); err != nil {
			slog.Error("failed to save run record",
				"run_id", run.ID,
				"state", run.State,
				"error", err,
			)
		}
	}

	rows := 0
	switch run.State {
	case domain.RunExtracted:
		rows = run.RowsExtracted
	case domain.RunTransformed:
		rows = run.RowsCleaned
	case domain.RunScored:
		rows = run.RowsScored
	case domain.RunLoaded:
		rows = run.RowsLoaded
	}
	r.publish(ctx, domain.TopicRunState, r.event(run, st, rows))

	slog.Info("run state changed",
		"run_id", run.ID,
		"state", run.State,
		"stage", st,
		"rows", rows,
	)
}

func (r *Runner) publish(ctx context.Context, topic string, ev domain.RunEvent) {
	if r.opts.Bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, r.opts.Bus, r.opts.Namespace, topic, ev); err != nil {
		slog.Warn("failed to publish run event",
			"run_id", ev.RunID,
			"topic", topic,
			"error", err,
		)
	}
}
