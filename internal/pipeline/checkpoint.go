package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/opensource-finance/fraudflow/internal/cache"
	"github.com/opensource-finance/fraudflow/internal/domain"
)

// fingerprint hashes the options that shape a stage's output.
func (r *Runner) fingerprint(rc domain.RunContext, st domain.Stage) string {
	var v any
	switch st {
	case domain.StageTransform:
		v = r.cfg.Transform
	case domain.StageScore:
		v = r.scoreConfig(rc)
	default:
		return "-"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "-"
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// resumable runs fn unless resume is on and a checkpoint proves that output
// already holds what fn would produce from input.
func (r *Runner) resumable(ctx context.Context, rc domain.RunContext, st domain.Stage, input, output string, fn func() (*StageResult, error)) (*StageResult, error) {
	if !r.cfg.Resume || r.opts.Cache == nil {
		return fn()
	}

	in, err := r.opts.Store.Stat(ctx, input)
	if err != nil {
		// Let the stage report the missing input with its own error.
		return fn()
	}
	key := cache.CheckpointKey(st, in.Digest, r.fingerprint(rc, st))

	if res := r.restore(ctx, key, output); res != nil {
		slog.Info("stage skipped, checkpoint valid",
			"run_id", rc.ID,
			"stage", st,
			"output", output,
			"rows", res.Rows,
		)
		return res, nil
	}

	res, err := fn()
	if err != nil {
		return nil, err
	}

	cp := &domain.Checkpoint{
		Stage:        st,
		RunID:        rc.ID,
		InputDigest:  in.Digest,
		OutputRef:    res.Ref,
		OutputDigest: res.Digest,
		Rows:         res.Rows,
		CreatedAt:    r.now(),
	}
	if err := r.opts.Cache.SetCheckpoint(ctx, r.opts.Namespace, key, cp, r.opts.CheckpointTTL); err != nil {
		slog.Warn("failed to record checkpoint", "stage", st, "error", err)
	}
	return res, nil
}

func (r *Runner) restore(ctx context.Context, key, output string) *StageResult {
	cp, err := r.opts.Cache.GetCheckpoint(ctx, r.opts.Namespace, key)
	if err != nil {
		slog.Warn("failed to read checkpoint", "key", key, "error", err)
		return nil
	}
	if cp == nil || cp.OutputRef != output {
		return nil
	}
	out, err := r.opts.Store.Stat(ctx, output)
	if err != nil || out.Digest != cp.OutputDigest {
		return nil
	}
	return &StageResult{Ref: cp.OutputRef, Rows: cp.Rows, Digest: cp.OutputDigest, Skipped: true}
}
