// Package load upserts a scored dataset into the transactions table.
package load

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/opensource-finance/fraudflow/internal/dataset"
	"github.com/opensource-finance/fraudflow/internal/domain"
	"github.com/opensource-finance/fraudflow/internal/repository"
)

// Result summarises one load.
type Result struct {
	Input    string        `json:"input"`
	Rows     int           `json:"rows"`
	Loaded   int           `json:"loaded"`
	Total    int           `json:"total"`
	Duration time.Duration `json:"duration"`
}

// Loader owns no connection between calls; each Load opens and closes its own.
type Loader struct {
	store domain.ArtifactStore
	cfg   domain.RepositoryConfig
	opts  []repository.Option
}

// NewLoader creates a loader for the configured database.
func NewLoader(store domain.ArtifactStore, cfg domain.RepositoryConfig) *Loader {
	return &Loader{store: store, cfg: cfg}
}

// Load reads the scored file at input and upserts every row in one
// database transaction.
func (l *Loader) Load(ctx context.Context, input string) (*Result, error) {
	start := time.Now()

	rows, err := l.read(ctx, input)
	if err != nil {
		return nil, err
	}

	repo, err := repository.Open(ctx, l.cfg, l.opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLoad, err)
	}
	defer func() {
		if cerr := repo.Close(); cerr != nil {
			slog.Warn("failed to close repository", "error", cerr)
		}
	}()

	n, err := repo.UpsertScored(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLoad, err)
	}

	total, err := repo.CountScored(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: count rows: %v", domain.ErrLoad, err)
	}

	res := &Result{
		Input:    input,
		Rows:     len(rows),
		Loaded:   n,
		Total:    total,
		Duration: time.Since(start),
	}
	slog.Info("load complete",
		"input", input,
		"driver", l.cfg.Driver,
		"rows", n,
		"table_rows", total,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (l *Loader) read(ctx context.Context, input string) ([]domain.ScoredTransaction, error) {
	rc, err := l.store.Open(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: scored input %s: %v", domain.ErrLoad, input, err)
	}
	defer rc.Close()

	r, err := dataset.NewReader(rc)
	if err != nil {
		return nil, err
	}
	layout, err := dataset.NewScoredLayout(r.Header)
	if err != nil {
		return nil, err
	}

	var rows []domain.ScoredTransaction
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		st, err := layout.Parse(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d %v", domain.ErrLoad, r.Line(), err)
		}
		rows = append(rows, st)
	}
	return rows, nil
}
