// Package extract stages the raw dataset after validating its shape.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/opensource-finance/fraudflow/internal/dataset"
	"github.com/opensource-finance/fraudflow/internal/domain"
)

// Result describes a staged raw file.
type Result struct {
	Ref     string   `json:"ref"`
	Rows    int      `json:"rows"`
	Columns []string `json:"columns"`
	Digest  string   `json:"digest"`
	Bytes   int64    `json:"bytes"`
}

// Extractor copies a validated source into staging.
type Extractor struct {
	store domain.ArtifactStore
}

// NewExtractor creates an extractor over the given store.
func NewExtractor(store domain.ArtifactStore) *Extractor {
	return &Extractor{store: store}
}

// Extract validates source and publishes a byte-for-byte copy at dest.
// The source is read once; validation runs on the bytes as they are copied,
// and a validation failure aborts the publish so dest is never half written.
func (e *Extractor) Extract(ctx context.Context, source, dest string) (*Result, error) {
	start := time.Now()

	src, err := e.store.Open(ctx, source)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, source)
		}
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSourceNotFound, source, err)
	}
	defer src.Close()

	var rows int
	var columns []string
	art, err := e.store.Publish(ctx, dest, func(w io.Writer) error {
		r, err := dataset.NewReader(io.TeeReader(src, w))
		if err != nil {
			return err
		}
		if err := r.Header.Require(domain.RawColumns()); err != nil {
			return err
		}
		columns = r.Header.Columns
		for {
			if _, err := r.Next(); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return err
			}
			rows++
		}
		// Copy any trailing bytes the CSV reader did not pull.
		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		slog.Error("extract failed", "source", source, "error", err)
		return nil, err
	}

	slog.Info("extract complete",
		"source", source,
		"dest", dest,
		"rows", rows,
		"columns", len(columns),
		"bytes", art.Bytes,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Result{
		Ref:     art.Ref,
		Rows:    rows,
		Columns: columns,
		Digest:  art.Digest,
		Bytes:   art.Bytes,
	}, nil
}
