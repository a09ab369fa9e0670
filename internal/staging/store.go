// Package staging stores the files handed from stage to stage.
package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/opensource-finance/fraudflow/internal/domain"
)

// FileStore is an ArtifactStore over the local filesystem. Refs are paths.
type FileStore struct {
	dirPerm  os.FileMode
	filePerm os.FileMode
}

// NewFileStore creates a file store.
func NewFileStore() *FileStore {
	return &FileStore{dirPerm: 0o755, filePerm: 0o644}
}

// Open opens ref for reading.
func (s *FileStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(ref)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrArtifactNotFound, ref)
		}
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}
	return f, nil
}

// Publish writes to a temp file in the destination directory, syncs it and
// renames it over ref. Readers see either the previous file or the new one.
func (s *FileStore) Publish(ctx context.Context, ref string, write func(w io.Writer) error) (*domain.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Dir(ref)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, fmt.Errorf("create staging dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(ref)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp for %s: %w", ref, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				slog.Warn("failed to remove temp file", "path", tmpName, "error", rmErr)
			}
		}
	}()

	h := sha256.New()
	cw := &countingWriter{w: io.MultiWriter(tmp, h)}
	if err := write(cw); err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(s.filePerm); err != nil {
		return nil, fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, ref); err != nil {
		return nil, fmt.Errorf("publish %s: %w", ref, err)
	}
	committed = true

	art := &domain.Artifact{
		Ref:    ref,
		Digest: hex.EncodeToString(h.Sum(nil)),
		Bytes:  cw.n,
	}
	slog.Debug("artifact published", "ref", ref, "bytes", art.Bytes, "digest", art.Digest)
	return art, nil
}

// Stat hashes an existing artifact.
func (s *FileStore) Stat(ctx context.Context, ref string) (*domain.Artifact, error) {
	rc, err := s.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	h := sha256.New()
	n, err := io.Copy(h, rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	return &domain.Artifact{Ref: ref, Digest: hex.EncodeToString(h.Sum(nil)), Bytes: n}, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Staged file names within a staging directory.
const (
	ExtractedFile   = "extracted.csv"
	TransformedFile = "transformed.csv"
	PredictedFile   = "predicted.csv"
)

// RunPaths lays out the staged files for a run. With namespace set, files
// live under stagingDir/runID so concurrent runs do not share paths.
func RunPaths(source, stagingDir, runID string, namespace bool) domain.Paths {
	dir := stagingDir
	if namespace && runID != "" {
		dir = filepath.Join(stagingDir, runID)
	}
	return domain.Paths{
		Source:  source,
		Staged:  filepath.Join(dir, ExtractedFile),
		Cleaned: filepath.Join(dir, TransformedFile),
		Scored:  filepath.Join(dir, PredictedFile),
	}
}
