package domain

import (
	"context"
	"io"
)

// ArtifactStore holds the staged files handed between stages. Refs are
// opaque to the stages; the file store treats them as paths.
type ArtifactStore interface {
	// Open returns ErrArtifactNotFound when ref does not exist.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)

	// Publish makes the written content visible under ref only after write
	// returns nil. A failed publish leaves any previous content untouched.
	Publish(ctx context.Context, ref string, write func(w io.Writer) error) (*Artifact, error)

	// Stat returns the digest of an existing artifact.
	Stat(ctx context.Context, ref string) (*Artifact, error)
}

// Artifact describes a published staged file.
type Artifact struct {
	Ref    string `json:"ref"`
	Digest string `json:"digest"` // hex SHA-256
	Bytes  int64  `json:"bytes"`
}
