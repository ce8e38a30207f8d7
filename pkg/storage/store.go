// Package storage persists uploaded consultation audio and hands the
// pipeline an opaque reference to it. The reference is either a local file
// path or a remote URL; the pipeline passes it to the transcription
// provider without interpreting it.
package storage

import (
	"context"
	"io"
)

// AudioStore stores uploaded audio and resolves references for processing.
type AudioStore interface {
	// Save durably writes the upload and returns an opaque reference.
	Save(ctx context.Context, originalFilename string, r io.Reader) (string, error)

	// Resolve turns a stored reference into something the transcription
	// provider can consume: a readable local path or a fetchable URL.
	Resolve(ctx context.Context, ref string) (string, error)
}
