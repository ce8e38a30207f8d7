package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStore writes uploads to a directory on local disk. References are
// absolute file paths; remote https:// references (e.g. pre-signed URLs
// recorded by another deployment) pass through Resolve untouched.
type LocalStore struct {
	dir string
}

// NewLocalStore creates a LocalStore rooted at dir, creating it if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve audio dir: %w", err)
	}
	return &LocalStore{dir: abs}, nil
}

var _ AudioStore = (*LocalStore)(nil)

// Save writes the upload under a fresh UUID name, keeping the original
// extension so downstream tooling can sniff the container format.
func (s *LocalStore) Save(ctx context.Context, originalFilename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	name := uuid.New().String() + ext
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write audio file: %w", err)
	}

	// Sync before returning: the reference is handed to an async job and
	// must survive a crash between upload and processing.
	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("sync audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close audio file: %w", err)
	}

	return path, nil
}

// Resolve returns the reference unchanged: local paths are already
// readable, and remote URLs are the transcription provider's problem.
func (s *LocalStore) Resolve(ctx context.Context, ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	if _, err := os.Stat(ref); err != nil {
		return "", fmt.Errorf("audio file not accessible: %w", err)
	}
	return ref, nil
}
