// Package local implements the artifact store on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where artifacts will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Mirror receives copies of artifacts, e.g. a cloud bucket.
type Mirror interface {
	PutObject(ctx context.Context, key, contentType string, r io.Reader) (string, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// BlobStore writes artifacts to the local filesystem.
type BlobStore struct {
	baseDir string
	mirror  Mirror
}

// Option customizes a BlobStore.
type Option func(*BlobStore)

// WithMirror copies synced artifacts and removals to m.
func WithMirror(m Mirror) Option {
	return func(s *BlobStore) {
		s.mirror = m
	}
}

// New creates a new local filesystem-backed blob store rooted at cfg.BaseDir.
func New(cfg Config, opts ...Option) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	info, err := os.Stat(base)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(base, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(base, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	s := &BlobStore{baseDir: base}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute base directory.
func (s *BlobStore) Root() string {
	return s.baseDir
}

// Dir returns the directory for key, creating it when missing.
func (s *BlobStore) Dir(key string) (string, error) {
	full, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(full, 0o750); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	return full, nil
}

// PutObject writes data to key and returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, key, _ string, data io.Reader) (string, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}
	if err := os.WriteFile(fullPath, byteData, 0o600); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return "file://" + fullPath, nil
}

// Remove deletes key recursively. Missing keys are ignored.
func (s *BlobStore) Remove(ctx context.Context, key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(fullPath); err != nil {
		return fmt.Errorf("remove artifact %s: %w", key, err)
	}
	if s.mirror != nil {
		if err := s.mirror.DeletePrefix(ctx, key); err != nil {
			return fmt.Errorf("remove mirrored artifact %s: %w", key, err)
		}
	}
	return nil
}

// Sync uploads every file below key to the mirror. It is a no-op without one.
func (s *BlobStore) Sync(ctx context.Context, key string) error {
	if s.mirror == nil {
		return nil
	}
	root, err := s.resolve(key)
	if err != nil {
		return err
	}
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", p, err)
		}
		f, err := os.Open(p) // #nosec G304 -- p is below the store root.
		if err != nil {
			return fmt.Errorf("open %s: %w", p, err)
		}
		defer f.Close() //nolint:errcheck // read-only
		objectKey := filepath.ToSlash(rel)
		if _, err := s.mirror.PutObject(ctx, objectKey, mime.TypeByExtension(path.Ext(objectKey)), f); err != nil {
			return fmt.Errorf("mirror %s: %w", objectKey, err)
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("sync artifacts %s: %w", key, walkErr)
	}
	return nil
}

// resolve maps key below baseDir, rejecting traversal.
func (s *BlobStore) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath := filepath.Clean(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if !strings.HasPrefix(fullPath, filepath.Clean(s.baseDir)+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}
