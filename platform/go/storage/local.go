package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// LocalStore keeps objects on the local filesystem under root/<bucket>/<path>.
// Upload URLs are file:// URLs and only make sense for development setups.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	return &LocalStore{root: abs}, nil
}

func (s *LocalStore) path(loc ObjectLocation) string {
	return filepath.Join(s.root, loc.Bucket, filepath.FromSlash(loc.FullPath))
}

func (s *LocalStore) Get(_ context.Context, loc ObjectLocation) ([]byte, error) {
	f, err := os.Open(s.path(loc))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", loc.FullPath, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", loc.FullPath, err)
	}
	if len(data) > MaxObjectSize {
		return nil, fmt.Errorf("object %s exceeds %d bytes", loc.FullPath, MaxObjectSize)
	}
	return data, nil
}

func (s *LocalStore) Put(_ context.Context, loc ObjectLocation, data []byte, _ string) error {
	target := s.path(loc)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write object %s: %w", loc.FullPath, err)
	}
	return nil
}

func (s *LocalStore) PresignPut(_ context.Context, loc ObjectLocation, _ string, _ time.Duration) (string, error) {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(s.path(loc))}
	return u.String(), nil
}

var _ ObjectStore = (*LocalStore)(nil)
