package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FSStore keeps files below a base directory on the local filesystem.
type FSStore struct {
	base string
}

// NewFSStore creates the base directory if needed.
func NewFSStore(base string) (*FSStore, error) {
	if base == "" {
		base = "./data"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FSStore{base: base}, nil
}

func (s *FSStore) path(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("empty storage key")
	}
	cleaned := filepath.Clean("/" + key)
	return filepath.Join(s.base, cleaned), nil
}

func (s *FSStore) Store(ctx context.Context, key string, reader io.Reader) (string, error) {
	dst, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, reader); err != nil {
		return "", err
	}
	return key, nil
}

func (s *FSStore) Retrieve(ctx context.Context, key string) (io.ReadCloser, error) {
	src, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
