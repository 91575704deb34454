// Package blob stores opaque document payloads keyed by locator. The
// payloads handed to a Store are already envelope-encrypted; the store
// itself never sees plaintext.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is an opaque blob store keyed by locator string.
type Store interface {
	Put(ctx context.Context, locator string, data []byte) error
	Get(ctx context.Context, locator string) ([]byte, error)
	Delete(ctx context.Context, locator string) error
}

// FileStore keeps blobs on the local filesystem under a root directory.
// Locators are slash-separated relative paths.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(locator string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(locator))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid blob locator %q", locator)
	}
	return filepath.Join(s.root, cleaned), nil
}

func (s *FileStore) Put(ctx context.Context, locator string, data []byte) error {
	p, err := s.path(locator)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating blob dir: %w", err)
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return fmt.Errorf("writing blob: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, locator string) ([]byte, error) {
	p, err := s.path(locator)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading blob %q: %w", locator, err)
	}
	return data, nil
}

func (s *FileStore) Delete(ctx context.Context, locator string) error {
	p, err := s.path(locator)
	if err != nil {
		return err
	}
	return os.Remove(p)
}
