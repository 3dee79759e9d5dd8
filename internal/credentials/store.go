// Package credentials provides durable storage for the solver API key.
//
// The session manager only needs Get; Save and Delete exist for the callers
// that manage the key (CLI, settings surface).
package credentials

import (
	"os"
	"path/filepath"
	"strings"

	"platesolver/internal/apperrors"
)

// Store holds a single opaque secret outside process memory.
type Store interface {
	// Save persists the API key, replacing any previous value.
	Save(key string) error
	// Get returns the stored API key, or "" when none is stored.
	Get() (string, error)
	// Delete removes the stored API key. Deleting a missing key is not an error.
	Delete() error
}

// FileStore keeps the API key in a single file, compatible with Docker
// secrets and mounted secret volumes.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store at the given path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, apperrors.Config("credential store path is required")
	}
	return &FileStore{path: path}, nil
}

// Save writes the key with owner-only permissions.
func (s *FileStore) Save(key string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte(key), 0o600)
}

// Get reads and trims the stored key. A missing file means no key.
func (s *FileStore) Get() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Delete removes the key file.
func (s *FileStore) Delete() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

var _ Store = (*FileStore)(nil)
