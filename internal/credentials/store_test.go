package credentials

import (
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "apikey"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	// Empty store reads as no key, not an error.
	key, err := store.Get()
	if err != nil {
		t.Fatalf("Get on empty store: %v", err)
	}
	if key != "" {
		t.Errorf("expected empty key, got %q", key)
	}

	if err := store.Save("abc123xyz\n"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	key, err = store.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if key != "abc123xyz" {
		t.Errorf("expected trimmed key, got %q", key)
	}

	if err := store.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Deleting again is fine.
	if err := store.Delete(); err != nil {
		t.Fatalf("Delete on missing key: %v", err)
	}
	key, _ = store.Get()
	if key != "" {
		t.Errorf("expected key removed, got %q", key)
	}
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := NewFileStore(""); err == nil {
		t.Error("expected error for empty path")
	}
}
