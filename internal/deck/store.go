// Package deck stores uploaded slide decks on disk and extracts
// single-page documents for generation calls.
package deck

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store keeps uploaded decks under a single directory, one file per deck.
type Store struct {
	dir string
}

// NewStore creates the deck directory if needed.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("deck directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create deck dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save persists deck bytes and returns an opaque path handle.
func (s *Store) Save(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty deck payload")
	}
	path := filepath.Join(s.dir, uuid.NewString()+".pdf")
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write deck: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize deck: %w", err)
	}
	return path, nil
}

// Remove deletes a stored deck. Missing files are not an error.
func (s *Store) Remove(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove deck: %w", err)
	}
	return nil
}
