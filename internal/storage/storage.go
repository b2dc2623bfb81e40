package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileSessionStore provides a file-based storage for per-user session blobs,
// one JSON file per user.
type FileSessionStore struct {
	basePath string
	ttl      time.Duration
}

// NewFileSessionStore creates a new FileSessionStore and ensures the base directory exists.
func NewFileSessionStore(basePath string, ttl time.Duration) (*FileSessionStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", basePath, err)
	}
	return &FileSessionStore{basePath: basePath, ttl: ttl}, nil
}

func (s *FileSessionStore) path(userID int64) string {
	return filepath.Join(s.basePath, fmt.Sprintf("session_%d.json", userID))
}

// Get returns the user's blob, or nil when no live session file exists.
// Files untouched for longer than the TTL read as absent.
func (s *FileSessionStore) Get(ctx context.Context, userID int64) ([]byte, error) {
	p := s.path(userID)
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat session file: %w", err)
	}
	if s.expired(info.ModTime()) {
		return nil, nil
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return data, nil
}

// Put writes the blob through a temp file and rename, so readers never see
// a partial session.
func (s *FileSessionStore) Put(ctx context.Context, userID int64, blob []byte) error {
	tmp, err := os.CreateTemp(s.basePath, fmt.Sprintf("session_%d_*.tmp", userID))
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(userID)); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// CleanupExpired removes session files older than the TTL.
func (s *FileSessionStore) CleanupExpired(ctx context.Context) (int64, error) {
	matches, err := filepath.Glob(filepath.Join(s.basePath, "session_*.json"))
	if err != nil {
		return 0, fmt.Errorf("failed to glob session files: %w", err)
	}

	var removed int64
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !s.expired(info.ModTime()) {
			continue
		}
		if err := os.Remove(match); err != nil {
			return removed, fmt.Errorf("failed to remove stale file %s: %w", match, err)
		}
		removed++
	}
	return removed, nil
}

func (s *FileSessionStore) expired(modTime time.Time) bool {
	return s.ttl > 0 && time.Since(modTime) > s.ttl
}
