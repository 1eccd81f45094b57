package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"go.uber.org/zap"
)

// keyPattern keeps resume keys safe as file names.
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// FileStore persists checkpoints as JSON files so suspension survives a
// process restart. Consumed checkpoints are archived, not deleted, which is
// how a reused key is told apart from one that never existed.
type FileStore struct {
	basePath string
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewFileStore creates a file-backed store rooted at basePath. The default
// root is ~/.config/execd/checkpoints.
func NewFileStore(basePath string, logger *zap.Logger) (*FileStore, error) {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		basePath = filepath.Join(home, ".config", "execd", "checkpoints")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	return &FileStore{basePath: basePath, logger: logger}, nil
}

// Save persists a new checkpoint atomically (write to temp, rename).
func (s *FileStore) Save(_ context.Context, cp *Checkpoint) error {
	if cp == nil || cp.Key == "" {
		return errors.New("checkpoint key is required")
	}
	if !keyPattern.MatchString(cp.Key) {
		return fmt.Errorf("invalid checkpoint key %q", cp.Key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("store is closed")
	}

	path := s.path(cp.Key)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("checkpoint %s already pending", cp.Key)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}

	s.logger.Info("saved checkpoint",
		zap.String("key", cp.Key),
		zap.String("path", path),
	)
	return nil
}

// Take reads, archives, and returns the checkpoint, enforcing single use.
func (s *FileStore) Take(_ context.Context, key string) (*Checkpoint, error) {
	if !keyPattern.MatchString(key) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("store is closed")
	}

	path := s.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if _, serr := os.Stat(s.archivePath(key)); serr == nil {
				return nil, fmt.Errorf("%w: %s", ErrConsumed, key)
			}
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("corrupted checkpoint %s: %w", key, err)
	}

	// Archiving marks consumption; the rename is atomic on the same fs.
	if err := os.Rename(path, s.archivePath(key)); err != nil {
		return nil, fmt.Errorf("failed to consume checkpoint: %w", err)
	}

	s.logger.Info("took checkpoint", zap.String("key", key))
	return &cp, nil
}

// Close closes the store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.basePath, key+".json")
}

func (s *FileStore) archivePath(key string) string {
	return filepath.Join(s.basePath, key+".json.consumed")
}

var _ Store = (*FileStore)(nil)
