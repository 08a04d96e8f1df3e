package store

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
)

// fileEntry is the on-disk document, one per key.
type fileEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// FileStore persists each key as a JSON file named after the key's SHA-256.
type FileStore struct {
	dir         string
	retryConfig retry.Config
}

// NewFileStore creates the directory if needed. An empty dir resolves to the
// user cache directory.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	// G301: Use 0700 for directories
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{
		dir: dir,
		retryConfig: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  10 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
	}, nil
}

// DefaultDir returns $XDG_CACHE_HOME/portfolio-stats or its platform equivalent.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine cache directory: %w", err)
	}
	return filepath.Join(base, "portfolio-stats"), nil
}

// Dir returns the directory holding the entries.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := s.read(ctx, s.entryPath(key))
	if err != nil {
		return nil, false, err
	}
	if entry == nil || entry.Key != key {
		return nil, false, nil
	}
	return []byte(entry.Value), true, nil
}

func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	data, err := json.Marshal(fileEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal entry %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write entry %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close entry %s: %w", key, err)
	}
	// G306: CreateTemp already uses 0600
	return os.Rename(tmp.Name(), s.entryPath(key))
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.entryPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete entry %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}
	var keys []string
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		entry, err := s.read(ctx, filepath.Join(s.dir, f.Name()))
		if err != nil || entry == nil {
			continue
		}
		if strings.HasPrefix(entry.Key, prefix) {
			keys = append(keys, entry.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// read returns nil without error when the file does not exist.
func (s *FileStore) read(ctx context.Context, path string) (*fileEntry, error) {
	retryer := retry.New[*fileEntry](s.retryConfig)
	return retryer.Do(ctx, func(ctx context.Context) (*fileEntry, error) {
		// #nosec G304 -- path is derived from a hash inside s.dir
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to read entry file: %w", err)
		}
		var entry fileEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry file %s: %w", filepath.Base(path), err)
		}
		return &entry, nil
	})
}

func (s *FileStore) entryPath(key string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%x.json", sha256.Sum256([]byte(key))))
}
