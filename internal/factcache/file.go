package factcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/policity/policity/internal/logger"
)

// lockRetryInterval is how often a blocked file-lock acquisition polls.
const lockRetryInterval = 10 * time.Millisecond

type fileCache struct {
	dir string
	ttl time.Duration
}

// fileEntry is the on-disk format: the value plus its expiry.
type fileEntry struct {
	Value    []byte    `json:"value"`
	ExpireAt time.Time `json:"expireAt"`
}

// NewFile creates a cache that stores one JSON file per key under dir.
// Entries are guarded by file locks so multiple processes can share the
// directory.
func NewFile(dir string, ttl time.Duration) (Cache, error) {
	if dir == "" {
		return nil, errors.New("fact cache: file backend requires a directory")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create fact cache dir: %w", err)
	}
	return &fileCache{dir: dir, ttl: ttl}, nil
}

func (c *fileCache) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) ([]byte, error) {
	path := c.path(key)

	fl := flock.New(path + ".lock")
	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("fact cache lock %q: %w", key, err)
	}
	if !locked {
		return nil, fmt.Errorf("fact cache lock %q: not acquired", key)
	}
	defer func() {
		_ = fl.Unlock()
	}()

	if value, ok := c.read(ctx, path); ok {
		return value, nil
	}

	value, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.write(path, value); err != nil {
		logger.Warn(ctx, "Fact cache write failed", "key", key, "err", err)
	}
	return value, nil
}

func (c *fileCache) Invalidate(ctx context.Context, key string) error {
	path := c.path(key)

	fl := flock.New(path + ".lock")
	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return fmt.Errorf("fact cache lock %q: %w", key, err)
	}
	if !locked {
		return fmt.Errorf("fact cache lock %q: not acquired", key)
	}
	defer func() {
		_ = fl.Unlock()
	}()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fact cache invalidate %q: %w", key, err)
	}
	return nil
}

func (c *fileCache) Close() error { return nil }

// read loads a cached entry. Expired or unreadable entries count as
// misses; expired files are removed on the way.
func (c *fileCache) read(ctx context.Context, path string) ([]byte, bool) {
	// nolint:gosec
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var entry fileEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		logger.Warn(ctx, "Fact cache entry unreadable; refetching", "path", path, "err", err)
		return nil, false
	}
	if time.Now().After(entry.ExpireAt) {
		_ = os.Remove(path)
		return nil, false
	}
	return entry.Value, true
}

func (c *fileCache) write(path string, value []byte) error {
	entry := fileEntry{
		Value:    value,
		ExpireAt: time.Now().Add(c.ttl),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0600)
}

func (c *fileCache) path(key string) string {
	return filepath.Join(c.dir, sanitizeKey(key)+".json")
}

// sanitizeKey maps a free-form fact query to a safe file name. Keys
// that collide after sanitization share an entry.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, key)
}
