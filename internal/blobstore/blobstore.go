// Package blobstore provides the key/value byte storage that holds index
// artifacts and the book catalog. Keys are slash-separated paths such as
// "vector_stores/<id>/index.bin".
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("blobstore: not found")

// Backend names accepted by Open.
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Store is a flat namespace of byte blobs. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put writes data under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the data stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns every key starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// Config selects and configures a Store backend.
type Config struct {
	// Backend is one of BackendFS, BackendSQLite or BackendMemory.
	Backend string

	// Dir is the root directory of the fs backend.
	Dir string

	// SQLitePath is the database file of the sqlite backend.
	SQLitePath string
}

// Open constructs the Store named by cfg.Backend. An empty backend means fs.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendFS:
		return NewFSStore(cfg.Dir)
	case BackendSQLite:
		return OpenSQLite(cfg.SQLitePath)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("blobstore: unsupported backend %q (supported: fs, sqlite, memory)", cfg.Backend)
	}
}

// ValidateKey rejects keys that are empty, absolute, or escape the store
// namespace.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("blobstore: empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("blobstore: invalid key %q", key)
	}
	for seg := range strings.SplitSeq(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("blobstore: invalid key %q", key)
		}
	}
	return nil
}
