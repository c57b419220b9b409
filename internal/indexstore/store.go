// Package indexstore persists per-book vector indexes and the book catalog in
// a blobstore.Store. Each index is stored as two blobs under the book's
// namespace; the catalog is a single JSON document.
package indexstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/bookqa-go/internal/blobstore"
	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/logging"
	"github.com/54b3r/bookqa-go/internal/rag"
	"github.com/54b3r/bookqa-go/internal/vectorindex"
)

const (
	// IndexPrefix is the namespace holding every book's index blobs.
	IndexPrefix = "vector_stores/"

	// CatalogKey is the blob holding the catalog.
	CatalogKey = "metadata/books_info.json"

	// DefaultTimeout bounds each blob operation.
	DefaultTimeout = 60 * time.Second

	// DefaultCacheSize is the number of deserialised indexes kept in memory.
	DefaultCacheSize = 16

	// DefaultCacheTTL is how long a cached index is trusted.
	DefaultCacheTTL = 10 * time.Minute
)

// BookPrefix returns the namespace of bookID's blobs.
func BookPrefix(bookID string) string { return IndexPrefix + bookID + "/" }

// VectorsKey returns the key of bookID's vector matrix.
func VectorsKey(bookID string) string { return BookPrefix(bookID) + vectorindex.VectorsFile }

// PayloadKey returns the key of bookID's chunk payload.
func PayloadKey(bookID string) string { return BookPrefix(bookID) + vectorindex.PayloadFile }

// Options tunes a Store.
type Options struct {
	// Timeout bounds every blob operation. Zero means DefaultTimeout.
	Timeout time.Duration

	// CacheSize is the number of indexes cached in memory. Zero or negative
	// disables the cache.
	CacheSize int

	// CacheTTL is the maximum age of a cached index. Zero keeps entries until
	// they are evicted or invalidated.
	CacheTTL time.Duration
}

// Store reads and writes indexes and the catalog. It implements
// rag.IndexSource.
type Store struct {
	// blobs is the underlying blob storage.
	blobs blobstore.Store

	// timeout bounds each blob operation.
	timeout time.Duration

	// cache holds recently loaded indexes; nil when disabled.
	cache *indexCache
}

// New returns a Store over blobs.
func New(blobs blobstore.Store, opts Options) *Store {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Store{
		blobs:   blobs,
		timeout: opts.Timeout,
		cache:   newIndexCache(opts.CacheSize, opts.CacheTTL),
	}
}

// Blobs returns the underlying blob store.
func (s *Store) Blobs() blobstore.Store { return s.blobs }

func (s *Store) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Put serialises idx and stores both artifacts. If the second upload fails
// the returned error is a *bookerr.PartialPersistError naming what was
// written; callers must not register the book in that case.
func (s *Store) Put(ctx context.Context, bookID string, idx *vectorindex.Index) error {
	art, err := idx.Marshal()
	if err != nil {
		return fmt.Errorf("indexstore: marshal %s: %w", bookID, err)
	}

	// Invalidate on both sides of the writes: loads that overlap them must
	// not repopulate the cache with the previous index.
	s.cache.invalidate(bookID)
	defer s.cache.invalidate(bookID)

	uploads := []struct {
		key  string
		data []byte
	}{
		{VectorsKey(bookID), art.Vectors},
		{PayloadKey(bookID), art.Payload},
	}

	var written []string
	for _, u := range uploads {
		if err := s.put(ctx, u.key, u.data); err != nil {
			return &bookerr.PartialPersistError{
				BookID:  bookID,
				Written: written,
				Failed:  u.key,
				Err:     fmt.Errorf("%w: %w", bookerr.ErrStorage, err),
			}
		}
		written = append(written, u.key)
	}

	logging.FromContext(ctx).Debug("indexstore: index stored",
		slog.String("book_id", bookID),
		slog.Int("chunks", idx.Len()),
		slog.Int("vector_bytes", len(art.Vectors)),
	)
	return nil
}

func (s *Store) put(ctx context.Context, key string, data []byte) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.blobs.Put(ctx, key, data)
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.blobs.Get(ctx, key)
}

// Get loads bookID's index, from the cache when possible.
func (s *Store) Get(ctx context.Context, bookID string) (*vectorindex.Index, error) {
	if idx, ok := s.cache.get(bookID); ok {
		return idx, nil
	}
	gen := s.cache.generation(bookID)

	var art vectorindex.Artifacts
	var err error
	if art.Vectors, err = s.get(ctx, VectorsKey(bookID)); err != nil {
		return nil, fmt.Errorf("indexstore: load %s: %w: %w", VectorsKey(bookID), bookerr.ErrStorage, err)
	}
	if art.Payload, err = s.get(ctx, PayloadKey(bookID)); err != nil {
		return nil, fmt.Errorf("indexstore: load %s: %w: %w", PayloadKey(bookID), bookerr.ErrStorage, err)
	}

	idx, err := vectorindex.Unmarshal(art)
	if err != nil {
		return nil, fmt.Errorf("indexstore: book %s: %w", bookID, err)
	}

	s.cache.add(bookID, idx, gen)
	return idx, nil
}

// Open implements rag.IndexSource.
func (s *Store) Open(ctx context.Context, bookID string) (rag.Searcher, error) {
	idx, err := s.Get(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// Exists reports whether both of bookID's artifacts are stored.
func (s *Store) Exists(ctx context.Context, bookID string) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	for _, key := range []string{VectorsKey(bookID), PayloadKey(bookID)} {
		ok, err := s.blobs.Exists(ctx, key)
		if err != nil {
			return false, fmt.Errorf("indexstore: exists %s: %w: %w", key, bookerr.ErrStorage, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Delete removes every blob under bookID's namespace. Each listed key is
// attempted; failures are collected into a *bookerr.DeleteError.
func (s *Store) Delete(ctx context.Context, bookID string) error {
	s.cache.invalidate(bookID)
	defer s.cache.invalidate(bookID)

	listCtx, cancel := s.bounded(ctx)
	keys, err := s.blobs.List(listCtx, BookPrefix(bookID))
	cancel()
	if err != nil {
		return &bookerr.DeleteError{
			BookID: bookID,
			Failed: []string{BookPrefix(bookID)},
			Err:    fmt.Errorf("%w: %w", bookerr.ErrStorage, err),
		}
	}

	var (
		failed []string
		errs   []error
	)
	for _, key := range keys {
		delCtx, cancel := s.bounded(ctx)
		err := s.blobs.Delete(delCtx, key)
		cancel()
		if err != nil {
			failed = append(failed, key)
			errs = append(errs, err)
		}
	}
	if len(failed) > 0 {
		return &bookerr.DeleteError{
			BookID: bookID,
			Failed: failed,
			Err:    fmt.Errorf("%w: %w", bookerr.ErrStorage, errors.Join(errs...)),
		}
	}
	return nil
}

// LoadCatalog returns the stored catalog. A missing or undecodable catalog
// yields an empty catalog, with a warning in the latter case. Only storage
// failures are returned as errors.
func (s *Store) LoadCatalog(ctx context.Context) (*Catalog, error) {
	log := logging.FromContext(ctx)

	data, err := s.get(ctx, CatalogKey)
	if errors.Is(err, blobstore.ErrNotFound) {
		return NewCatalog(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("indexstore: load catalog: %w: %w", bookerr.ErrStorage, err)
	}

	c, err := decodeCatalog(data)
	if err != nil {
		log.Warn("indexstore: catalog is unreadable, treating as empty", slog.Any("error", err))
		c = NewCatalog()
		c.Warnings = append(c.Warnings, "catalog is unreadable: "+err.Error())
		return c, nil
	}
	for _, w := range c.Warnings {
		log.Warn("indexstore: catalog entry skipped", slog.String("reason", w))
	}
	return c, nil
}

// SaveCatalog replaces the stored catalog.
func (s *Store) SaveCatalog(ctx context.Context, c *Catalog) error {
	data, err := encodeCatalog(c)
	if err != nil {
		return fmt.Errorf("indexstore: encode catalog: %w", err)
	}
	if err := s.put(ctx, CatalogKey, data); err != nil {
		return fmt.Errorf("indexstore: save catalog: %w: %w", bookerr.ErrStorage, err)
	}
	return nil
}

// Orphans returns the sorted ids that own index blobs but have no entry in c.
func (s *Store) Orphans(ctx context.Context, c *Catalog) ([]string, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	keys, err := s.blobs.List(ctx, IndexPrefix)
	if err != nil {
		return nil, fmt.Errorf("indexstore: list indexes: %w: %w", bookerr.ErrStorage, err)
	}

	var orphans []string
	seen := make(map[string]bool)
	for _, key := range keys {
		id, _, ok := strings.Cut(strings.TrimPrefix(key, IndexPrefix), "/")
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		if _, known := c.Entries[id]; !known {
			orphans = append(orphans, id)
		}
	}
	return orphans, nil
}
