// Package registry manages the catalog of ingested books: their ids, titles
// and authors, and the lifecycle of the index blobs that belong to them.
package registry

import (
	"context"
	"crypto/md5" //nolint:gosec // ids must stay compatible with existing catalogs
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/indexstore"
	"github.com/54b3r/bookqa-go/internal/logging"
	"github.com/54b3r/bookqa-go/internal/rag"
)

// Book is a catalog entry with its id.
type Book struct {
	// ID is the deterministic book id derived from Title and Author.
	ID string `json:"id"`

	// Title is the book title.
	Title string `json:"title"`

	// Author is the book author.
	Author string `json:"author"`
}

// Storage is the subset of indexstore.Store the registry needs.
type Storage interface {
	// LoadCatalog returns the current catalog.
	LoadCatalog(ctx context.Context) (*indexstore.Catalog, error)
	// SaveCatalog replaces the stored catalog.
	SaveCatalog(ctx context.Context, c *indexstore.Catalog) error
	// Delete removes every index blob of bookID.
	Delete(ctx context.Context, bookID string) error
	// Orphans lists ids with index blobs but no catalog entry.
	Orphans(ctx context.Context, c *indexstore.Catalog) ([]string, error)
}

// Registry reads and mutates the catalog. Catalog read-modify-write cycles
// are serialised within the process.
type Registry struct {
	// storage holds the catalog and index blobs.
	storage Storage

	// mirror is the optional external copy of each index; nil when unused.
	mirror rag.Mirror

	// mu serialises catalog updates.
	mu sync.Mutex
}

// New returns a Registry. mirror may be nil.
func New(storage Storage, mirror rag.Mirror) *Registry {
	return &Registry{storage: storage, mirror: mirror}
}

// ID returns the book id for a title and author: the hex MD5 of the trimmed
// title immediately followed by the trimmed author. Different pairs whose
// concatenations are equal share an id.
func ID(title, author string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(title) + strings.TrimSpace(author))) //nolint:gosec // not used for security
	return hex.EncodeToString(sum[:])
}

// Link returns the access link for id under baseURL. A trailing slash on
// baseURL is ignored; an empty baseURL yields a relative link.
func Link(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + "/?book_id=" + id
}

// Register validates title and author and returns the book id. It performs
// no I/O; the catalog entry is written by Add once the index is stored.
func (r *Registry) Register(title, author string) (string, error) {
	if strings.TrimSpace(title) == "" {
		return "", fmt.Errorf("registry: %w: title is empty", bookerr.ErrInvalidBook)
	}
	if strings.TrimSpace(author) == "" {
		return "", fmt.Errorf("registry: %w: author is empty", bookerr.ErrInvalidBook)
	}
	return ID(title, author), nil
}

// List returns every catalogued book sorted by title then id, along with any
// warnings produced while reading the catalog.
func (r *Registry) List(ctx context.Context) ([]Book, []string, error) {
	c, err := r.storage.LoadCatalog(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: %w", err)
	}

	books := make([]Book, 0, len(c.Entries))
	for id, e := range c.Entries {
		books = append(books, Book{ID: id, Title: e.Title, Author: e.Author})
	}
	sort.Slice(books, func(i, j int) bool {
		if books[i].Title != books[j].Title {
			return books[i].Title < books[j].Title
		}
		return books[i].ID < books[j].ID
	})
	return books, c.Warnings, nil
}

// Get returns the book with id, or bookerr.ErrBookNotFound.
func (r *Registry) Get(ctx context.Context, id string) (Book, error) {
	c, err := r.storage.LoadCatalog(ctx)
	if err != nil {
		return Book{}, fmt.Errorf("registry: %w", err)
	}
	e, ok := c.Entries[id]
	if !ok {
		return Book{}, fmt.Errorf("registry: %w: %s", bookerr.ErrBookNotFound, id)
	}
	return Book{ID: id, Title: e.Title, Author: e.Author}, nil
}

// Add writes b into the catalog, replacing any entry with the same id.
func (r *Registry) Add(ctx context.Context, b Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.storage.LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	c.Entries[b.ID] = indexstore.Entry{Title: b.Title, Author: b.Author}
	if err := r.storage.SaveCatalog(ctx, c); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	return nil
}

// Remove deletes the book with id. It returns (false, nil) when the book is
// not catalogued. The catalog entry is removed first so the book disappears
// from listings even if blob cleanup then fails; in that case the result is
// (false, *bookerr.DeleteError) and the leftover blobs can be reclaimed with
// Sweep.
func (r *Registry) Remove(ctx context.Context, id string) (bool, error) {
	removed, err := r.dropEntry(ctx, id)
	if err != nil || !removed {
		return false, err
	}

	if err := r.deleteBlobs(ctx, id); err != nil {
		logging.FromContext(ctx).Error("registry: book removed from catalog but blobs remain",
			slog.String("book_id", id),
			slog.Any("error", err),
		)
		return false, err
	}
	return true, nil
}

// dropEntry removes id from the catalog and saves it.
func (r *Registry) dropEntry(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.storage.LoadCatalog(ctx)
	if err != nil {
		return false, fmt.Errorf("registry: %w", err)
	}
	if _, ok := c.Entries[id]; !ok {
		return false, nil
	}
	delete(c.Entries, id)
	if err := r.storage.SaveCatalog(ctx, c); err != nil {
		return false, fmt.Errorf("registry: %w", err)
	}
	return true, nil
}

// deleteBlobs removes id's index blobs and mirror points.
func (r *Registry) deleteBlobs(ctx context.Context, id string) error {
	err := r.storage.Delete(ctx, id)
	if r.mirror == nil {
		return err
	}

	if mErr := r.mirror.DeleteBook(ctx, id); mErr != nil {
		var de *bookerr.DeleteError
		if errors.As(err, &de) {
			de.Failed = append(de.Failed, "mirror")
			de.Err = errors.Join(de.Err, mErr)
			return de
		}
		return &bookerr.DeleteError{
			BookID: id,
			Failed: []string{"mirror"},
			Err:    errors.Join(err, mErr),
		}
	}
	return err
}

// Sweep deletes the blobs of every id that has index blobs but no catalog
// entry, returning the ids it cleaned. Errors for individual ids are joined;
// the remaining ids are still attempted.
func (r *Registry) Sweep(ctx context.Context) ([]string, error) {
	log := logging.FromContext(ctx)

	r.mu.Lock()
	c, err := r.storage.LoadCatalog(ctx)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry: %w", err)
	}
	orphans, err := r.storage.Orphans(ctx, c)
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	var (
		swept []string
		errs  []error
	)
	for _, id := range orphans {
		if err := r.deleteBlobs(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Info("registry: orphaned index removed", slog.String("book_id", id))
		swept = append(swept, id)
	}
	return swept, errors.Join(errs...)
}
