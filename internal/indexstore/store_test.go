package indexstore

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/54b3r/bookqa-go/internal/blobstore"
	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/rag"
	"github.com/54b3r/bookqa-go/internal/vectorindex"
)

// flakyBlobs wraps a MemoryStore, failing chosen keys and counting reads.
type flakyBlobs struct {
	*blobstore.MemoryStore

	// mu guards the fields below.
	mu sync.Mutex
	// failPut and failDelete hold keys whose operation fails.
	failPut, failDelete map[string]bool
	// gets counts Get calls.
	gets int
}

func newFlakyBlobs() *flakyBlobs {
	return &flakyBlobs{
		MemoryStore: blobstore.NewMemoryStore(),
		failPut:     map[string]bool{},
		failDelete:  map[string]bool{},
	}
}

var errInjected = errors.New("injected failure")

func (f *flakyBlobs) Put(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	fail := f.failPut[key]
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.MemoryStore.Put(ctx, key, data)
}

func (f *flakyBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	f.gets++
	f.mu.Unlock()
	return f.MemoryStore.Get(ctx, key)
}

func (f *flakyBlobs) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	fail := f.failDelete[key]
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.MemoryStore.Delete(ctx, key)
}

func testIndex(t *testing.T) *vectorindex.Index {
	t.Helper()
	idx, err := vectorindex.Build(
		[]rag.Chunk{{Text: "alpha chunk", Index: 0}, {Text: "beta chunk", Index: 1, Offset: 12}},
		[][]float32{{1, 0}, {0, 1}},
	)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return idx
}

func TestPutGet_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(blobstore.NewMemoryStore(), Options{})

	if err := s.Put(ctx, "b1", testIndex(t)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err := s.Exists(ctx, "b1")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	searcher, err := s.Open(ctx, "b1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	hits, err := searcher.Search(ctx, []float32{0, 1}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.Text != "beta chunk" {
		t.Errorf("unexpected hits %+v", hits)
	}
}

func TestPut_PartialPersist(t *testing.T) {
	t.Parallel()
	blobs := newFlakyBlobs()
	blobs.failPut[PayloadKey("b1")] = true
	s := New(blobs, Options{})

	err := s.Put(context.Background(), "b1", testIndex(t))
	if !errors.Is(err, bookerr.ErrPartialPersist) || !errors.Is(err, bookerr.ErrStorage) {
		t.Fatalf("expected partial persist storage error, got %v", err)
	}
	var ppe *bookerr.PartialPersistError
	if !errors.As(err, &ppe) {
		t.Fatalf("expected *PartialPersistError, got %T", err)
	}
	if ppe.Failed != PayloadKey("b1") || !slices.Equal(ppe.Written, []string{VectorsKey("b1")}) {
		t.Errorf("written %v failed %s", ppe.Written, ppe.Failed)
	}
}

func TestGet_Missing(t *testing.T) {
	t.Parallel()
	s := New(blobstore.NewMemoryStore(), Options{})

	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, bookerr.ErrStorage) || !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("expected storage not-found error, got %v", err)
	}
}

func TestGet_Corrupt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	s := New(blobs, Options{})

	if err := s.Put(ctx, "b1", testIndex(t)); err != nil {
		t.Fatal(err)
	}
	if err := blobs.Put(ctx, PayloadKey("b1"), []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "b1"); !errors.Is(err, bookerr.ErrCorruptIndex) {
		t.Fatalf("expected ErrCorruptIndex, got %v", err)
	}
}

func TestCache_HitsAndInvalidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	blobs := newFlakyBlobs()
	s := New(blobs, Options{CacheSize: 4, CacheTTL: time.Minute})

	if err := s.Put(ctx, "b1", testIndex(t)); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if _, err := s.Get(ctx, "b1"); err != nil {
			t.Fatal(err)
		}
	}
	if blobs.gets != 2 {
		t.Errorf("blob reads = %d, want 2 (one load)", blobs.gets)
	}

	// Re-ingest invalidates.
	if err := s.Put(ctx, "b1", testIndex(t)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	if blobs.gets != 4 {
		t.Errorf("blob reads = %d, want 4 after invalidation", blobs.gets)
	}

	// Expiry.
	start := time.Now()
	s.cache.now = func() time.Time { return start.Add(2 * time.Minute) }
	if _, err := s.Get(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	if blobs.gets != 6 {
		t.Errorf("blob reads = %d, want 6 after expiry", blobs.gets)
	}
}

// gatedBlobs wraps a MemoryStore and, once armed, holds the next read of
// key after it has fetched the data until release is closed.
type gatedBlobs struct {
	*blobstore.MemoryStore

	// mu guards key.
	mu sync.Mutex
	// key is the blob whose next read is held; empty when disarmed.
	key string
	// reached is closed when the held read has fetched its data.
	reached chan struct{}
	// release unblocks the held read.
	release chan struct{}
}

func (g *gatedBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := g.MemoryStore.Get(ctx, key)

	g.mu.Lock()
	held := g.key != "" && g.key == key
	if held {
		g.key = ""
	}
	g.mu.Unlock()

	if held {
		close(g.reached)
		<-g.release
	}
	return data, err
}

func TestCache_InFlightLoadDoesNotOutliveReingest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	blobs := &gatedBlobs{
		MemoryStore: blobstore.NewMemoryStore(),
		reached:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	s := New(blobs, Options{CacheSize: 4})

	if err := s.Put(ctx, "b1", testIndex(t)); err != nil {
		t.Fatal(err)
	}
	updated, err := vectorindex.Build([]rag.Chunk{{Text: "updated chunk"}}, [][]float32{{1, 0}})
	if err != nil {
		t.Fatal(err)
	}

	blobs.mu.Lock()
	blobs.key = PayloadKey("b1")
	blobs.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := s.Get(ctx, "b1")
		done <- err
	}()

	<-blobs.reached
	if err := s.Put(ctx, "b1", updated); err != nil {
		t.Fatal(err)
	}
	close(blobs.release)
	if err := <-done; err != nil {
		t.Fatalf("in-flight Get: %v", err)
	}

	idx, err := s.Get(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 1 || idx.Chunks()[0].Text != "updated chunk" {
		t.Errorf("stale index served after re-ingest: %d chunks", idx.Len())
	}
}

func TestCache_InFlightLoadDoesNotOutliveDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	blobs := &gatedBlobs{
		MemoryStore: blobstore.NewMemoryStore(),
		reached:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	s := New(blobs, Options{CacheSize: 4})

	if err := s.Put(ctx, "b1", testIndex(t)); err != nil {
		t.Fatal(err)
	}

	blobs.mu.Lock()
	blobs.key = PayloadKey("b1")
	blobs.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := s.Get(ctx, "b1")
		done <- err
	}()

	<-blobs.reached
	if err := s.Delete(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	close(blobs.release)
	<-done

	if _, err := s.Get(ctx, "b1"); !errors.Is(err, bookerr.ErrStorage) {
		t.Errorf("Get after delete = %v, want storage error", err)
	}
}

func TestCache_Disabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	blobs := newFlakyBlobs()
	s := New(blobs, Options{CacheSize: 0})

	if err := s.Put(ctx, "b1", testIndex(t)); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if _, err := s.Get(ctx, "b1"); err != nil {
			t.Fatal(err)
		}
	}
	if blobs.gets != 4 {
		t.Errorf("blob reads = %d, want 4", blobs.gets)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	blobs := newFlakyBlobs()
	s := New(blobs, Options{CacheSize: 2})

	for _, id := range []string{"b1", "b2"} {
		if err := s.Put(ctx, id, testIndex(t)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Delete(ctx, "b1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, "b1"); ok {
		t.Error("b1 still exists")
	}
	if ok, _ := s.Exists(ctx, "b2"); !ok {
		t.Error("b2 was removed")
	}
	if err := s.Delete(ctx, "b1"); err != nil {
		t.Errorf("deleting an absent book: %v", err)
	}
}

func TestDelete_CollectsFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	blobs := newFlakyBlobs()
	s := New(blobs, Options{})

	if err := s.Put(ctx, "b1", testIndex(t)); err != nil {
		t.Fatal(err)
	}
	blobs.failDelete[VectorsKey("b1")] = true

	err := s.Delete(ctx, "b1")
	var de *bookerr.DeleteError
	if !errors.As(err, &de) || !errors.Is(err, bookerr.ErrPartialDelete) {
		t.Fatalf("expected *DeleteError, got %v", err)
	}
	if !slices.Equal(de.Failed, []string{VectorsKey("b1")}) {
		t.Errorf("failed keys %v", de.Failed)
	}
	// The other key was still attempted.
	if ok, _ := blobs.Exists(ctx, PayloadKey("b1")); ok {
		t.Error("payload was not deleted")
	}
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		stored       string
		wantIDs      []string
		wantWarnings int
	}{
		{name: "missing", wantIDs: []string{}},
		{name: "corrupt", stored: "{not json", wantIDs: []string{}, wantWarnings: 1},
		{name: "valid", stored: `{"a":{"title":"T","author":"A"}}`, wantIDs: []string{"a"}},
		{
			name: "malformed entries",
			stored: `{
				"good": {"title": "T", "author": "A"},
				"no_author": {"title": "T"},
				"blank": {"title": " ", "author": "A"},
				"string": "oops",
				"number_title": {"title": 3, "author": "A"}
			}`,
			wantIDs:      []string{"good"},
			wantWarnings: 4,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			blobs := blobstore.NewMemoryStore()
			if tc.stored != "" {
				if err := blobs.Put(ctx, CatalogKey, []byte(tc.stored)); err != nil {
					t.Fatal(err)
				}
			}
			c, err := New(blobs, Options{}).LoadCatalog(ctx)
			if err != nil {
				t.Fatalf("LoadCatalog: %v", err)
			}
			if !slices.Equal(c.IDs(), tc.wantIDs) {
				t.Errorf("ids = %v, want %v", c.IDs(), tc.wantIDs)
			}
			if len(c.Warnings) != tc.wantWarnings {
				t.Errorf("warnings = %v, want %d", c.Warnings, tc.wantWarnings)
			}
		})
	}
}

func TestSaveCatalog_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(blobstore.NewMemoryStore(), Options{})

	c := NewCatalog()
	c.Entries["x"] = Entry{Title: "Rayuela", Author: "Cortázar"}
	c.Warnings = []string{"not persisted"}
	if err := s.SaveCatalog(ctx, c); err != nil {
		t.Fatalf("SaveCatalog: %v", err)
	}

	got, err := s.LoadCatalog(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Entries["x"] != c.Entries["x"] || len(got.Warnings) != 0 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestOrphans(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(blobstore.NewMemoryStore(), Options{})

	for _, id := range []string{"kept", "orphan1", "orphan2"} {
		if err := s.Put(ctx, id, testIndex(t)); err != nil {
			t.Fatal(err)
		}
	}
	c := NewCatalog()
	c.Entries["kept"] = Entry{Title: "T", Author: "A"}

	got, err := s.Orphans(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"orphan1", "orphan2"}) {
		t.Errorf("orphans = %v", got)
	}
}
