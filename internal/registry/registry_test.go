package registry

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/54b3r/bookqa-go/internal/blobstore"
	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/indexstore"
	"github.com/54b3r/bookqa-go/internal/rag"
	"github.com/54b3r/bookqa-go/internal/vectorindex"
)

// stickyBlobs refuses to delete keys listed in stuck.
type stickyBlobs struct {
	*blobstore.MemoryStore
	// stuck holds keys whose deletion fails.
	stuck map[string]bool
}

func (s *stickyBlobs) Delete(ctx context.Context, key string) error {
	if s.stuck[key] {
		return errors.New("permission denied")
	}
	return s.MemoryStore.Delete(ctx, key)
}

// fakeMirror records deletions and optionally fails them.
type fakeMirror struct {
	// deleted lists the ids passed to DeleteBook.
	deleted []string
	// err is returned by DeleteBook when set.
	err error
}

func (m *fakeMirror) ReplaceBook(context.Context, string, []rag.Chunk, [][]float32) error {
	return nil
}

func (m *fakeMirror) DeleteBook(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return m.err
}

func newTestRegistry(t *testing.T, mirror rag.Mirror) (*Registry, *indexstore.Store, *stickyBlobs) {
	t.Helper()
	blobs := &stickyBlobs{MemoryStore: blobstore.NewMemoryStore(), stuck: map[string]bool{}}
	store := indexstore.New(blobs, indexstore.Options{})
	return New(store, mirror), store, blobs
}

func putIndex(t *testing.T, store *indexstore.Store, id string) {
	t.Helper()
	idx, err := vectorindex.Build([]rag.Chunk{{Text: "some chunk text"}}, [][]float32{{1, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(context.Background(), id, idx); err != nil {
		t.Fatal(err)
	}
}

func TestID(t *testing.T) {
	t.Parallel()

	id := ID("  Cien años de soledad ", "Gabriel García Márquez\n")
	if id != ID("Cien años de soledad", "Gabriel García Márquez") {
		t.Error("surrounding whitespace changes the id")
	}
	if len(id) != 32 {
		t.Errorf("id %q is not 32 hex characters", id)
	}
	if ID("ab", "c") != ID("a", "bc") {
		t.Error("concatenation aliasing changed")
	}
	if ID("a", "b") == ID("b", "a") {
		t.Error("title and author are interchangeable")
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t, nil)

	tests := []struct {
		title, author string
		wantErr       bool
	}{
		{"Title", "Author", false},
		{"", "Author", true},
		{"Title", "   ", true},
	}
	for _, tc := range tests {
		id, err := r.Register(tc.title, tc.author)
		if tc.wantErr {
			if !errors.Is(err, bookerr.ErrInvalidBook) {
				t.Errorf("Register(%q, %q): expected ErrInvalidBook, got %v", tc.title, tc.author, err)
			}
			continue
		}
		if err != nil || id != ID(tc.title, tc.author) {
			t.Errorf("Register(%q, %q) = %q, %v", tc.title, tc.author, id, err)
		}
	}
}

func TestAddListGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _, _ := newTestRegistry(t, nil)

	books := []Book{
		{ID: "2", Title: "Zama", Author: "Di Benedetto"},
		{ID: "1", Title: "Ficciones", Author: "Borges"},
		{ID: "0", Title: "Ficciones", Author: "Otro"},
	}
	for _, b := range books {
		if err := r.Add(ctx, b); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	got, warnings, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings %v", warnings)
	}
	var ids []string
	for _, b := range got {
		ids = append(ids, b.ID)
	}
	if !slices.Equal(ids, []string{"0", "1", "2"}) {
		t.Errorf("order = %v", ids)
	}

	b, err := r.Get(ctx, "2")
	if err != nil || b.Title != "Zama" {
		t.Errorf("Get = %+v, %v", b, err)
	}
	if _, err := r.Get(ctx, "missing"); !errors.Is(err, bookerr.ErrBookNotFound) {
		t.Errorf("expected ErrBookNotFound, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mirror := &fakeMirror{}
	r, store, _ := newTestRegistry(t, mirror)

	removed, err := r.Remove(ctx, "absent")
	if removed || err != nil {
		t.Fatalf("Remove(absent) = %v, %v", removed, err)
	}

	putIndex(t, store, "b1")
	if err := r.Add(ctx, Book{ID: "b1", Title: "T", Author: "A"}); err != nil {
		t.Fatal(err)
	}

	removed, err = r.Remove(ctx, "b1")
	if !removed || err != nil {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	if ok, _ := store.Exists(ctx, "b1"); ok {
		t.Error("index blobs remain")
	}
	if !slices.Equal(mirror.deleted, []string{"b1"}) {
		t.Errorf("mirror deletions = %v", mirror.deleted)
	}

	removed, err = r.Remove(ctx, "b1")
	if removed || err != nil {
		t.Errorf("second Remove = %v, %v", removed, err)
	}
}

func TestRemove_PartialDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, store, blobs := newTestRegistry(t, nil)

	putIndex(t, store, "b1")
	if err := r.Add(ctx, Book{ID: "b1", Title: "T", Author: "A"}); err != nil {
		t.Fatal(err)
	}
	blobs.stuck[indexstore.VectorsKey("b1")] = true

	removed, err := r.Remove(ctx, "b1")
	if removed {
		t.Error("reported removed despite failure")
	}
	var de *bookerr.DeleteError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DeleteError, got %v", err)
	}
	if !slices.Equal(de.Failed, []string{indexstore.VectorsKey("b1")}) {
		t.Errorf("failed = %v", de.Failed)
	}
	if _, err := r.Get(ctx, "b1"); !errors.Is(err, bookerr.ErrBookNotFound) {
		t.Errorf("catalog entry should stay removed, got %v", err)
	}
}

func TestRemove_MirrorFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mirror := &fakeMirror{err: errors.New("qdrant down")}
	r, store, _ := newTestRegistry(t, mirror)

	putIndex(t, store, "b1")
	if err := r.Add(ctx, Book{ID: "b1", Title: "T", Author: "A"}); err != nil {
		t.Fatal(err)
	}

	_, err := r.Remove(ctx, "b1")
	var de *bookerr.DeleteError
	if !errors.As(err, &de) || !slices.Contains(de.Failed, "mirror") {
		t.Fatalf("expected mirror failure in DeleteError, got %v", err)
	}
}

func TestSweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, store, _ := newTestRegistry(t, nil)

	putIndex(t, store, "kept")
	putIndex(t, store, "orphan")
	if err := r.Add(ctx, Book{ID: "kept", Title: "T", Author: "A"}); err != nil {
		t.Fatal(err)
	}

	swept, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !slices.Equal(swept, []string{"orphan"}) {
		t.Errorf("swept = %v", swept)
	}
	if ok, _ := store.Exists(ctx, "kept"); !ok {
		t.Error("catalogued index was swept")
	}
	if ok, _ := store.Exists(ctx, "orphan"); ok {
		t.Error("orphan survived")
	}
}

func TestLink(t *testing.T) {
	t.Parallel()
	tests := []struct {
		base, want string
	}{
		{"https://libros.example.com", "https://libros.example.com/?book_id=abc"},
		{"https://libros.example.com/", "https://libros.example.com/?book_id=abc"},
		{"", "/?book_id=abc"},
	}
	for _, tc := range tests {
		if got := Link(tc.base, "abc"); got != tc.want {
			t.Errorf("Link(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}
