package blobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

// backends returns a fresh instance of every Store implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	fsStore, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}
	sqliteStore, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open in-memory sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]Store{
		"fs":     fsStore,
		"sqlite": sqliteStore,
		"memory": NewMemoryStore(),
	}
}

func TestStore_PutGetOverwrite(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Put(ctx, "vector_stores/b1/index.bin", []byte("one")); err != nil {
				t.Fatalf("put: %v", err)
			}
			if err := s.Put(ctx, "vector_stores/b1/index.bin", []byte("two")); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, err := s.Get(ctx, "vector_stores/b1/index.bin")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(got) != "two" {
				t.Errorf("got %q, want %q", got, "two")
			}
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "metadata/books_info.json")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
			ok, err := s.Exists(context.Background(), "metadata/books_info.json")
			if err != nil || ok {
				t.Errorf("Exists = %v, %v; want false, nil", ok, err)
			}
		})
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, k := range []string{
				"vector_stores/b1/index.json",
				"vector_stores/b1/index.bin",
				"vector_stores/b10/index.bin",
				"metadata/books_info.json",
			} {
				if err := s.Put(ctx, k, []byte(k)); err != nil {
					t.Fatalf("put %s: %v", k, err)
				}
			}

			keys, err := s.List(ctx, "vector_stores/b1/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			want := []string{"vector_stores/b1/index.bin", "vector_stores/b1/index.json"}
			if !slices.Equal(keys, want) {
				t.Errorf("list = %v, want %v", keys, want)
			}

			for _, k := range keys {
				if err := s.Delete(ctx, k); err != nil {
					t.Fatalf("delete %s: %v", k, err)
				}
			}
			// Deleting again is fine.
			if err := s.Delete(ctx, keys[0]); err != nil {
				t.Errorf("second delete: %v", err)
			}

			all, err := s.List(ctx, "")
			if err != nil {
				t.Fatalf("list all: %v", err)
			}
			if !slices.Equal(all, []string{"metadata/books_info.json", "vector_stores/b10/index.bin"}) {
				t.Errorf("remaining keys = %v", all)
			}
		})
	}
}

func TestStore_RejectsInvalidKeys(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"", "/abs", "../escape", "a//b", `a\b`, "a/./b"} {
				if err := s.Put(context.Background(), k, []byte("x")); err == nil {
					t.Errorf("Put(%q) accepted an invalid key", k)
				}
			}
		})
	}
}

func TestStore_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Put(ctx, "k", []byte("v")); err == nil {
				t.Error("expected error for cancelled context")
			}
		})
	}
}

func TestFSStore_DeletePrunesEmptyDirs(t *testing.T) {
	t.Parallel()
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s.Put(ctx, "vector_stores/b1/index.bin", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "vector_stores/b1/index.bin"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "vector_stores")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("empty directories left behind: %v", err)
	}
	if _, err := os.Stat(s.Root()); err != nil {
		t.Errorf("root removed: %v", err)
	}
}

func TestOpen_Backends(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "fs", cfg: Config{Backend: BackendFS, Dir: t.TempDir()}},
		{name: "default is fs", cfg: Config{Dir: t.TempDir()}},
		{name: "fs without dir", cfg: Config{Backend: BackendFS}, wantErr: true},
		{name: "sqlite", cfg: Config{Backend: BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "blobs.db")}},
		{name: "memory", cfg: Config{Backend: BackendMemory}},
		{name: "unknown", cfg: Config{Backend: "s3"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, err := Open(tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tc.wantErr)
			}
			if s != nil {
				_ = s.Close()
			}
		})
	}
}
