package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/indexstore"
	"github.com/54b3r/bookqa-go/internal/version"
)

// isolate points every config source at an empty temp dir and selects the
// in-memory blob backend.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("BLOB_BACKEND", "memory")
	t.Setenv("SEARCH_BACKEND", "")
	t.Setenv("QDRANT_HOST", "")
	t.Setenv("BOOKQA_PUBLIC_URL", "")
	t.Setenv("LOG_LEVEL", "error")
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	isolate(t)
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != version.String() {
		t.Errorf("want %q, got %q", version.String(), out)
	}
}

func TestBooksList_Empty(t *testing.T) {
	isolate(t)
	out, err := run(t, "books", "list")
	if err != nil {
		t.Fatalf("books list: %v", err)
	}
	if !strings.Contains(out, "No hay libros") {
		t.Errorf("want empty-catalog message, got %q", out)
	}
}

func TestBooksShow_NotFound(t *testing.T) {
	isolate(t)
	_, err := run(t, "books", "show", "nope")
	if !errors.Is(err, bookerr.ErrBookNotFound) {
		t.Fatalf("want ErrBookNotFound, got %v", err)
	}
}

func TestAdminCommands_RequirePassword(t *testing.T) {
	isolate(t)

	t.Run("unset", func(t *testing.T) {
		t.Setenv("ADMIN_PASSWORD", "")
		_, err := run(t, "books", "sweep", "--password", "x")
		if !errors.Is(err, bookerr.ErrConfiguration) {
			t.Errorf("want ErrConfiguration, got %v", err)
		}
	})

	t.Run("wrong", func(t *testing.T) {
		t.Setenv("ADMIN_PASSWORD", "secreto")
		_, err := run(t, "books", "delete", "abc", "--password", "otro")
		if !errors.Is(err, bookerr.ErrUnauthorized) {
			t.Errorf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("correct", func(t *testing.T) {
		t.Setenv("ADMIN_PASSWORD", "secreto")
		out, err := run(t, "books", "sweep", "--password", "secreto")
		if err != nil {
			t.Fatalf("sweep: %v", err)
		}
		if !strings.Contains(out, "No hay índices huérfanos") {
			t.Errorf("unexpected output %q", out)
		}
	})
}

func TestIngest_MissingFile(t *testing.T) {
	isolate(t)
	t.Setenv("ADMIN_PASSWORD", "secreto")
	_, err := run(t, "ingest", "--password", "secreto", filepath.Join(t.TempDir(), "nada.pdf"))
	if !errors.Is(err, bookerr.ErrSourceNotFound) {
		t.Fatalf("want ErrSourceNotFound, got %v", err)
	}
}

func TestCheckAdmin_NonTerminalStdin(t *testing.T) {
	t.Setenv("ADMIN_PASSWORD", "secreto")
	f, err := os.CreateTemp(t.TempDir(), "stdin")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var prompt bytes.Buffer
	if err := checkAdmin("", f, &prompt); !errors.Is(err, bookerr.ErrUnauthorized) {
		t.Errorf("want ErrUnauthorized without prompt, got %v", err)
	}
	if prompt.Len() != 0 {
		t.Errorf("should not prompt on a non-terminal, wrote %q", prompt.String())
	}
	if err := checkAdmin("secreto", f, &prompt); err != nil {
		t.Errorf("want nil, got %v", err)
	}
}

func TestPasswordMatches(t *testing.T) {
	t.Parallel()
	tests := []struct {
		got, want string
		ok        bool
	}{
		{"secreto", "secreto", true},
		{"secret", "secreto", false},
		{"", "", false},
		{"", "secreto", false},
	}
	for _, tc := range tests {
		if got := passwordMatches(tc.got, tc.want); got != tc.ok {
			t.Errorf("passwordMatches(%q, %q) = %v, want %v", tc.got, tc.want, got, tc.ok)
		}
	}
}

func TestOpenStorage(t *testing.T) {
	isolate(t)

	t.Run("memory", func(t *testing.T) {
		st, err := openStorage(context.Background())
		if err != nil {
			t.Fatalf("openStorage: %v", err)
		}
		defer st.Close()
		if st.qdrant != nil {
			t.Error("qdrant should be disabled without QDRANT_HOST")
		}
		if st.mirror() != nil {
			t.Error("mirror should be nil without qdrant")
		}
		if _, ok := st.searchSource().(*indexstore.Store); !ok {
			t.Errorf("want local index source, got %T", st.searchSource())
		}
	})

	t.Run("bad search backend", func(t *testing.T) {
		t.Setenv("SEARCH_BACKEND", "elastic")
		_, err := openStorage(context.Background())
		if !errors.Is(err, bookerr.ErrConfiguration) {
			t.Errorf("want ErrConfiguration, got %v", err)
		}
	})

	t.Run("bad blob backend", func(t *testing.T) {
		t.Setenv("BLOB_BACKEND", "s3")
		_, err := openStorage(context.Background())
		if !errors.Is(err, bookerr.ErrConfiguration) {
			t.Errorf("want ErrConfiguration, got %v", err)
		}
	})
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("BQ_INT", "42")
	t.Setenv("BQ_BAD", "x")
	t.Setenv("BQ_FLOAT", "2.5")
	t.Setenv("BQ_DUR", "90s")
	t.Setenv("BQ_ZERO", "0")

	if got := getEnvInt("BQ_INT", 1); got != 42 {
		t.Errorf("getEnvInt = %d", got)
	}
	if got := getEnvInt("BQ_BAD", 7); got != 7 {
		t.Errorf("getEnvInt fallback = %d", got)
	}
	if got := getEnvFloat("BQ_FLOAT", 0); got != 2.5 {
		t.Errorf("getEnvFloat = %v", got)
	}
	if got := getEnvDuration("BQ_DUR", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration = %v", got)
	}
	if got := getEnvOrDefault("BQ_UNSET_XYZ", "def"); got != "def" {
		t.Errorf("getEnvOrDefault = %q", got)
	}
	if got := lookupEnvInt("BQ_ZERO"); got == nil || *got != 0 {
		t.Errorf("lookupEnvInt(zero) = %v", got)
	}
	if got := lookupEnvInt("BQ_UNSET_XYZ"); got != nil {
		t.Errorf("lookupEnvInt(unset) = %v", *got)
	}
	if got := lookupEnvInt("BQ_BAD"); got != nil {
		t.Errorf("lookupEnvInt(bad) = %v", *got)
	}
}

func TestExcerpt(t *testing.T) {
	t.Parallel()
	if got := excerpt("  hola\n\tmundo  ", 50); got != "hola mundo" {
		t.Errorf("got %q", got)
	}
	if got := excerpt("añoñaño", 3); got != "año…" {
		t.Errorf("got %q", got)
	}
}
