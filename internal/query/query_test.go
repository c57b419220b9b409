package query

import (
	"context"
	"errors"
	"testing"

	"github.com/54b3r/bookqa-go/internal/blobstore"
	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/indexstore"
	"github.com/54b3r/bookqa-go/internal/rag"
	"github.com/54b3r/bookqa-go/internal/registry"
	"github.com/54b3r/bookqa-go/internal/vectorindex"
)

// axisEmbedder maps known questions to fixed vectors and counts calls.
type axisEmbedder struct {
	calls int
	err   error
}

func (e *axisEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0, 1, 0}
	}
	return out, nil
}

// echoGenerator returns a fixed answer and records the passages it saw.
type echoGenerator struct {
	answer string
	err    error
	calls  int
	got    []rag.Chunk
}

func (g *echoGenerator) Generate(_ context.Context, _ string, chunks []rag.Chunk) (string, error) {
	g.calls++
	g.got = chunks
	return g.answer, g.err
}

type env struct {
	reg      *registry.Registry
	store    *indexstore.Store
	embedder *axisEmbedder
	gen      *echoGenerator
	bookID   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	store := indexstore.New(blobstore.NewMemoryStore(), indexstore.Options{})
	reg := registry.New(store, nil)

	id := registry.ID("Cien años de soledad", "Gabriel García Márquez")
	chunks := []rag.Chunk{
		{Text: "x axis", Index: 0, Page: 1},
		{Text: "y axis", Index: 1, Page: 2},
		{Text: "z axis", Index: 2, Page: 3},
		{Text: "mostly y", Index: 3, Page: 4},
		{Text: "some y", Index: 4, Page: 5},
	}
	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {0.1, 1, 0}, {1, 1, 0}}
	idx, err := vectorindex.Build(chunks, vectors)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, id, idx); err != nil {
		t.Fatal(err)
	}
	if err := reg.Add(ctx, registry.Book{ID: id, Title: "Cien años de soledad", Author: "Gabriel García Márquez"}); err != nil {
		t.Fatal(err)
	}
	return &env{reg: reg, store: store, embedder: &axisEmbedder{}, gen: &echoGenerator{answer: "Respuesta (página 2)."}, bookID: id}
}

func (e *env) pipeline() *Pipeline {
	return NewPipeline(Config{Books: e.reg, Embedder: e.embedder, Index: e.store, Generator: e.gen})
}

func TestQuery_Answers(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	ans, err := e.pipeline().Query(context.Background(), e.bookID, "  ¿Qué hay en el eje y?  ")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ans.Text != "Respuesta (página 2)." || ans.Refused {
		t.Errorf("answer = %+v", ans)
	}
	if ans.Book.Title != "Cien años de soledad" {
		t.Errorf("book = %+v", ans.Book)
	}
	if len(ans.Sources) != rag.DefaultTopK {
		t.Fatalf("sources = %d, want %d", len(ans.Sources), rag.DefaultTopK)
	}
	if ans.Sources[0].Chunk.Text != "y axis" {
		t.Errorf("best source = %q, want %q", ans.Sources[0].Chunk.Text, "y axis")
	}
	if len(e.gen.got) != rag.DefaultTopK || e.gen.got[0].Page != 2 {
		t.Errorf("generator passages = %+v", e.gen.got)
	}
}

func TestQuery_DetectsRefusal(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.gen.answer = "No puedo responder esta pregunta basándome en el contenido del libro."

	ans, err := e.pipeline().Query(context.Background(), e.bookID, "¿Quién ganó el mundial?")
	if err != nil {
		t.Fatal(err)
	}
	if !ans.Refused {
		t.Error("refusal not detected")
	}
}

func TestQuery_FailsFastWithoutNetwork(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		build    func(e *env) *Pipeline
		bookID   func(e *env) string
		question string
		want     error
	}{
		{
			name: "missing embedder",
			build: func(e *env) *Pipeline {
				return NewPipeline(Config{Books: e.reg, Index: e.store, Generator: e.gen})
			},
			question: "q",
			want:     bookerr.ErrConfiguration,
		},
		{
			name: "missing generator",
			build: func(e *env) *Pipeline {
				return NewPipeline(Config{Books: e.reg, Embedder: e.embedder, Index: e.store})
			},
			question: "q",
			want:     bookerr.ErrConfiguration,
		},
		{
			name: "credential error carried through",
			build: func(e *env) *Pipeline {
				return NewPipeline(Config{Books: e.reg, Embedder: e.embedder, Index: e.store, Generator: e.gen,
					ConfigErr: errors.New("OPENAI_API_KEY is required")})
			},
			question: "q",
			want:     bookerr.ErrConfiguration,
		},
		{
			name:     "unknown book",
			bookID:   func(*env) string { return "0123456789abcdef0123456789abcdef" },
			question: "q",
			want:     bookerr.ErrBookNotFound,
		},
		{
			name:     "empty question",
			question: " \t",
			want:     bookerr.ErrEmptyInput,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t)
			p := e.pipeline()
			if tc.build != nil {
				p = tc.build(e)
			}
			id := e.bookID
			if tc.bookID != nil {
				id = tc.bookID(e)
			}

			_, err := p.Query(context.Background(), id, tc.question)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Query() error = %v, want %v", err, tc.want)
			}
			if e.embedder.calls != 0 || e.gen.calls != 0 {
				t.Errorf("network services called: embed=%d generate=%d", e.embedder.calls, e.gen.calls)
			}
		})
	}
}

func TestQuery_ServiceFailures(t *testing.T) {
	t.Parallel()

	t.Run("embedding", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.embedder.err = bookerr.ErrEmbeddingService
		if _, err := e.pipeline().Query(context.Background(), e.bookID, "q"); !errors.Is(err, bookerr.ErrEmbeddingService) {
			t.Errorf("error = %v", err)
		}
		if e.gen.calls != 0 {
			t.Error("generator called after embedding failure")
		}
	})

	t.Run("generation", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.gen.err = bookerr.ErrGenerationService
		if _, err := e.pipeline().Query(context.Background(), e.bookID, "q"); !errors.Is(err, bookerr.ErrGenerationService) {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("catalogued but index missing", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		if err := e.store.Delete(context.Background(), e.bookID); err != nil {
			t.Fatal(err)
		}
		if _, err := e.pipeline().Query(context.Background(), e.bookID, "q"); !errors.Is(err, bookerr.ErrStorage) {
			t.Errorf("error = %v, want ErrStorage", err)
		}
		if e.embedder.calls != 0 {
			t.Error("question embedded although the index could not be opened")
		}
	})
}

func TestReady(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	if err := e.pipeline().Ready(); err != nil {
		t.Errorf("Ready() = %v", err)
	}
	if err := NewPipeline(Config{}).Ready(); !errors.Is(err, bookerr.ErrConfiguration) {
		t.Errorf("empty Ready() = %v", err)
	}
}
