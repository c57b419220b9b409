package generator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/rag"
)

// fakeModel records the prompt it receives and returns a canned reply.
type fakeModel struct {
	mu     sync.Mutex
	reply  string
	err    error
	delay  time.Duration
	inputs [][]*schema.Message
}

func (f *fakeModel) Generate(ctx context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (f *fakeModel) lastUser(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		t.Fatal("model was never called")
	}
	msgs := f.inputs[len(f.inputs)-1]
	if len(msgs) != 2 || msgs[0].Role != schema.System || msgs[1].Role != schema.User {
		t.Fatalf("unexpected prompt shape: %+v", msgs)
	}
	return msgs[1].Content
}

func newGenerator(t *testing.T, m *fakeModel, cfg Config) *Generator {
	t.Helper()
	g, err := New(context.Background(), m, cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return g
}

func TestGenerate_RendersPassagesInRankOrder(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "  Macondo fue fundado por José Arcadio Buendía (página 12).  "}
	g := newGenerator(t, m, Config{})

	chunks := []rag.Chunk{
		{Text: "José Arcadio Buendía fundó Macondo.", Page: 12},
		{Text: "Texto sin página conocida {con llaves}."},
	}
	got, err := g.Generate(context.Background(), "¿Quién fundó Macondo?", chunks)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if got != "Macondo fue fundado por José Arcadio Buendía (página 12)." {
		t.Errorf("answer = %q", got)
	}

	user := m.lastUser(t)
	want := "[Página 12]\nJosé Arcadio Buendía fundó Macondo.\n\nTexto sin página conocida {con llaves}."
	if !strings.Contains(user, want) {
		t.Errorf("user prompt missing ordered passages:\n%s", user)
	}
	if !strings.Contains(user, "Pregunta: ¿Quién fundó Macondo?") {
		t.Errorf("user prompt missing question:\n%s", user)
	}

	m.mu.Lock()
	system := m.inputs[0][0].Content
	m.mu.Unlock()
	if !strings.Contains(system, RefusalSentence) {
		t.Error("system prompt must carry the refusal sentence verbatim")
	}
}

func TestGenerate_DropsLowestRankedOverBudget(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "ok"}
	g := newGenerator(t, m, Config{MaxContextTokens: 400})

	big := strings.Repeat("a", 600) // ~150 tokens
	chunks := []rag.Chunk{
		{Text: "PRIMERO " + big},
		{Text: "SEGUNDO " + big},
		{Text: "TERCERO " + big},
	}
	if _, err := g.Generate(context.Background(), "pregunta", chunks); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	user := m.lastUser(t)
	if !strings.Contains(user, "PRIMERO") {
		t.Error("top-ranked passage must be kept")
	}
	if strings.Contains(user, "TERCERO") {
		t.Error("lowest-ranked passage should have been dropped")
	}
}

func TestGenerate_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		model    *fakeModel
		cfg      Config
		question string
		want     error
	}{
		{"empty question", &fakeModel{reply: "x"}, Config{}, "   ", bookerr.ErrEmptyInput},
		{"model failure", &fakeModel{err: errors.New("boom")}, Config{}, "q", bookerr.ErrGenerationService},
		{"empty completion", &fakeModel{reply: " \n "}, Config{}, "q", bookerr.ErrGenerationService},
		{"timeout", &fakeModel{reply: "late", delay: time.Second}, Config{Timeout: 20 * time.Millisecond}, "q", bookerr.ErrGenerationService},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := newGenerator(t, tc.model, tc.cfg)
			_, err := g.Generate(context.Background(), tc.question, []rag.Chunk{{Text: "contexto"}})
			if !errors.Is(err, tc.want) {
				t.Errorf("Generate() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestNew_NilModel(t *testing.T) {
	t.Parallel()
	if _, err := New(context.Background(), nil, Config{}); !errors.Is(err, bookerr.ErrConfiguration) {
		t.Errorf("New(nil) error = %v, want ErrConfiguration", err)
	}
}
