// Package generator turns a question and its retrieved book passages into a
// grounded answer using a single chat-model call.
//
// The prompt is a fixed Spanish instruction template rendered with Eino's
// prompt component and executed as a template → model chain, so any global
// callback handlers (Langfuse tracing) observe every call.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/budget"
	"github.com/54b3r/bookqa-go/internal/logging"
	"github.com/54b3r/bookqa-go/internal/rag"
)

// DefaultTimeout bounds a single model call when Config.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// RefusalSentence is the exact reply the model is instructed to give when
// the passages do not contain the answer.
const RefusalSentence = "No puedo responder esta pregunta basándome en el contenido del libro."

// systemPrompt establishes the answering rules. It contains no template
// variables; braces must not be added here.
const systemPrompt = `Eres un asistente experto que responde preguntas sobre un libro específico.
Tu objetivo es proporcionar respuestas precisas basadas únicamente en el contenido del libro.

Instrucciones:
- Responde solo con información que esté explícitamente presente en el contexto proporcionado.
- Si la información no está en el contexto, responde exactamente: "` + RefusalSentence + `"
- No inventes información ni uses conocimiento externo.
- Cita capítulos, secciones o páginas específicas cuando sea posible.
- Indica la página de donde sacaste la información siempre que sea posible.
- Proporciona una respuesta clara, concisa y directa.`

// userPrompt carries the passages and the question.
const userPrompt = `Contexto del libro:
{context}

Pregunta: {question}

Respuesta:`

// contextSeparator joins labelled passages in the rendered context.
const contextSeparator = "\n\n"

// Config tunes the generator.
type Config struct {
	// MaxContextTokens is the estimated prompt budget. Passages beyond it are
	// dropped lowest rank first. Zero means budget.DefaultMaxContextTokens.
	MaxContextTokens int

	// Timeout bounds one model call. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Generator answers questions from supplied passages.
// It is safe for concurrent use.
type Generator struct {
	// tmpl renders the system and user messages.
	tmpl *prompt.DefaultChatTemplate
	// chain runs template then model as one traced unit.
	chain compose.Runnable[map[string]any, *schema.Message]
	// cfg holds the resolved tuning.
	cfg Config
}

// New compiles the answer chain around cm.
func New(ctx context.Context, cm model.BaseChatModel, cfg Config) (*Generator, error) {
	if cm == nil {
		return nil, fmt.Errorf("generator: %w: no chat model", bookerr.ErrConfiguration)
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	tmpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt),
	)

	chain, err := compose.NewChain[map[string]any, *schema.Message]().
		AppendChatTemplate(tmpl).
		AppendChatModel(cm).
		Compile(ctx, compose.WithGraphName("bookqa.answer"))
	if err != nil {
		return nil, fmt.Errorf("generator: compile chain: %w", err)
	}

	return &Generator{tmpl: tmpl, chain: chain, cfg: cfg}, nil
}

// Generate returns the model's answer to question given chunks in rank
// order. Passages are labelled with their page when known. A failed call or
// an empty completion wraps [bookerr.ErrGenerationService].
func (g *Generator) Generate(ctx context.Context, question string, chunks []rag.Chunk) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("generator: %w: question", bookerr.ErrEmptyInput)
	}

	contextText, err := g.fitContext(ctx, question, chunks)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	msg, err := g.chain.Invoke(ctx, map[string]any{
		"context":  contextText,
		"question": question,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("generator: %w: timed out after %s: %w", bookerr.ErrGenerationService, g.cfg.Timeout, err)
		}
		return "", fmt.Errorf("generator: %w: %w", bookerr.ErrGenerationService, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("generator: %w: empty completion", bookerr.ErrGenerationService)
	}

	log := logging.FromContext(ctx)
	attrs := []any{slog.Duration("duration", time.Since(start))}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		attrs = append(attrs,
			slog.Int("prompt_tokens", msg.ResponseMeta.Usage.PromptTokens),
			slog.Int("completion_tokens", msg.ResponseMeta.Usage.CompletionTokens),
		)
	}
	log.Debug("generator: answer produced", attrs...)

	return strings.TrimSpace(msg.Content), nil
}

// fitContext labels the passages and keeps as many as the token budget
// allows alongside the rendered instructions and question.
func (g *Generator) fitContext(ctx context.Context, question string, chunks []rag.Chunk) (string, error) {
	fixed, err := g.tmpl.Format(ctx, map[string]any{"context": "", "question": question})
	if err != nil {
		return "", fmt.Errorf("generator: render prompt: %w", err)
	}

	passages := make([]string, len(chunks))
	for i, c := range chunks {
		passages[i] = label(c) + contextSeparator
	}
	keep := budget.FitChunks(budget.EstimateMessages(fixed), passages, g.cfg.MaxContextTokens)
	if keep < len(chunks) {
		logging.FromContext(ctx).Warn("generator: context over budget, dropping lowest-ranked passages",
			slog.Int("kept", keep),
			slog.Int("dropped", len(chunks)-keep),
			slog.Int("max_context_tokens", g.cfg.MaxContextTokens),
		)
	}

	labelled := make([]string, keep)
	for i := range keep {
		labelled[i] = label(chunks[i])
	}
	return strings.Join(labelled, contextSeparator), nil
}

// label prefixes a passage with its page number when known.
func label(c rag.Chunk) string {
	if c.Page > 0 {
		return fmt.Sprintf("[Página %d]\n%s", c.Page, c.Text)
	}
	return c.Text
}
