package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/54b3r/bookqa-go/internal/bookerr"
)

func TestOpenAIEmbedder_OrdersByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req openaiEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "text-embedding-3-small" || len(req.Input) != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		// Out of order on purpose.
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	t.Cleanup(srv.Close)

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "text-embedding-3-small"})
	got, err := emb.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got[0][0] != 1 || got[1][1] != 1 {
		t.Errorf("vectors not placed by index: %v", got)
	}
}

func TestOpenAIEmbedder_AzureRequest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/embed-dep/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "2025-04-01-preview" {
			t.Errorf("api-version = %q", r.URL.Query().Get("api-version"))
		}
		if r.Header.Get("api-key") != "azure-key" {
			t.Errorf("api-key header = %q", r.Header.Get("api-key"))
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5]}]}`))
	}))
	t.Cleanup(srv.Close)

	emb := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL:    srv.URL + "/openai",
		APIKey:     "azure-key",
		Model:      "embed-dep",
		Azure:      true,
		APIVersion: "2025-04-01-preview",
	})
	if _, err := emb.Embed(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
}

func TestOpenAIEmbedder_HTTPErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		contains string
	}{
		{"auth json", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key"}}`, "Incorrect API key"},
		{"quota plain", http.StatusTooManyRequests, `rate limited`, "HTTP 429"},
		{"count mismatch", http.StatusOK, `{"data":[]}`, "expected 1 embeddings"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
			_, err := emb.Embed(context.Background(), []string{"a"})
			if err == nil || !strings.Contains(err.Error(), tc.contains) {
				t.Fatalf("error %v does not contain %q", err, tc.contains)
			}
		})
	}
}

func TestOllamaEmbedder(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model \"missing\" not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[1,2,3]]}`))
	}))
	t.Cleanup(srv.Close)

	got, err := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"}).
		Embed(context.Background(), []string{"x"})
	if err != nil || len(got) != 1 || len(got[0]) != 3 {
		t.Fatalf("Embed = %v, %v", got, err)
	}

	_, err = NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "missing"}).
		Embed(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected model-not-found error, got %v", err)
	}
}

// stubBackend returns vectors of a fixed dimension and records batch sizes.
type stubBackend struct {
	// dim is the vector length returned.
	dim int
	// failOn fails any batch containing this text.
	failOn string
	// delay is slept before answering.
	delay time.Duration

	mu       sync.Mutex
	batches  []int
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *stubBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	s.mu.Lock()
	s.batches = append(s.batches, len(texts))
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if t == s.failOn {
			return nil, errors.New("quota exceeded")
		}
		v := make([]float32, s.dim)
		if s.dim > 0 {
			fmt.Sscanf(t, "%g", &v[0]) //nolint:errcheck // tests encode the text as a number
		}
		out[i] = v
	}
	return out, nil
}

func numbered(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprint(i)
	}
	return out
}

func TestGateway_BatchesPreserveOrder(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{dim: 3, delay: 5 * time.Millisecond}
	gw := NewGateway(backend, "stub", GatewayConfig{BatchSize: 4, Concurrency: 2})

	got, err := gw.Embed(context.Background(), numbered(10))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d vectors", len(got))
	}
	for i, v := range got {
		if v[0] != float32(i) {
			t.Errorf("vector %d carries %v", i, v[0])
		}
	}
	if len(backend.batches) != 3 {
		t.Errorf("batches = %v, want 3", backend.batches)
	}
	if p := backend.peak.Load(); p > 2 {
		t.Errorf("peak concurrency %d exceeds limit 2", p)
	}
	if gw.Dimensions() != 3 {
		t.Errorf("Dimensions = %d", gw.Dimensions())
	}
}

func TestGateway_Empty(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{dim: 3}
	got, err := NewGateway(backend, "stub", GatewayConfig{}).Embed(context.Background(), nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("Embed(nil) = %v, %v", got, err)
	}
	if len(backend.batches) != 0 {
		t.Error("backend called for empty input")
	}
}

func TestGateway_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		backend *stubBackend
		cfg     GatewayConfig
	}{
		{"backend failure", &stubBackend{dim: 2, failOn: "5"}, GatewayConfig{BatchSize: 2}},
		{"timeout", &stubBackend{dim: 2, delay: time.Second}, GatewayConfig{Timeout: 20 * time.Millisecond}},
		{"zero dimension", &stubBackend{dim: 0}, GatewayConfig{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewGateway(tc.backend, "stub", tc.cfg).Embed(context.Background(), numbered(6))
			if !errors.Is(err, bookerr.ErrEmbeddingService) {
				t.Fatalf("expected ErrEmbeddingService, got %v", err)
			}
		})
	}
}

func TestGateway_StableDimension(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{dim: 4}
	gw := NewGateway(backend, "stub", GatewayConfig{})
	if _, err := gw.Embed(context.Background(), []string{"1"}); err != nil {
		t.Fatal(err)
	}

	backend.dim = 8
	if _, err := gw.Embed(context.Background(), []string{"1"}); !errors.Is(err, bookerr.ErrEmbeddingService) {
		t.Fatalf("expected dimension change to fail, got %v", err)
	}
}

func TestNewFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		backend string
	}{
		{name: "ollama default", env: map[string]string{}, backend: "ollama"},
		{name: "inherits model provider", env: map[string]string{"MODEL_PROVIDER": "openai", "OPENAI_API_KEY": "sk-x"}, backend: "openai"},
		{name: "openai missing key", env: map[string]string{"EMBEDDING_PROVIDER": "openai"}, wantErr: true},
		{name: "azure missing endpoint", env: map[string]string{"EMBEDDING_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k"}, wantErr: true},
		{name: "azure ok", env: map[string]string{"EMBEDDING_PROVIDER": "azure", "EMBEDDING_API_KEY": "k", "AZURE_OPENAI_ENDPOINT": "https://x"}, backend: "azure"},
		{name: "gemini missing key", env: map[string]string{"EMBEDDING_PROVIDER": "gemini"}, wantErr: true},
		{name: "unknown", env: map[string]string{"EMBEDDING_PROVIDER": "cohere"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, k := range []string{
				"EMBEDDING_PROVIDER", "MODEL_PROVIDER", "EMBEDDING_API_KEY", "OPENAI_API_KEY",
				"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "EMBEDDING_ENDPOINT", "GOOGLE_API_KEY", "GEMINI_API_KEY",
			} {
				t.Setenv(k, tc.env[k])
			}
			gw, err := NewFromEnv(context.Background())
			if tc.wantErr {
				if !errors.Is(err, bookerr.ErrConfiguration) {
					t.Fatalf("expected ErrConfiguration, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFromEnv: %v", err)
			}
			if gw.Name() != tc.backend {
				t.Errorf("backend = %q, want %q", gw.Name(), tc.backend)
			}
		})
	}
}

func TestDefaultDimensions(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	if got := DefaultDimensions("ollama"); got != 768 {
		t.Errorf("ollama = %d", got)
	}
	if got := DefaultDimensions("azure"); got != 1536 {
		t.Errorf("azure = %d", got)
	}
	t.Setenv("EMBEDDING_DIMENSIONS", "256")
	if got := DefaultDimensions("ollama"); got != 256 {
		t.Errorf("override = %d", got)
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  bool
	}{
		{"text-embedding-3-small", false},
		{"nomic-embed-text", false},
		{"gpt-4o", true},
		{"llama3.1:8b", true},
		{"text-embedding-004", false},
		{"gemini-2.0-flash", true},
	}
	for _, tc := range tests {
		if got := looksLikeChatModel(tc.model); got != tc.want {
			t.Errorf("looksLikeChatModel(%q) = %v, want %v", tc.model, got, tc.want)
		}
	}
}
