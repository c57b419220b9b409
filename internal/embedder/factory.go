package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/logging"
	"github.com/54b3r/bookqa-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "text-embedding-004"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultGeminiDimensions is the output dimension of text-embedding-004.
	defaultGeminiDimensions = 768
)

// Backend resolves the embedding backend name: EMBEDDING_PROVIDER, then
// MODEL_PROVIDER, then "ollama".
func Backend() string {
	if b := getEnv("EMBEDDING_PROVIDER"); b != "" {
		return b
	}
	return getEnvOrDefault("MODEL_PROVIDER", "ollama")
}

// DefaultDimensions returns the embedding vector size for backend. Callers
// that must size a vector collection up front (the Qdrant mirror) use it.
// EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "gemini":
		return defaultGeminiDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// NewFromEnv constructs a Gateway around the backend selected by the
// environment. Credentials inherit from the chat provider's variables unless
// the EMBEDDING_* overrides are set:
//
//  1. EMBEDDING_PROVIDER (else MODEL_PROVIDER, else ollama)
//  2. EMBEDDING_API_KEY overrides the inherited API key
//  3. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  4. EMBEDDING_MODEL overrides the backend's default model
//  5. EMBEDDING_DIMENSIONS requests a vector size
//  6. EMBEDDING_TIMEOUT, EMBEDDING_BATCH_SIZE, EMBEDDING_CONCURRENCY tune the Gateway
//
// Missing credentials fail with bookerr.ErrConfiguration before any network call.
func NewFromEnv(ctx context.Context) (*Gateway, error) {
	backend := Backend()

	var (
		impl  rag.Embedder
		model string
	)
	switch backend {
	case "ollama":
		host := getEnv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		model = getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel)
		impl = NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model})

	case "openai":
		apiKey := firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: %w: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY", bookerr.ErrConfiguration)
		}
		model = getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel)
		impl = NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    getEnvOrDefault("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      model,
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
		})

	case "azure":
		apiKey := firstEnv("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: %w: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY", bookerr.ErrConfiguration)
		}
		endpoint := firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT")
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: %w: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT", bookerr.ErrConfiguration)
		}
		model = getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel)
		impl = NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Model:      model,
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		})

	case "gemini":
		apiKey := firstEnv("EMBEDDING_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: %w: gemini requires GOOGLE_API_KEY or EMBEDDING_API_KEY", bookerr.ErrConfiguration)
		}
		model = getEnvOrDefault("EMBEDDING_MODEL", defaultGeminiModel)
		g, err := NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     apiKey,
			Model:      model,
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
		})
		if err != nil {
			return nil, fmt.Errorf("embedder: %w: %w", bookerr.ErrConfiguration, err)
		}
		impl = g

	default:
		return nil, fmt.Errorf("embedder: %w: unknown backend %q (valid values: ollama, openai, azure, gemini)",
			bookerr.ErrConfiguration, backend)
	}

	WarnIfChatModel(logging.FromContext(ctx), model)

	return NewGateway(impl, backend, GatewayConfig{
		Timeout:     getEnvDuration("EMBEDDING_TIMEOUT", DefaultTimeout),
		BatchSize:   getEnvInt("EMBEDDING_BATCH_SIZE", DefaultBatchSize),
		Concurrency: getEnvInt("EMBEDDING_CONCURRENCY", DefaultConcurrency),
	}), nil
}

// firstEnv returns the first non-empty value among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration parses a Go duration ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if s, err := strconv.Atoi(v); err == nil {
		return time.Duration(s) * time.Second
	}
	slog.Default().Warn("embedder: ignoring unparseable duration", slog.String("key", key), slog.String("value", v))
	return fallback
}
