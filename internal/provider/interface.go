// Package provider selects and constructs the chat model that answers book
// questions. Supported backends: Ollama, OpenAI, Azure OpenAI, Ark and
// Google Gemini, all through Eino's model components.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/54b3r/bookqa-go/internal/bookerr"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects the Volcengine Ark model runtime.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// Config holds the provider configuration resolved from environment variables
// or supplied explicitly by the caller. Only the section matching Backend is
// consulted.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	// Ollama holds settings for the ollama backend.
	Ollama ProviderOllama
	// OpenAI holds settings for the openai backend.
	OpenAI ProviderOpenAI
	// AzureOpenAI holds settings for the azure backend.
	AzureOpenAI ProviderAzureOpenAI
	// Gemini holds settings for the gemini backend.
	Gemini ProviderGemini
	// Ark holds settings for the ark backend.
	Ark ProviderArk

	// Tuning holds generation parameters shared by every backend.
	Tuning SharedTuning
}

// ProviderOllama configures a local Ollama server.
type ProviderOllama struct {
	// Host is the Ollama base URL (OLLAMA_HOST).
	Host string
	// Model is the chat model tag (OLLAMA_MODEL).
	Model string
}

// ProviderOpenAI configures the public OpenAI API.
type ProviderOpenAI struct {
	// APIKey is the OpenAI secret key (OPENAI_API_KEY).
	APIKey string
	// Model is the chat model name (OPENAI_MODEL).
	Model string
}

// ProviderAzureOpenAI configures an Azure OpenAI deployment.
type ProviderAzureOpenAI struct {
	// APIKey is the Azure OpenAI key (AZURE_OPENAI_API_KEY).
	APIKey string
	// Endpoint is the resource endpoint URL (AZURE_OPENAI_ENDPOINT).
	Endpoint string
	// Deployment is the chat deployment name (AZURE_OPENAI_DEPLOYMENT).
	Deployment string
	// APIVersion is the REST API version (AZURE_OPENAI_API_VERSION).
	APIVersion string
}

// ProviderGemini configures Google Gemini through AI Studio.
type ProviderGemini struct {
	// APIKey is the AI Studio key (GOOGLE_API_KEY).
	APIKey string
	// Model is the Gemini model name (GEMINI_MODEL).
	Model string
}

// ProviderArk configures the Volcengine Ark runtime.
type ProviderArk struct {
	// APIKey is the Ark API key (ARK_API_KEY).
	APIKey string
	// Model is the Ark endpoint or model id (ARK_MODEL).
	Model string
	// BaseURL overrides the regional Ark endpoint (ARK_BASE_URL).
	BaseURL string
}

// SharedTuning holds generation parameters applied to every backend.
type SharedTuning struct {
	// MaxTokens caps the completion length (MODEL_MAX_TOKENS).
	MaxTokens int
	// Temperature controls sampling randomness (MODEL_TEMPERATURE). Answers
	// are grounded in book text, so the default is 0.
	Temperature float32
}

// HealthChecker is implemented by backends that expose a zero-cost health
// endpoint, so readiness probes never spend tokens.
type HealthChecker interface {
	// HealthCheck returns nil when the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// Validate reports the first missing setting for the selected backend. The
// error wraps [bookerr.ErrConfiguration] and names the env var to set.
func (c *Config) Validate() error {
	var missing string
	switch c.Backend {
	case BackendOllama:
		switch {
		case c.Ollama.Host == "":
			missing = "OLLAMA_HOST"
		case c.Ollama.Model == "":
			missing = "OLLAMA_MODEL"
		}
	case BackendOpenAI:
		switch {
		case c.OpenAI.APIKey == "":
			missing = "OPENAI_API_KEY"
		case c.OpenAI.Model == "":
			missing = "OPENAI_MODEL"
		}
	case BackendAzure:
		switch {
		case c.AzureOpenAI.APIKey == "":
			missing = "AZURE_OPENAI_API_KEY"
		case c.AzureOpenAI.Endpoint == "":
			missing = "AZURE_OPENAI_ENDPOINT"
		case c.AzureOpenAI.Deployment == "":
			missing = "AZURE_OPENAI_DEPLOYMENT"
		}
	case BackendArk:
		switch {
		case c.Ark.APIKey == "":
			missing = "ARK_API_KEY"
		case c.Ark.Model == "":
			missing = "ARK_MODEL"
		}
	case BackendGemini:
		switch {
		case c.Gemini.APIKey == "":
			missing = "GOOGLE_API_KEY"
		case c.Gemini.Model == "":
			missing = "GEMINI_MODEL"
		}
	default:
		return fmt.Errorf("provider: %w: unknown backend %q (valid: ollama, openai, azure, ark, gemini)",
			bookerr.ErrConfiguration, c.Backend)
	}
	if missing != "" {
		return fmt.Errorf("provider: %w: %s is required for the %s backend",
			bookerr.ErrConfiguration, missing, c.Backend)
	}
	if c.Tuning.Temperature < 0 || c.Tuning.Temperature > 2 {
		return fmt.Errorf("provider: %w: MODEL_TEMPERATURE %.2f out of range [0, 2]",
			bookerr.ErrConfiguration, c.Tuning.Temperature)
	}
	return nil
}

// ModelName returns the model or deployment the backend will call.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendArk:
		return c.Ark.Model
	case BackendGemini:
		return c.Gemini.Model
	}
	return ""
}

// reasoningPrefixes are Azure deployment name prefixes for models that reject
// the temperature parameter.
var reasoningPrefixes = []string{"o1", "o3", "o4", "codex"}

// isAzureReasoningModel reports whether deployment names an o-series or
// codex-class model.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, p := range reasoningPrefixes {
		if strings.HasPrefix(d, p) {
			return true
		}
	}
	return false
}
