package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	einoark "github.com/cloudwego/eino-ext/components/model/ark"
	einogemini "github.com/cloudwego/eino-ext/components/model/gemini"
	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// newOllama constructs a chat model backed by a local Ollama instance.
// The Ollama component has no config-level temperature, so it is attached to
// every call instead.
func newOllama(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	cm, err := einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{
		BaseURL: cfg.Ollama.Host,
		Model:   cfg.Ollama.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: ollama: %w", err)
	}
	opts := []model.Option{model.WithTemperature(cfg.Tuning.Temperature)}
	if cfg.Tuning.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(cfg.Tuning.MaxTokens))
	}
	return &callOptions{BaseChatModel: cm, opts: opts}, nil
}

// newOpenAI constructs a chat model backed by the OpenAI API.
func newOpenAI(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	maxTokens, temp := cfg.Tuning.MaxTokens, cfg.Tuning.Temperature
	cm, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		Model:       cfg.OpenAI.Model,
		APIKey:      cfg.OpenAI.APIKey,
		MaxTokens:   &maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: openai: %w", err)
	}
	return cm, nil
}

// newAzure constructs a chat model backed by Azure OpenAI Service.
// Reasoning deployments reject temperature and max_tokens, so both are left
// unset for them.
func newAzure(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	az := cfg.AzureOpenAI
	mc := &einoopenai.ChatModelConfig{
		Model:      az.Deployment,
		APIKey:     az.APIKey,
		BaseURL:    az.Endpoint,
		ByAzure:    true,
		APIVersion: az.APIVersion,
		// The default mapper strips dots, which breaks names like "gpt-4.1".
		AzureModelMapperFunc: func(model string) string { return model },
	}
	if !isAzureReasoningModel(az.Deployment) {
		maxTokens, temp := cfg.Tuning.MaxTokens, cfg.Tuning.Temperature
		mc.MaxTokens = &maxTokens
		mc.Temperature = &temp
	}
	cm, err := einoopenai.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("provider: azure: %w", err)
	}
	return cm, nil
}

// newArk constructs a chat model backed by the Volcengine Ark runtime.
func newArk(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	maxTokens, temp := cfg.Tuning.MaxTokens, cfg.Tuning.Temperature
	cm, err := einoark.NewChatModel(ctx, &einoark.ChatModelConfig{
		Model:       cfg.Ark.Model,
		APIKey:      cfg.Ark.APIKey,
		BaseURL:     cfg.Ark.BaseURL,
		MaxTokens:   &maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: ark: %w", err)
	}
	return cm, nil
}

// newGemini constructs a chat model backed by Google Gemini (AI Studio).
func newGemini(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Gemini.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: gemini client: %w", err)
	}
	maxTokens, temp := cfg.Tuning.MaxTokens, cfg.Tuning.Temperature
	cm, err := einogemini.NewChatModel(ctx, &einogemini.Config{
		Client:      client,
		Model:       cfg.Gemini.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: gemini: %w", err)
	}
	return cm, nil
}

// callOptions prepends fixed options to every call of the wrapped model.
// Caller-supplied options come last and win.
type callOptions struct {
	model.BaseChatModel
	// opts are applied before the caller's options on each call.
	opts []model.Option
}

// Generate forwards to the wrapped model with the fixed options attached.
func (c *callOptions) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return c.BaseChatModel.Generate(ctx, in, append(append([]model.Option{}, c.opts...), opts...)...)
}

// Stream forwards to the wrapped model with the fixed options attached.
func (c *callOptions) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return c.BaseChatModel.Stream(ctx, in, append(append([]model.Option{}, c.opts...), opts...)...)
}

// ollamaHealth probes Ollama's model list endpoint, which costs no tokens.
type ollamaHealth struct {
	// host is the Ollama base URL.
	host string
	// client performs the probe request.
	client *http.Client
}

// HealthCheck sends GET /api/tags and expects 200 OK.
func (h *ollamaHealth) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(h.host, "/")+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("provider: ollama health request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: ollama unreachable: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only probe
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider: ollama health returned %d", resp.StatusCode)
	}
	return nil
}

// NewHealthChecker returns a zero-cost health probe for the configured
// backend, or nil when the backend has none.
func NewHealthChecker(cfg *Config) HealthChecker {
	if cfg.Backend != BackendOllama {
		return nil
	}
	return &ollamaHealth{host: cfg.Ollama.Host, client: &http.Client{Timeout: 5 * time.Second}}
}
