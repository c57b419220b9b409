// Package tracing wires optional Langfuse tracing into Eino's global
// callback handlers, so every answer chain run is recorded as a trace.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/bookqa-go/internal/version"
)

// defaultHost is the Langfuse endpoint used when LANGFUSE_HOST is unset.
const defaultHost = "http://localhost:3000"

// Config holds Langfuse credentials.
type Config struct {
	// Host is the Langfuse API base URL (LANGFUSE_HOST).
	Host string
	// PublicKey is the project public key (LANGFUSE_PUBLIC_KEY).
	PublicKey string
	// SecretKey is the project secret key (LANGFUSE_SECRET_KEY).
	SecretKey string
}

// ConfigFromEnv reads the Langfuse settings from the environment.
func ConfigFromEnv() Config {
	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = defaultHost
	}
	return Config{
		Host:      host,
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// Setup initialises the Langfuse callback handler from the environment.
// Returns a flush function that must be called before process exit to ensure
// all traces are sent. If Langfuse is not configured, both return values are
// nil and ok is false.
func Setup() (handler callbacks.Handler, flush func(), ok bool) {
	return New(ConfigFromEnv())
}

// New builds the Langfuse handler for cfg. See Setup.
func New(cfg Config) (callbacks.Handler, func(), bool) {
	if !cfg.Enabled() {
		return nil, nil, false
	}
	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      cfg.Host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
		Name:      "bookqa",
		Release:   version.Version,
	})
	return handler, flusher, true
}

// Install registers handler globally when ok is true and returns flush, or a
// no-op when tracing is disabled.
func Install(handler callbacks.Handler, flush func(), ok bool) func() {
	if !ok {
		return func() {}
	}
	callbacks.AppendGlobalHandlers(handler)
	return flush
}
