// Package audit provides a structured audit logger for CLI command invocations.
// It logs command name, resolved configuration, and sanitised environment state
// so operators can trace what happened without exposing secret values.
//
// Secrets are logged as presence/absence, or in the redacted form produced by
// [Redact] when an operator needs to tell two credentials apart.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// LogCommandStart emits a structured audit log entry when a CLI command begins.
// It records the command name, config file source, and sanitised environment.
func LogCommandStart(log *slog.Logger, command string, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}

	for _, entry := range auditKeys {
		attrs = append(attrs, slog.String(entry.key, SanitiseKey(entry.key, os.Getenv(entry.key))))
	}

	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// auditEntry defines an env var to include in the audit log.
type auditEntry struct {
	// key is the environment variable name.
	key string
	// secret indicates the value should be redacted to presence/absence.
	secret bool
}

// auditKeys is the ordered list of env vars included in every audit log entry.
var auditKeys = []auditEntry{
	{"MODEL_PROVIDER", false},
	{"OLLAMA_HOST", false},
	{"OLLAMA_MODEL", false},
	{"OPENAI_API_KEY", true},
	{"OPENAI_MODEL", false},
	{"AZURE_OPENAI_API_KEY", true},
	{"AZURE_OPENAI_ENDPOINT", false},
	{"AZURE_OPENAI_DEPLOYMENT", false},
	{"ARK_API_KEY", true},
	{"ARK_MODEL", false},
	{"GOOGLE_API_KEY", true},
	{"GEMINI_MODEL", false},
	{"EMBEDDING_PROVIDER", false},
	{"EMBEDDING_MODEL", false},
	{"EMBEDDING_API_KEY", true},
	{"BLOB_BACKEND", false},
	{"SEARCH_BACKEND", false},
	{"QDRANT_HOST", false},
	{"QDRANT_COLLECTION", false},
	{"QDRANT_API_KEY", true},
	{"BOOKQA_API_KEY", true},
	{"ADMIN_PASSWORD", true},
	{"LOG_LEVEL", false},
	{"LOG_FORMAT", false},
	{"LANGFUSE_PUBLIC_KEY", true},
	{"LANGFUSE_SECRET_KEY", true},
}

// secretEnvKeys is the set of auditKeys marked secret, plus secrets that are
// never listed in the audit entry.
var secretEnvKeys = func() map[string]bool {
	m := map[string]bool{"GEMINI_API_KEY": true}
	for _, e := range auditKeys {
		if e.secret {
			m[e.key] = true
		}
	}
	return m
}()

// SanitiseKey returns "set" or "unset" for known secret keys, or the actual
// value for non-secret keys. This is safe to use in log messages.
func SanitiseKey(key, value string) string {
	if secretEnvKeys[key] {
		return presence(value)
	}
	return valOrUnset(value)
}

// Redact returns the first five and last four characters of secret joined by
// "...". Secrets too short to keep anything hidden are fully masked.
func Redact(secret string) string {
	const head, tail = 5, 4
	if secret == "" {
		return "unset"
	}
	if len(secret) <= head+tail+3 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:head] + "..." + secret[len(secret)-tail:]
}

// LogCredential logs which credential a backend is about to use, in redacted
// form, and warns about OpenAI keys that lack the "sk-" prefix.
func LogCredential(log *slog.Logger, backend, key, value string) {
	if value == "" {
		log.Warn("audit: credential not set",
			slog.String("backend", backend),
			slog.String("env", key),
		)
		return
	}
	log.Info("audit: using credential",
		slog.String("backend", backend),
		slog.String("env", key),
		slog.String("value", Redact(value)),
	)
	if key == "OPENAI_API_KEY" && !strings.HasPrefix(value, "sk-") {
		log.Warn("audit: OpenAI API key does not start with \"sk-\", requests will likely be rejected",
			slog.String("env", key),
		)
	}
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// valOrUnset returns the value if non-empty, "unset" otherwise.
func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	// Redact home directory for privacy in logs.
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
