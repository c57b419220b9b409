package embedder

import (
	"log/slog"
	"strings"
)

// embeddingMarkers appear in the names of dedicated embedding models.
var embeddingMarkers = []string{"embed", "bge-", "e5-", "gte-", "minilm"}

// chatFamilies are name fragments of chat model families.
var chatFamilies = []string{
	"gpt-4", "gpt-3.5", "gpt-35", "o1", "o3",
	"llama", "mistral", "mixtral", "gemma", "gemini-1", "gemini-2",
	"phi-", "phi3", "claude", "command-r", "deepseek", "qwen",
}

// looksLikeChatModel reports whether model names a chat model family and
// carries no embedding marker.
func looksLikeChatModel(model string) bool {
	name := strings.ToLower(model)
	for _, m := range embeddingMarkers {
		if strings.Contains(name, m) {
			return false
		}
	}
	for _, f := range chatFamilies {
		if strings.Contains(name, f) {
			return true
		}
	}
	return false
}

// WarnIfChatModel logs a warning when EMBEDDING_MODEL looks like a chat model.
// It never fails: unknown names are assumed to be embedding models.
func WarnIfChatModel(log *slog.Logger, model string) {
	if model == "" || !looksLikeChatModel(model) {
		return
	}
	log.Warn("embedder: EMBEDDING_MODEL looks like a chat model; retrieval quality will suffer",
		slog.String("model", model),
		slog.String("hint", "use nomic-embed-text, text-embedding-3-small or text-embedding-004"),
	)
}
