package embedder

import (
	"log/slog"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") {
		return false
	}
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// WarnIfChatModel logs a startup warning when model looks like a chat model.
// It never fails: the provider is the authority on which models it accepts.
func WarnIfChatModel(log *slog.Logger, model string) bool {
	if model == "" || !looksLikeChatModel(model) {
		return false
	}
	log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
		slog.String("model", model),
		slog.String("hint", "use a dedicated embedding model e.g. text-embedding-3-large, nomic-embed-text"),
	)
	return true
}
