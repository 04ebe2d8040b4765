package embedding

import (
	"context"

	"github.com/kalambet/cortex/internal/ollama"
)

// OllamaBackend adapts a local Ollama instance to the Backend interface.
// Ollama embedding models are sentence-level, so the word-average
// fallback path is never taken for this backend.
type OllamaBackend struct {
	client   *ollama.Client
	model    string
	language string
}

var _ SentenceEmbedder = (*OllamaBackend)(nil)

// NewOllamaBackend creates a backend using the given client and
// embedding model name.
func NewOllamaBackend(client *ollama.Client, model, language string) *OllamaBackend {
	return &OllamaBackend{client: client, model: model, language: language}
}

// Language returns the language this backend was configured for.
func (b *OllamaBackend) Language() string { return b.language }

// EmbedSentence returns the model's embedding for the whole text.
func (b *OllamaBackend) EmbedSentence(ctx context.Context, text string) ([]float32, error) {
	return b.client.Embed(ctx, b.model, text)
}
