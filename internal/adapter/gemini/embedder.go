package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"seen/internal/apperr"
)

const DefaultEmbeddingModel = "text-embedding-004"

type EmbedderOptions struct {
	Model string
	// Dim, when set, rejects vectors of any other length.
	Dim int
	// FallbackKey is used while settings hold no key.
	FallbackKey   string
	ClientOptions []option.ClientOption
}

// DynamicEmbedder resolves the API key from settings on every call.
type DynamicEmbedder struct {
	clients *clients
	model   string
	dim     int
}

func NewDynamicEmbedder(keys KeySource, opts EmbedderOptions) *DynamicEmbedder {
	if opts.Model == "" {
		opts.Model = DefaultEmbeddingModel
	}
	return &DynamicEmbedder{
		clients: &clients{keys: keys, fallback: opts.FallbackKey, opts: opts.ClientOptions},
		model:   opts.Model,
		dim:     opts.Dim,
	}
}

func (e *DynamicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	client, err := e.clients.get(ctx)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	res, err := client.EmbeddingModel(e.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, apperr.Serialization(fmt.Errorf("empty embedding received"), "gemini")
	}
	if e.dim > 0 && len(res.Embedding.Values) != e.dim {
		return nil, apperr.Serialization(fmt.Errorf("embedding has %d dimensions, want %d", len(res.Embedding.Values), e.dim), "gemini")
	}
	return res.Embedding.Values, nil
}

func (e *DynamicEmbedder) Close() error { return e.clients.Close() }
