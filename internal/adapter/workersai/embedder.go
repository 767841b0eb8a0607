// Package workersai embeds text with a Cloudflare Workers AI model.
package workersai

import (
	"context"
	"fmt"
	"log/slog"

	"seen/internal/adapter/cloudflare"
	"seen/internal/apperr"
)

const DefaultModel = "@cf/baai/bge-base-en-v1.5"

type Embedder struct {
	client *cloudflare.Client
	model  string
	dim    int
}

// NewEmbedder returns an embedder for model. A positive dim rejects
// vectors of any other length as malformed.
func NewEmbedder(client *cloudflare.Client, model string, dim int) *Embedder {
	if model == "" {
		model = DefaultModel
	}
	return &Embedder{client: client, model: model, dim: dim}
}

type embedRequest struct {
	Text []string `json:"text"`
}

type embedResult struct {
	Shape []int       `json:"shape"`
	Data  [][]float32 `json:"data"`
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))

	var res embedResult
	url := e.client.AccountURL("ai/run/" + e.model)
	if err := e.client.PostJSON(ctx, "workers-ai", url, embedRequest{Text: []string{text}}, &res); err != nil {
		return nil, err
	}
	if len(res.Data) == 0 || len(res.Data[0]) == 0 {
		return nil, apperr.Serialization(fmt.Errorf("empty embedding data"), "workers-ai")
	}
	vec := res.Data[0]
	if e.dim > 0 && len(vec) != e.dim {
		return nil, apperr.Serialization(fmt.Errorf("embedding has %d dimensions, want %d", len(vec), e.dim), "workers-ai")
	}
	return vec, nil
}
