package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/kaptinlin/jsonrepair"
	"google.golang.org/api/option"

	"seen/internal/apperr"
	"seen/internal/text"
)

const (
	DefaultGenerationModel = "gemini-2.0-flash"
	// Input beyond this many bytes is cut before prompting.
	maxInputBytes = 200_000
)

const systemPrompt = `You index web pages for semantic search.
Given the page content, reply with a JSON object:
{"title": string, "summary": string, "chunks": [string]}
title is the page title, summary is at most three sentences, and chunks split
the meaningful content into self-contained passages of roughly 100 to 300
words in reading order. Drop navigation, ads and boilerplate.`

type ProcessorOptions struct {
	Model         string
	FallbackKey   string
	ClientOptions []option.ClientOption
}

// Processor turns raw content into a title, summary and chunks with a
// JSON-mode generation call.
type Processor struct {
	clients *clients
	model   string
}

func NewProcessor(keys KeySource, opts ProcessorOptions) *Processor {
	if opts.Model == "" {
		opts.Model = DefaultGenerationModel
	}
	return &Processor{
		clients: &clients{keys: keys, fallback: opts.FallbackKey, opts: opts.ClientOptions},
		model:   opts.Model,
	}
}

func (p *Processor) Process(ctx context.Context, content []byte, contentType string) (*text.Processed, error) {
	client, err := p.clients.get(ctx)
	if err != nil {
		return nil, err
	}

	body := text.Extract(content, contentType)
	if len(body) > maxInputBytes {
		body = truncate(body, maxInputBytes)
	}

	model := client.GenerativeModel(p.model)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))

	resp, err := model.GenerateContent(ctx, genai.Text(body))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	var raw strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				raw.WriteString(string(t))
			}
		}
		break
	}
	if raw.Len() == 0 {
		return nil, apperr.Serialization(fmt.Errorf("empty generation"), "gemini")
	}

	var out text.Processed
	if err := unmarshalJSON([]byte(raw.String()), &out); err != nil {
		return nil, apperr.Serialization(err, "gemini")
	}
	out.Chunks = nonEmpty(out.Chunks)
	if len(out.Chunks) == 0 {
		// Model returned metadata only; chunk locally.
		out.Chunks = text.Chunk(body, text.DefaultChunkSize, text.DefaultChunkOverlap)
	}
	slog.DebugContext(ctx, "content processed", "model", p.model, "title", out.Title, "chunks", len(out.Chunks))
	return &out, nil
}

func (p *Processor) Close() error { return p.clients.Close() }

// unmarshalJSON retries with a repaired document when the model emits
// malformed JSON.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); ok {
		fixed, rerr := jsonrepair.JSONRepair(string(data))
		if rerr != nil {
			return fmt.Errorf("repair json: %w", rerr)
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}

func nonEmpty(chunks []string) []string {
	out := chunks[:0]
	for _, c := range chunks {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func truncate(s string, n int) string {
	return strings.ToValidUTF8(s[:n], "")
}
