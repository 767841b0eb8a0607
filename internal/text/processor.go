package text

import (
	"context"
	"strings"
)

// Processed is the result of turning raw content into indexable text.
type Processed struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Chunks  []string `json:"chunks"`
}

// Extractor is the built-in processor: no model calls, just extraction
// and chunking.
type Extractor struct {
	MaxTokens int
	Overlap   int
}

func NewExtractor() *Extractor {
	return &Extractor{MaxTokens: DefaultChunkSize, Overlap: DefaultChunkOverlap}
}

func (e *Extractor) Process(_ context.Context, content []byte, contentType string) (*Processed, error) {
	body := Extract(content, contentType)
	return &Processed{
		Title:   Title(content, contentType),
		Summary: Summarize(body, 300),
		Chunks:  Chunk(body, e.MaxTokens, e.Overlap),
	}, nil
}

// Summarize returns the first prose paragraph of body, clipped to n runes
// at a word boundary.
func Summarize(body string, n int) string {
	for _, para := range strings.Split(body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" || strings.HasPrefix(para, "#") || strings.HasPrefix(para, "```") || strings.HasPrefix(para, "- ") {
			continue
		}
		para = collapse(para)
		if len([]rune(para)) <= n {
			return para
		}
		cut := clip(para, n)
		if i := strings.LastIndex(cut, " "); i > n/2 {
			cut = cut[:i]
		}
		return cut + "…"
	}
	return ""
}
