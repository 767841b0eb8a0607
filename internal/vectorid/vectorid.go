// Package vectorid formats and parses chunk vector identifiers of the form
// "{document_id}-{chunk_index}". Document ids may themselves contain
// hyphens, so parsing splits on the last one.
package vectorid

import (
	"fmt"
	"strconv"
	"strings"
)

func Format(documentID string, chunkIndex int) string {
	return documentID + "-" + strconv.Itoa(chunkIndex)
}

// Parse returns the document id and chunk index encoded in id.
func Parse(id string) (string, int, error) {
	idx := strings.LastIndex(id, "-")
	if idx <= 0 || idx == len(id)-1 {
		return "", 0, fmt.Errorf("malformed vector id %q", id)
	}
	chunk, err := strconv.Atoi(id[idx+1:])
	if err != nil || chunk < 0 {
		return "", 0, fmt.Errorf("malformed vector id %q: bad chunk index", id)
	}
	return id[:idx], chunk, nil
}

// DocumentID returns the document part of id, or "" if id is malformed.
func DocumentID(id string) string {
	doc, _, err := Parse(id)
	if err != nil {
		return ""
	}
	return doc
}

// ForDocument returns the dense ids 0..chunkCount-1 of one document.
func ForDocument(documentID string, chunkCount int) []string {
	if chunkCount <= 0 {
		return nil
	}
	ids := make([]string, chunkCount)
	for i := range ids {
		ids[i] = Format(documentID, i)
	}
	return ids
}

// DocumentChunks pairs a document with its chunk count.
type DocumentChunks struct {
	DocumentID string
	ChunkCount int
}

// Enumerate flattens docs, in order, into the canonical id list.
func Enumerate(docs []DocumentChunks) []string {
	total := 0
	for _, d := range docs {
		if d.ChunkCount > 0 {
			total += d.ChunkCount
		}
	}
	ids := make([]string, 0, total)
	for _, d := range docs {
		ids = append(ids, ForDocument(d.DocumentID, d.ChunkCount)...)
	}
	return ids
}
