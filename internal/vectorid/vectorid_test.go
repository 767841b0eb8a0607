package vectorid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seen/internal/vectorid"
)

func TestFormatParseRoundTrip(t *testing.T) {
	tests := []struct {
		doc   string
		chunk int
	}{
		{"abc", 0},
		{"9f1c2d3e-aaaa-bbbb-cccc-1234567890ab", 12},
		{"a-b-c", 3},
	}
	for _, tt := range tests {
		t.Run(tt.doc, func(t *testing.T) {
			id := vectorid.Format(tt.doc, tt.chunk)
			doc, chunk, err := vectorid.Parse(id)
			require.NoError(t, err)
			assert.Equal(t, tt.doc, doc)
			assert.Equal(t, tt.chunk, chunk)
		})
	}
}

func TestParse_HyphenatedUUID(t *testing.T) {
	doc, chunk, err := vectorid.Parse("550e8400-e29b-41d4-a716-446655440000-7")
	require.NoError(t, err)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", doc)
	assert.Equal(t, 7, chunk)
}

func TestParse_Malformed(t *testing.T) {
	for _, id := range []string{"", "nohyphen", "-3", "doc-", "doc-x"} {
		t.Run(id, func(t *testing.T) {
			_, _, err := vectorid.Parse(id)
			assert.Error(t, err)
		})
	}
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "d1", vectorid.DocumentID("d1-0"))
	assert.Equal(t, "", vectorid.DocumentID("garbage"))
}

func TestForDocument(t *testing.T) {
	assert.Equal(t, []string{"d-0", "d-1", "d-2"}, vectorid.ForDocument("d", 3))
	assert.Nil(t, vectorid.ForDocument("d", 0))
}

func TestEnumerate(t *testing.T) {
	ids := vectorid.Enumerate([]vectorid.DocumentChunks{
		{DocumentID: "a", ChunkCount: 2},
		{DocumentID: "b", ChunkCount: 0},
		{DocumentID: "c", ChunkCount: 1},
	})
	assert.Equal(t, []string{"a-0", "a-1", "c-0"}, ids)
}
