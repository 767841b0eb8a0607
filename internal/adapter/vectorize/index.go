// Package vectorize is a RemoteIndex backed by Cloudflare Vectorize v2.
package vectorize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"seen/internal/adapter/cloudflare"
	"seen/internal/apperr"
	"seen/internal/index"
)

const service = "vectorize"

type Index struct {
	client *cloudflare.Client
	name   string
}

func New(client *cloudflare.Client, indexName string) *Index {
	return &Index{client: client, name: indexName}
}

func (x *Index) url(op string) string {
	return x.client.AccountURL("vectorize/v2/indexes/" + x.name + "/" + op)
}

type vector struct {
	ID       string          `json:"id"`
	Values   []float32       `json:"values"`
	Metadata *index.Metadata `json:"metadata,omitempty"`
}

// Insert writes entries as newline-delimited JSON in one request.
func (x *Index) Insert(ctx context.Context, entries []index.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(vector{ID: e.ID, Values: e.Values, Metadata: e.Metadata}); err != nil {
			return fmt.Errorf("encode vector %s: %w", e.ID, err)
		}
	}
	if _, err := x.client.Post(ctx, service, x.url("insert"), "application/x-ndjson", buf.Bytes()); err != nil {
		return err
	}
	slog.DebugContext(ctx, "vectors inserted", "index", x.name, "count", len(entries))
	return nil
}

type queryRequest struct {
	Vector         []float32 `json:"vector"`
	TopK           int       `json:"topK"`
	ReturnMetadata string    `json:"returnMetadata"`
}

type queryResult struct {
	Count   int `json:"count"`
	Matches []struct {
		ID       string          `json:"id"`
		Score    float32         `json:"score"`
		Metadata *index.Metadata `json:"metadata"`
	} `json:"matches"`
}

func (x *Index) Query(ctx context.Context, vec []float32, topK int) ([]index.Match, error) {
	var res queryResult
	req := queryRequest{Vector: vec, TopK: topK, ReturnMetadata: "all"}
	if err := x.client.PostJSON(ctx, service, x.url("query"), req, &res); err != nil {
		return nil, err
	}
	out := make([]index.Match, 0, len(res.Matches))
	for _, m := range res.Matches {
		out = append(out, index.Match{ID: m.ID, Score: m.Score, Metadata: m.Metadata})
	}
	return out, nil
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

// DeleteByIDs fails on success=false even when the status is 200.
func (x *Index) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := x.client.PostJSON(ctx, service, x.url("delete_by_ids"), idsRequest{IDs: ids}, nil); err != nil {
		return err
	}
	slog.DebugContext(ctx, "vectors deleted", "index", x.name, "count", len(ids))
	return nil
}

func (x *Index) GetByIDs(ctx context.Context, ids []string) ([]index.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var res []vector
	if err := x.client.PostJSON(ctx, service, x.url("get_by_ids"), idsRequest{IDs: ids}, &res); err != nil {
		return nil, err
	}
	out := make([]index.Entry, 0, len(res))
	for _, v := range res {
		if v.ID == "" || len(v.Values) == 0 {
			return nil, apperr.Serialization(fmt.Errorf("vector without id or values"), service)
		}
		out = append(out, index.Entry{ID: v.ID, Values: v.Values, Metadata: v.Metadata})
	}
	return out, nil
}

var _ index.RemoteIndex = (*Index)(nil)
