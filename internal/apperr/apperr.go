// Package apperr defines the coded error taxonomy shared by the indexing,
// retrieval and ingestion paths. Errors carry a dotted code whose last
// segment is the reason (transient, not_found, invalid, failure...).
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

type Code string

const (
	CodeEmbeddingTransient Code = "embedding.generate.transient"
	CodeUpstreamRequest    Code = "upstream.request.failure"
	CodeUpstreamResponse   Code = "upstream.response.invalid"
	CodeDocumentNotFound   Code = "document.get.not_found"
	CodeBlobNotFound       Code = "blob.get.not_found"
	CodeIngestPartial      Code = "ingest.write.partial"
	CodeInvalidInput       Code = "request.invalid_input"
	CodeIndexCorrupt       Code = "index.snapshot.invalid"
	CodeInternal           Code = "server.internal.failure"
)

// Attr is a structured key/value attached to an error.
type Attr struct {
	Key   string
	Value any
}

func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

// Transient reports an external call that failed after its retry budget.
// oops resolves the deepest code in a chain, so an already coded cause is
// recorded as a field instead of wrapped.
func Transient(err error, msg string, fields ...Attr) error {
	if err != nil && CodeOf(err) != "" {
		fields = append(fields, Field("cause", err.Error()), Field("cause_code", string(CodeOf(err))))
		return oops.Code(CodeEmbeddingTransient).With(flatten(fields)...).Errorf("%s: %v", msg, err)
	}
	return Wrap(err, CodeEmbeddingTransient, msg, fields...)
}

// Request reports a non-success response from an external service.
func Request(service string, status int, body string) error {
	return oops.Code(CodeUpstreamRequest).
		With("service", service, "status", status).
		Errorf("%s request failed with status %d: %s", service, status, truncate(body, 256))
}

// Serialization reports a malformed payload from an external service.
func Serialization(err error, service string) error {
	if err == nil {
		return New(CodeUpstreamResponse, service+" returned a malformed response", Field("service", service))
	}
	return Wrap(err, CodeUpstreamResponse, service+" returned a malformed response", Field("service", service))
}

func NotFound(kind, id string) error {
	return New(CodeDocumentNotFound, kind+" not found", Field("id", id))
}

func InvalidInput(msg string) error {
	return New(CodeInvalidInput, msg)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch c := oopsErr.Code().(type) {
	case Code:
		return c
	case string:
		return Code(c)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", c))
	}
}

func FieldsOf(err error) map[string]any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func IsTransient(err error) bool {
	return reason(CodeOf(err)) == "transient"
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	return HasCode(err, CodeInvalidInput)
}

func IsRequestFailure(err error) bool {
	return HasCode(err, CodeUpstreamRequest)
}

func IsSerialization(err error) bool {
	return HasCode(err, CodeUpstreamResponse)
}

func HTTPStatus(err error) int {
	var pw *PartialWriteError
	if errors.As(err, &pw) {
		return http.StatusBadGateway
	}
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsTransient(err):
		return http.StatusServiceUnavailable
	case IsRequestFailure(err), IsSerialization(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicCode maps an error to the short code written in HTTP error bodies.
func PublicCode(err error) string {
	switch HTTPStatus(err) {
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusBadRequest:
		return "VALIDATION_ERROR"
	case http.StatusServiceUnavailable:
		return "UPSTREAM_UNAVAILABLE"
	case http.StatusBadGateway:
		return "UPSTREAM_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		pairs = append(pairs, f.Key, f.Value)
	}
	return pairs
}

func reason(code Code) string {
	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
