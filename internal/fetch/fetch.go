// Package fetch downloads documents for ingestion.
package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"seen/internal/apperr"
)

const (
	// UserAgent mimics a desktop browser; some sites refuse bare clients.
	UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	DefaultMaxBytes = 20 << 20
	DefaultTimeout  = 30 * time.Second
)

type Response struct {
	URL         string
	ContentType string
	Body        []byte
}

type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

func New(client *http.Client, maxBytes int64) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{client: client, maxBytes: maxBytes}
}

// Validate accepts absolute http(s) URLs only.
func Validate(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return apperr.InvalidInput(fmt.Sprintf("url must be an absolute http(s) URL, got %q", raw))
	}
	return nil
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	if err := Validate(rawURL); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperr.Request("fetch", resp.StatusCode, string(snippet))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, apperr.InvalidInput(fmt.Sprintf("document exceeds %d bytes", f.maxBytes))
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	return &Response{URL: resp.Request.URL.String(), ContentType: ct, Body: body}, nil
}

var extensions = map[string]string{
	"text/html":              "html",
	"application/xhtml+xml":  "html",
	"application/pdf":        "pdf",
	"image/jpeg":             "jpg",
	"image/png":              "png",
	"image/gif":              "gif",
	"application/json":       "json",
	"text/plain":             "txt",
	"text/markdown":          "md",
	"text/css":               "css",
	"text/javascript":        "js",
	"application/javascript": "js",
	"application/xml":        "xml",
	"text/xml":               "xml",
}

// ExtensionFor maps a Content-Type header to a file extension, "bin" when
// unknown.
func ExtensionFor(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	if ext, ok := extensions[strings.ToLower(mt)]; ok {
		return ext
	}
	return "bin"
}

// FormatSize renders a byte count for humans.
func FormatSize(n int64) string {
	const unit = 1024
	switch {
	case n < unit:
		return fmt.Sprintf("%d bytes", n)
	case n < unit*unit:
		return fmt.Sprintf("%.1f KB", float64(n)/unit)
	case n < unit*unit*unit:
		return fmt.Sprintf("%.1f MB", float64(n)/(unit*unit))
	default:
		return fmt.Sprintf("%.1f GB", float64(n)/(unit*unit*unit))
	}
}
