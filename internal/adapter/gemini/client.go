// Package gemini embeds and processes content with the Gemini API. The API
// key is read per call so it can be rotated through settings without a
// restart.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"seen/internal/settings"
)

var ErrNoAPIKey = errors.New("gemini api key not configured")

// KeySource supplies the current settings; *settings.Service satisfies it.
type KeySource interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// clients keeps one genai client for the most recently used key.
type clients struct {
	keys     KeySource
	fallback string
	opts     []option.ClientOption

	mu         sync.RWMutex
	client     *genai.Client
	currentKey string
}

func (c *clients) get(ctx context.Context) (*genai.Client, error) {
	key := c.fallback
	if c.keys != nil {
		s, err := c.keys.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get settings: %w", err)
		}
		if s.GeminiAPIKey != "" {
			key = s.GeminiAPIKey
		}
	}
	if key == "" {
		return nil, ErrNoAPIKey
	}
	return c.forKey(ctx, key)
}

func (c *clients) forKey(ctx context.Context, key string) (*genai.Client, error) {
	c.mu.RLock()
	if c.client != nil && c.currentKey == key {
		defer c.mu.RUnlock()
		return c.client, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.currentKey == key {
		return c.client, nil
	}
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append(append([]option.ClientOption{}, c.opts...), option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	c.client = client
	c.currentKey = key
	return client, nil
}

func (c *clients) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.currentKey = ""
	return err
}
