package settings

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"seen/internal/apperr"
)

const (
	maxTopK = 100
	// MaskedKey replaces a stored API key in read responses.
	MaskedKey = "********"
)

// Settings are the runtime-editable knobs, stored as a single row.
type Settings struct {
	ID            int       `json:"-"`
	GeminiAPIKey  string    `json:"gemini_api_key"`
	SearchBackend string    `json:"search_backend"`
	SearchTopK    int       `json:"search_top_k"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Defaults mirrors the seeded settings row.
func Defaults() Settings {
	return Settings{ID: 1, SearchBackend: "remote", SearchTopK: 20}
}

// Masked returns a copy safe to send to clients.
func (s Settings) Masked() Settings {
	if s.GeminiAPIKey != "" {
		s.GeminiAPIKey = MaskedKey
	}
	return s
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

// Update validates and stores set. Sending MaskedKey back keeps the stored
// key unchanged.
func (s *Service) Update(ctx context.Context, set *Settings) error {
	if set.SearchBackend != "remote" && set.SearchBackend != "local" {
		return apperr.InvalidInput(fmt.Sprintf("search_backend must be remote or local, got %q", set.SearchBackend))
	}
	if set.SearchTopK < 1 || set.SearchTopK > maxTopK {
		return apperr.InvalidInput(fmt.Sprintf("search_top_k must be between 1 and %d", maxTopK))
	}
	if set.GeminiAPIKey == MaskedKey {
		cur, err := s.repo.Get(ctx)
		if err != nil {
			return err
		}
		set.GeminiAPIKey = cur.GeminiAPIKey
	}
	return s.repo.Update(ctx, set)
}

// SeedAPIKey stores key only when no key has been saved yet, so a key
// entered at runtime is never overwritten by the environment on restart.
func (s *Service) SeedAPIKey(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	cur, err := s.repo.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("load settings: %w", err)
	}
	if cur.GeminiAPIKey != "" {
		return false, nil
	}
	cur.GeminiAPIKey = key
	if err := s.repo.Update(ctx, cur); err != nil {
		return false, fmt.Errorf("store api key: %w", err)
	}
	slog.InfoContext(ctx, "seeded gemini api key from environment")
	return true, nil
}
