package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

const settingsID = 1

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Get reads the settings row. A missing row yields Defaults; the next
// Update recreates it.
func (r *PostgresRepo) Get(ctx context.Context) (*Settings, error) {
	var s Settings
	err := r.db.QueryRowContext(ctx,
		`SELECT id, gemini_api_key, search_backend, search_top_k, updated_at FROM settings WHERE id = $1`, settingsID,
	).Scan(&s.ID, &s.GeminiAPIKey, &s.SearchBackend, &s.SearchTopK, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		slog.WarnContext(ctx, "settings row missing, using defaults")
		d := Defaults()
		return &d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	return &s, nil
}

// Update upserts the row and refreshes s.UpdatedAt.
func (r *PostgresRepo) Update(ctx context.Context, s *Settings) error {
	query := `
		INSERT INTO settings (id, gemini_api_key, search_backend, search_top_k, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET gemini_api_key = EXCLUDED.gemini_api_key,
		    search_backend = EXCLUDED.search_backend,
		    search_top_k = EXCLUDED.search_top_k,
		    updated_at = EXCLUDED.updated_at
		RETURNING updated_at`
	if err := r.db.QueryRowContext(ctx, query, settingsID, s.GeminiAPIKey, s.SearchBackend, s.SearchTopK).Scan(&s.UpdatedAt); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	s.ID = settingsID
	return nil
}
