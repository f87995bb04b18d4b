package settings

import (
	"context"
	"database/sql"
	"errors"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Get reads the singleton row. A missing row yields Defaults.
func (r *PostgresRepo) Get(ctx context.Context) (*Settings, error) {
	s := &Settings{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, gemini_api_key, semantic_weight, search_top_k FROM settings WHERE id = 1`,
	).Scan(&s.ID, &s.GeminiAPIKey, &s.SemanticWeight, &s.SearchTopK)
	if errors.Is(err, sql.ErrNoRows) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Update upserts the singleton row.
func (r *PostgresRepo) Update(ctx context.Context, s *Settings) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (id, gemini_api_key, semantic_weight, search_top_k, updated_at)
		VALUES (1, $1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		SET gemini_api_key = EXCLUDED.gemini_api_key,
		    semantic_weight = EXCLUDED.semantic_weight,
		    search_top_k = EXCLUDED.search_top_k,
		    updated_at = EXCLUDED.updated_at`,
		s.GeminiAPIKey, s.SemanticWeight, s.SearchTopK)
	return err
}
