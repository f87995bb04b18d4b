package settings

import (
	"context"
	"errors"
	"fmt"
)

// Defaults applied when the settings row cannot be read.
const (
	DefaultSemanticWeight = 0.7
	DefaultSearchTopK     = 10
)

var ErrInvalidSettings = errors.New("invalid settings")

type Settings struct {
	ID             int     `json:"-"`
	GeminiAPIKey   string  `json:"gemini_api_key"`
	SemanticWeight float32 `json:"semantic_weight"`
	SearchTopK     int     `json:"search_top_k"`
}

func Defaults() *Settings {
	return &Settings{ID: 1, SemanticWeight: DefaultSemanticWeight, SearchTopK: DefaultSearchTopK}
}

// Patch carries a partial update. Nil fields keep their stored value.
type Patch struct {
	GeminiAPIKey   *string  `json:"gemini_api_key"`
	SemanticWeight *float32 `json:"semantic_weight"`
	SearchTopK     *int     `json:"search_top_k"`
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

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := validate(set); err != nil {
		return err
	}
	return s.repo.Update(ctx, set)
}

// Apply merges p into the stored settings and persists the result.
func (s *Service) Apply(ctx context.Context, p Patch) (*Settings, error) {
	cur, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	next := *cur
	if p.GeminiAPIKey != nil {
		next.GeminiAPIKey = *p.GeminiAPIKey
	}
	if p.SemanticWeight != nil {
		next.SemanticWeight = *p.SemanticWeight
	}
	if p.SearchTopK != nil {
		next.SearchTopK = *p.SearchTopK
	}
	if err := s.Update(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

func validate(set *Settings) error {
	if set.SemanticWeight < 0 || set.SemanticWeight > 1 {
		return fmt.Errorf("%w: semantic_weight must be within [0, 1]", ErrInvalidSettings)
	}
	if set.SearchTopK < 1 {
		return fmt.Errorf("%w: search_top_k must be positive", ErrInvalidSettings)
	}
	return nil
}
