package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"bookscroll/features/snippet"
	"bookscroll/internal/settings"
)

var ErrInvalidQuery = errors.New("invalid query")

// candidateFactor widens each signal's candidate pool so fusion can promote
// items that rank low on one signal but high on the other.
const candidateFactor = 3

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorSearcher interface {
	NearVector(ctx context.Context, vec []float32, documentID int64, limit int) (map[int64]float64, error)
}

type SnippetStore interface {
	Page(ctx context.Context, scope snippet.Scope, cursor int64, limit int) ([]snippet.Item, error)
	MaxID(ctx context.Context, scope snippet.Scope) (int64, error)
	Sample(ctx context.Context, scope snippet.Scope, n int) ([]snippet.Item, error)
	GetByIDs(ctx context.Context, ids []int64) ([]snippet.Item, error)
	LexicalSearch(ctx context.Context, query string, scope snippet.Scope, limit int) (map[int64]float64, error)
}

type SettingsReader interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

type SearchOptions struct {
	Limit          *int
	SemanticWeight *float64
	DocumentID     int64
}

type FeedQuery struct {
	Limit  int
	Cursor int64
	Scope  snippet.Scope
}

type FeedPage struct {
	Items      []snippet.Item `json:"items"`
	NextCursor *int64         `json:"next_cursor"`
	HasMore    bool           `json:"has_more"`
}

type Service struct {
	embedder Embedder
	vectors  VectorSearcher
	snippets SnippetStore
	settings SettingsReader
	logger   *QueryLogger
}

func NewService(e Embedder, v VectorSearcher, s SnippetStore, set SettingsReader, l *QueryLogger) *Service {
	return &Service{embedder: e, vectors: v, snippets: s, settings: set, logger: l}
}

// Feed returns the page of snippets after cursor in ascending id order.
func (s *Service) Feed(ctx context.Context, q FeedQuery) (*FeedPage, error) {
	if q.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidQuery)
	}
	if q.Cursor < 0 {
		return nil, fmt.Errorf("%w: cursor must not be negative", ErrInvalidQuery)
	}
	start := time.Now()

	var items []snippet.Item
	var maxID int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.snippets.Page(gctx, q.Scope, q.Cursor, q.Limit)
		return err
	})
	g.Go(func() error {
		var err error
		maxID, err = s.snippets.MaxID(gctx, q.Scope)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	page := &FeedPage{Items: items}
	if len(items) == 0 {
		page.Items = []snippet.Item{}
	} else {
		next := items[len(items)-1].ID
		page.NextCursor = &next
		page.HasMore = next < maxID
	}

	s.logger.Log(ctx, QueryLogEntry{
		Kind:       KindFeed,
		DocumentID: q.Scope.DocumentID,
		Theme:      q.Scope.Theme,
		NumResults: len(page.Items),
		Duration:   time.Since(start),
	})
	return page, nil
}

// Sample returns up to n random snippets in scope.
func (s *Service) Sample(ctx context.Context, scope snippet.Scope, n int) ([]snippet.Item, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidQuery)
	}
	start := time.Now()

	items, err := s.snippets.Sample(ctx, scope, n)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []snippet.Item{}
	}

	s.logger.Log(ctx, QueryLogEntry{
		Kind:       KindRandom,
		DocumentID: scope.DocumentID,
		Theme:      scope.Theme,
		NumResults: len(items),
		Duration:   time.Since(start),
	})
	return items, nil
}

// Search ranks snippets by a weighted blend of vector similarity and full text
// rank. When the query cannot be embedded the search falls back to lexical
// scores alone.
func (s *Service) Search(ctx context.Context, query string, opts *SearchOptions) ([]snippet.Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidQuery)
	}
	start := time.Now()

	cfg, err := s.settings.Get(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to read search settings, using defaults", "error", err)
		cfg = settings.Defaults()
	}

	weight := storedWeight(cfg.SemanticWeight)
	limit := cfg.SearchTopK
	var scope snippet.Scope
	if opts != nil {
		if opts.SemanticWeight != nil {
			weight = *opts.SemanticWeight
		}
		if opts.Limit != nil {
			limit = *opts.Limit
		}
		scope.DocumentID = opts.DocumentID
	}
	if weight < 0 || weight > 1 {
		return nil, fmt.Errorf("%w: semantic weight must be within [0, 1]", ErrInvalidQuery)
	}
	if limit <= 0 {
		limit = settings.DefaultSearchTopK
	}
	candidates := limit * candidateFactor

	var lexical, semantic map[int64]float64
	lexicalOnly := weight == 0

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lexical, err = s.snippets.LexicalSearch(gctx, query, scope, candidates)
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		return nil
	})
	if !lexicalOnly {
		g.Go(func() error {
			semantic = s.semanticScores(gctx, query, scope.DocumentID, candidates)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if semantic == nil {
		lexicalOnly = true
	}

	// Cut after hydration so hidden candidates do not eat into the limit.
	ranked := Fuse(semantic, lexical, weight, 0)
	items, err := s.hydrate(ctx, ranked, limit)
	if err != nil {
		return nil, err
	}

	s.logger.Log(ctx, QueryLogEntry{
		Kind:           KindSearch,
		Query:          query,
		DocumentID:     scope.DocumentID,
		SemanticWeight: weight,
		LexicalOnly:    lexicalOnly,
		NumResults:     len(items),
		Duration:       time.Since(start),
	})
	return items, nil
}

// semanticScores returns nil when the semantic signal is unavailable.
func (s *Service) semanticScores(ctx context.Context, query string, documentID int64, limit int) map[int64]float64 {
	if s.embedder == nil || s.vectors == nil {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		slog.ErrorContext(ctx, "query embedding failed, using lexical scores only", "error", err)
		return nil
	}
	scores, err := s.vectors.NearVector(ctx, vec, documentID, limit)
	if err != nil {
		slog.ErrorContext(ctx, "vector search failed, using lexical scores only", "error", err)
		return nil
	}
	return scores
}

// storedWeight undoes the float32 widening of the REAL settings column, so a
// stored 0.7 blends as 0.7.
func storedWeight(w float32) float64 {
	return math.Round(float64(w)*1e6) / 1e6
}

// hydrate loads the ranked snippets, keeping the fused order, and returns at
// most limit of them. Ids that no longer resolve to a visible snippet are skipped.
func (s *Service) hydrate(ctx context.Context, ranked []Ranked, limit int) ([]snippet.Item, error) {
	if len(ranked) == 0 {
		return []snippet.Item{}, nil
	}

	ids := make([]int64, len(ranked))
	for i, r := range ranked {
		ids[i] = r.ID
	}
	found, err := s.snippets.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load snippets: %w", err)
	}

	byID := make(map[int64]snippet.Item, len(found))
	for _, it := range found {
		byID[it.ID] = it
	}

	items := make([]snippet.Item, 0, min(limit, len(ranked)))
	for _, r := range ranked {
		if len(items) == limit {
			break
		}
		it, ok := byID[r.ID]
		if !ok {
			continue
		}
		it.Score = r.Score
		items = append(items, it)
	}
	return items, nil
}
