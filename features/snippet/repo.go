package snippet

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

const itemSelect = `SELECT s.id, s.document_id, s.start_index, s.end_index, s.snippet_text, s.context, s.sentence_text,
	COALESCE(s.embedding_model, ''), s.created_at, COALESCE(d.title, ''), COALESCE(d.author, ''),
	ARRAY(SELECT t.name FROM snippet_themes st JOIN themes t ON t.id = st.theme_id WHERE st.snippet_id = s.id ORDER BY t.name)
	FROM snippets s JOIN documents d ON d.id = s.document_id`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// SaveForDocument replaces the document's snippets and their theme links in one
// transaction, so a re-run of the same document leaves a single snippet set.
// Themes are upserted by name. IDs and timestamps are written back into the slice.
func (r *PostgresRepo) SaveForDocument(ctx context.Context, documentID int64, snippets []*Snippet) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snippets WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clear snippets: %w", err)
	}

	themeIDs, err := upsertThemes(ctx, tx, snippets)
	if err != nil {
		return err
	}

	for _, s := range snippets {
		s.DocumentID = documentID
		query := `INSERT INTO snippets (document_id, start_index, end_index, snippet_text, context, sentence_text) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`
		if err := tx.QueryRowContext(ctx, query, documentID, s.StartIndex, s.EndIndex, s.SnippetText, s.Context, s.SentenceText).Scan(&s.ID, &s.CreatedAt); err != nil {
			return fmt.Errorf("insert snippet: %w", err)
		}

		if len(s.Themes) == 0 {
			continue
		}
		ids := make([]int64, 0, len(s.Themes))
		for _, t := range s.Themes {
			ids = append(ids, themeIDs[t])
		}
		link := `INSERT INTO snippet_themes (snippet_id, theme_id) SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`
		if _, err := tx.ExecContext(ctx, link, s.ID, pq.Array(ids)); err != nil {
			return fmt.Errorf("link themes: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snippets: %w", err)
	}
	return nil
}

func upsertThemes(ctx context.Context, tx *sql.Tx, snippets []*Snippet) (map[string]int64, error) {
	var names []string
	seen := make(map[string]bool)
	for _, s := range snippets {
		for _, t := range s.Themes {
			if !seen[t] {
				seen[t] = true
				names = append(names, t)
			}
		}
	}

	ids := make(map[string]int64, len(names))
	if len(names) == 0 {
		return ids, nil
	}

	query := `INSERT INTO themes (name) SELECT unnest($1::text[]) ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id, name`
	rows, err := tx.QueryContext(ctx, query, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("upsert themes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		ids[name] = id
	}
	return ids, rows.Err()
}

func (r *PostgresRepo) MarkEmbedded(ctx context.Context, ids []int64, model string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE snippets SET embedding_model = $1 WHERE id = ANY($2)`
	_, err := r.db.ExecContext(ctx, query, model, pq.Array(ids))
	return err
}

// ListUnembedded returns the snippets of a document that have no stored vector.
func (r *PostgresRepo) ListUnembedded(ctx context.Context, documentID int64) ([]Snippet, error) {
	query := `SELECT id, document_id, snippet_text FROM snippets WHERE document_id = $1 AND embedding_model IS NULL ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snippet
	for rows.Next() {
		var s Snippet
		if err := rows.Scan(&s.ID, &s.DocumentID, &s.SnippetText); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Page returns up to limit snippets in scope with id greater than cursor, ascending.
func (r *PostgresRepo) Page(ctx context.Context, scope Scope, cursor int64, limit int) ([]Item, error) {
	args := []interface{}{cursor}
	clause, args := scopeClause(scope, args)
	args = append(args, limit)
	query := fmt.Sprintf("%s WHERE s.id > $1 AND %s ORDER BY s.id ASC LIMIT $%d", itemSelect, clause, len(args))
	return r.queryItems(ctx, query, args...)
}

// MaxID returns the largest snippet id in scope, or 0 when the scope is empty.
func (r *PostgresRepo) MaxID(ctx context.Context, scope Scope) (int64, error) {
	clause, args := scopeClause(scope, nil)
	query := "SELECT COALESCE(MAX(s.id), 0) FROM snippets s JOIN documents d ON d.id = s.document_id WHERE " + clause
	var id int64
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	return id, err
}

func (r *PostgresRepo) Sample(ctx context.Context, scope Scope, n int) ([]Item, error) {
	clause, args := scopeClause(scope, nil)
	args = append(args, n)
	query := fmt.Sprintf("%s WHERE %s ORDER BY random() LIMIT $%d", itemSelect, clause, len(args))
	return r.queryItems(ctx, query, args...)
}

// GetByIDs returns the requested snippets of completed documents in no particular order.
func (r *PostgresRepo) GetByIDs(ctx context.Context, ids []int64) ([]Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := itemSelect + " WHERE s.id = ANY($1) AND d.status = 'completed'"
	return r.queryItems(ctx, query, pq.Array(ids))
}

// LexicalSearch ranks snippet text against query with Postgres full text search.
// Scores use ts_rank normalisation 32 so they fall in [0, 1).
func (r *PostgresRepo) LexicalSearch(ctx context.Context, query string, scope Scope, limit int) (map[int64]float64, error) {
	args := []interface{}{query}
	clause, args := scopeClause(scope, args)
	args = append(args, limit)
	q := fmt.Sprintf(`SELECT s.id, ts_rank(s.search_vector, plainto_tsquery('english', $1), 32) AS rank FROM snippets s JOIN documents d ON d.id = s.document_id WHERE s.search_vector @@ plainto_tsquery('english', $1) AND %s ORDER BY rank DESC LIMIT $%d`, clause, len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := make(map[int64]float64)
	for rows.Next() {
		var id int64
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, err
		}
		scores[id] = rank
	}
	return scores, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snippets`).Scan(&count)
	return count, err
}

func (r *PostgresRepo) queryItems(ctx context.Context, query string, args ...interface{}) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var themes []string
		if err := rows.Scan(&it.ID, &it.DocumentID, &it.StartIndex, &it.EndIndex, &it.SnippetText, &it.Context, &it.SentenceText,
			&it.EmbeddingModel, &it.CreatedAt, &it.DocumentTitle, &it.DocumentAuthor, pq.Array(&themes)); err != nil {
			return nil, err
		}
		it.Themes = themes
		if it.Themes == nil {
			it.Themes = []string{}
		}
		it.TextToSearch = TextToSearch(it.SentenceText)
		items = append(items, it)
	}
	return items, rows.Err()
}

// scopeClause appends scope filters to args and returns the matching condition.
// Only completed documents are ever visible.
func scopeClause(scope Scope, args []interface{}) (string, []interface{}) {
	conds := []string{"d.status = 'completed'"}
	if scope.DocumentID > 0 {
		args = append(args, scope.DocumentID)
		conds = append(conds, fmt.Sprintf("s.document_id = $%d", len(args)))
	}
	if theme := strings.TrimSpace(scope.Theme); theme != "" {
		args = append(args, "%"+escapeLike(strings.ToLower(theme))+"%")
		conds = append(conds, fmt.Sprintf(`EXISTS (SELECT 1 FROM snippet_themes st JOIN themes t ON t.id = st.theme_id WHERE st.snippet_id = s.id AND LOWER(t.name) LIKE $%d ESCAPE '\')`, len(args)))
	}
	return strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
