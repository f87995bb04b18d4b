package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, doc *Document) error {
	query := `INSERT INTO documents (status, file_path, content_hash) VALUES ($1, $2, $3) RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, doc.Status, doc.FilePath, doc.ContentHash).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
}

func (r *PostgresRepo) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM documents WHERE content_hash = $1)`
	err := r.db.QueryRowContext(ctx, query, hash).Scan(&exists)
	return exists, err
}

func (r *PostgresRepo) Get(ctx context.Context, id int64) (*Document, error) {
	d := &Document{}
	query := `SELECT id, title, author, status, error, file_path, content_hash, created_at, updated_at FROM documents WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&d.ID, &d.Title, &d.Author, &d.Status, &d.Error, &d.FilePath, &d.ContentHash, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]Document, error) {
	query := `SELECT id, title, author, status, error, created_at, updated_at FROM documents ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Author, &d.Status, &d.Error, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SaveContent stores the metadata and sentence map produced by segmentation.
func (r *PostgresRepo) SaveContent(ctx context.Context, id int64, title, author string, sentences map[int]string) error {
	raw, err := json.Marshal(sentences)
	if err != nil {
		return fmt.Errorf("encode sentences: %w", err)
	}
	query := `UPDATE documents SET title = $1, author = $2, sentences = $3, updated_at = NOW() WHERE id = $4`
	_, err = r.db.ExecContext(ctx, query, title, author, raw, id)
	return err
}

func (r *PostgresRepo) GetSentences(ctx context.Context, id int64) (map[int]string, error) {
	var raw []byte
	query := `SELECT sentences FROM documents WHERE id = $1`
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&raw); err != nil {
		return nil, err
	}

	var sentences map[int]string
	if err := json.Unmarshal(raw, &sentences); err != nil {
		return nil, fmt.Errorf("decode sentences: %w", err)
	}
	return sentences, nil
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id int64, status, errMsg string) error {
	query := `UPDATE documents SET status = $1, error = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, status, errMsg, id)
	return err
}

func (r *PostgresRepo) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM documents WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM documents`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}
