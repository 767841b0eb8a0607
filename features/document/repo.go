package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"seen/internal/apperr"
	"seen/internal/index"
	"seen/internal/vectorid"
)

const (
	insertColumns   = `id, url, title, summary, content_type, bucket_path, size, chunk_count, created_at`
	documentColumns = insertColumns + `, indexed_at`

	// embeddingRowsPerStatement keeps a multi-row insert well under the
	// 65535 bind parameter limit.
	embeddingRowsPerStatement = 500
)

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(sc scanner, d *Document) error {
	var indexedAt sql.NullTime
	if err := sc.Scan(&d.ID, &d.URL, &d.Title, &d.Summary, &d.ContentType, &d.BucketPath, &d.Size, &d.ChunkCount, &d.CreatedAt, &indexedAt); err != nil {
		return err
	}
	if indexedAt.Valid {
		t := indexedAt.Time
		d.IndexedAt = &t
	}
	return nil
}

// PostgresRepo stores documents and their embeddings. It also serves as
// the durable embeddings table for the index coordinator.
type PostgresRepo struct {
	db  *sql.DB
	dim int
}

func NewPostgresRepo(db *sql.DB, dim int) *PostgresRepo {
	return &PostgresRepo{db: db, dim: dim}
}

func (r *PostgresRepo) Create(ctx context.Context, d *Document) error {
	query := `INSERT INTO documents (` + insertColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query, d.ID, d.URL, d.Title, d.Summary, d.ContentType, d.BucketPath, d.Size, d.ChunkCount, d.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return apperr.InvalidInput(fmt.Sprintf("document for %s already exists", d.URL))
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return r.one(ctx, id, query, id)
}

func (r *PostgresRepo) GetByURL(ctx context.Context, url string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE url = $1`
	return r.one(ctx, url, query, url)
}

func (r *PostgresRepo) one(ctx context.Context, key, query string, arg any) (*Document, error) {
	d := &Document{}
	err := scanDocument(r.db.QueryRowContext(ctx, query, arg), d)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("document", key)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepo) List(ctx context.Context, limit int) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents ORDER BY created_at DESC, id DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var d Document
		if err := scanDocument(rows, &d); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

func (r *PostgresRepo) CountEmbeddings(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n)
	return n, err
}

func (r *PostgresRepo) MarkIndexed(ctx context.Context, id string, chunkCount int) (time.Time, error) {
	var at time.Time
	err := r.db.QueryRowContext(ctx,
		`UPDATE documents SET indexed_at = NOW(), chunk_count = $2 WHERE id = $1 RETURNING indexed_at`,
		id, chunkCount).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, apperr.NotFound("document", id)
	}
	return at, err
}

// Delete removes the document row; its embeddings go with it.
func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}

// UpsertEmbeddings writes rows in one transaction using multi-row inserts.
func (r *PostgresRepo) UpsertEmbeddings(ctx context.Context, rows []index.EmbeddingRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for start := 0; start < len(rows); start += embeddingRowsPerStatement {
		batch := rows[start:min(start+embeddingRowsPerStatement, len(rows))]
		var b strings.Builder
		b.WriteString(`INSERT INTO embeddings (vector_id, document_id, vector) VALUES `)
		args := make([]any, 0, len(batch)*3)
		for i, row := range batch {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "($%d, $%d, $%d)", i*3+1, i*3+2, i*3+3)
			args = append(args, row.VectorID, row.DocumentID, pgvector.NewVector(row.Vector))
		}
		b.WriteString(` ON CONFLICT (vector_id) DO UPDATE SET vector = EXCLUDED.vector, document_id = EXCLUDED.document_id`)
		if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
			return fmt.Errorf("upsert embeddings %s..: %w", batch[0].VectorID, err)
		}
	}
	return tx.Commit()
}

func (r *PostgresRepo) GetEmbeddings(ctx context.Context, ids []string) ([]index.EmbeddingRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT vector_id, document_id, vector FROM embeddings WHERE vector_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []index.EmbeddingRow
	for rows.Next() {
		var (
			row index.EmbeddingRow
			vec pgvector.Vector
		)
		if err := rows.Scan(&row.VectorID, &row.DocumentID, &vec); err != nil {
			return nil, err
		}
		row.Vector = vec.Slice()
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) DeleteEmbeddings(ctx context.Context, documentID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM embeddings WHERE document_id = $1`, documentID)
	return err
}

// EnsureEmbeddingsTable creates the embeddings table when a database
// predates it.
func (r *PostgresRepo) EnsureEmbeddingsTable(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings (
		vector_id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		vector vector(%d) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, r.dim)
	_, err := r.db.ExecContext(ctx, query)
	return err
}

// ListDocumentChunks lists indexed documents in the order they finished
// indexing, so newly indexed ones extend the canonical id list instead of
// shifting it. Documents whose ingest stopped part way are left out.
func (r *PostgresRepo) ListDocumentChunks(ctx context.Context) ([]vectorid.DocumentChunks, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, chunk_count FROM documents WHERE indexed_at IS NOT NULL ORDER BY indexed_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vectorid.DocumentChunks
	for rows.Next() {
		var dc vectorid.DocumentChunks
		if err := rows.Scan(&dc.DocumentID, &dc.ChunkCount); err != nil {
			return nil, err
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

var _ index.EmbeddingStore = (*PostgresRepo)(nil)
