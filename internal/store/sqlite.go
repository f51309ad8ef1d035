package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmcfar/evidence-mcp/pkg/types"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertChunks inserts or replaces chunk rows in one transaction.
func (s *SQLiteStore) UpsertChunks(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i := range chunks {
		if err := chunks[i].Validate(); err != nil {
			return fmt.Errorf("chunk %d: %w", chunks[i].ChunkID, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, document_id, title, chunk_index, text, norm_text, tags, meta, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(chunk_id) DO UPDATE SET
			document_id = excluded.document_id,
			title = excluded.title,
			chunk_index = excluded.chunk_index,
			text = excluded.text,
			norm_text = excluded.norm_text,
			tags = excluded.tags,
			meta = excluded.meta,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for i := range chunks {
		c := &chunks[i]
		tags, err := json.Marshal(orEmptyTags(c.Tags))
		if err != nil {
			return fmt.Errorf("marshal tags for chunk %d: %w", c.ChunkID, err)
		}
		meta, err := json.Marshal(orEmptyMeta(c.Meta))
		if err != nil {
			return fmt.Errorf("marshal meta for chunk %d: %w", c.ChunkID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			c.ChunkID, c.DocumentID, c.Title, c.ChunkIndex,
			c.Text, strings.ToLower(c.Text), string(tags), string(meta)); err != nil {
			return fmt.Errorf("upsert chunk %d: %w", c.ChunkID, err)
		}
	}

	return tx.Commit()
}

// GetChunk retrieves a single chunk by id
func (s *SQLiteStore) GetChunk(ctx context.Context, chunkID int64) (*types.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT chunk_id, document_id, title, chunk_index, text, tags, meta
		FROM chunks WHERE chunk_id = ?`, chunkID)

	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetChunks retrieves multiple chunks by id, keyed by chunk id. Missing ids
// are simply absent from the result.
func (s *SQLiteStore) GetChunks(ctx context.Context, chunkIDs []int64) (map[int64]types.Chunk, error) {
	result := make(map[int64]types.Chunk, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(chunkIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT chunk_id, document_id, title, chunk_index, text, tags, meta
		FROM chunks WHERE chunk_id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		result[c.ChunkID] = *c
	}
	return result, rows.Err()
}

// ListChunks returns every chunk ordered by id. Used by index rebuilds.
func (s *SQLiteStore) ListChunks(ctx context.Context) ([]types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, document_id, title, chunk_index, text, tags, meta
		FROM chunks ORDER BY chunk_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chunks []types.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}

// CountChunks returns the number of stored chunks
func (s *SQLiteStore) CountChunks(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&count)
	return count, err
}

// PrefilterChunks returns up to limit chunks whose normalized text contains
// any of the lowercase terms, restricted by the filters.
func (s *SQLiteStore) PrefilterChunks(ctx context.Context, terms []string, filters *types.Filters, limit int) ([]types.Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT chunk_id, document_id, title, chunk_index, text, tags, meta
		FROM chunks WHERE 1=1`)
	var args []interface{}

	if len(terms) > 0 {
		sb.WriteString(" AND (")
		for i, term := range terms {
			if i > 0 {
				sb.WriteString(" OR ")
			}
			sb.WriteString(`norm_text LIKE ? ESCAPE '\'`)
			args = append(args, "%"+escapeLike(term)+"%")
		}
		sb.WriteString(")")
	}

	applyChunkFilters(&sb, &args, filters)

	sb.WriteString(" LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chunks []types.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}

// LogQuery appends one immutable audit row and returns its id.
func (s *SQLiteStore) LogQuery(ctx context.Context, rec *types.QueryRecord) (int64, error) {
	filters := "{}"
	if rec.Filters != nil {
		b, err := json.Marshal(map[string]interface{}{
			"document_ids": rec.Filters.DocumentIDs,
			"tags":         rec.Filters.Tags,
		})
		if err != nil {
			return 0, fmt.Errorf("marshal filters: %w", err)
		}
		filters = string(b)
	}

	ids, err := json.Marshal(orEmptyIDs(rec.ResultChunkIDs))
	if err != nil {
		return 0, fmt.Errorf("marshal result ids: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO query_logs (query, top_k, filters, result_chunk_ids)
		VALUES (?, ?, ?, ?)`,
		rec.Query, rec.TopK, filters, string(ids))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentQueries returns the newest audit rows, newest first.
func (s *SQLiteStore) RecentQueries(ctx context.Context, limit int) ([]types.QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, top_k, filters, result_chunk_ids, created_at
		FROM query_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []types.QueryRecord
	for rows.Next() {
		var rec types.QueryRecord
		var filtersJSON, idsJSON string
		var created time.Time
		if err := rows.Scan(&rec.QueryID, &rec.Query, &rec.TopK, &filtersJSON, &idsJSON, &created); err != nil {
			return nil, err
		}
		rec.CreatedAt = created

		var f struct {
			DocumentIDs []int64  `json:"document_ids"`
			Tags        []string `json:"tags"`
		}
		if err := json.Unmarshal([]byte(filtersJSON), &f); err == nil {
			if len(f.DocumentIDs) > 0 || len(f.Tags) > 0 {
				rec.Filters = &types.Filters{DocumentIDs: f.DocumentIDs, Tags: f.Tags}
			}
		}
		_ = json.Unmarshal([]byte(idsJSON), &rec.ResultChunkIDs)

		records = append(records, rec)
	}
	return records, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for shared scanning
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row scanner) (*types.Chunk, error) {
	var c types.Chunk
	var tagsJSON, metaJSON string
	if err := row.Scan(&c.ChunkID, &c.DocumentID, &c.Title, &c.ChunkIndex, &c.Text, &tagsJSON, &metaJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &c.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags for chunk %d: %w", c.ChunkID, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &c.Meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta for chunk %d: %w", c.ChunkID, err)
	}
	return &c, nil
}

func applyChunkFilters(sb *strings.Builder, args *[]interface{}, filters *types.Filters) {
	if filters.Empty() {
		return
	}
	if len(filters.DocumentIDs) > 0 {
		placeholders := strings.Repeat("?,", len(filters.DocumentIDs))
		placeholders = placeholders[:len(placeholders)-1]
		fmt.Fprintf(sb, " AND document_id IN (%s)", placeholders)
		for _, id := range filters.DocumentIDs {
			*args = append(*args, id)
		}
	}
	if len(filters.Tags) > 0 {
		// Tags are stored as a JSON array; containment of the quoted tag
		// string is enough for exact tag matching.
		sb.WriteString(" AND (")
		for i, tag := range filters.Tags {
			if i > 0 {
				sb.WriteString(" OR ")
			}
			sb.WriteString(`tags LIKE ? ESCAPE '\'`)
			*args = append(*args, `%"`+escapeLike(tag)+`"%`)
		}
		sb.WriteString(")")
	}
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func orEmptyTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func orEmptyMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return map[string]string{}
	}
	return meta
}

func orEmptyIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
