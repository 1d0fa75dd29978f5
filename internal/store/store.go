// Package store is the Postgres backend for journal entries and accounts.
// Entries carry pgvector embeddings; semantic search runs through the two
// named procedures the engine selects between (time-bounded and unbounded).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/soulo-online/insight/internal/engine"
)

// DefaultEmbeddingDimensions is the expected length of semantic vectors
// stored in the pgvector column.
const DefaultEmbeddingDimensions = 1536

type Store struct {
	DB *sql.DB
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Journal entry operations

// JournalEntry is one stored entry plus its embedding.
type JournalEntry struct {
	ID        string
	UserID    string
	Content   string
	Vector    []float32
	CreatedAt time.Time
}

func (s *Store) InsertEntry(ctx context.Context, entry JournalEntry) (string, error) {
	vectorLiteral, err := encodeVectorLiteral(entry.Vector)
	if err != nil {
		return "", err
	}
	var id string
	err = s.DB.QueryRowContext(ctx, `
INSERT INTO journal_entries (user_id, content, embedding, created_at)
VALUES ($1,$2,$3::vector,COALESCE($4,NOW()))
RETURNING id
`, entry.UserID, entry.Content, vectorLiteral, nullableTime(entry.CreatedAt)).Scan(&id)
	return id, err
}

// ExecuteQuery runs one already-sanitized SELECT and returns the store's
// generic result envelope. A database error becomes a logical failure in the
// envelope rather than a Go error, mirroring the store procedure contract.
func (s *Store) ExecuteQuery(ctx context.Context, query string) (engine.QueryResult, error) {
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return engine.QueryResult{Success: false, Error: err.Error()}, nil
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return engine.QueryResult{Success: false, Error: err.Error()}, nil
	}

	data := []engine.Row{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return engine.QueryResult{Success: false, Error: err.Error()}, nil
		}
		row := make(engine.Row, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return engine.QueryResult{Success: false, Error: err.Error()}, nil
	}
	return engine.QueryResult{Success: true, Data: data}, nil
}

// SearchEntries returns the closest entries for the supplied vector without
// any time bound.
func (s *Store) SearchEntries(ctx context.Context, embedding []float32, threshold float64, limit int, owner string) ([]engine.VectorEntry, error) {
	vecLiteral, err := encodeVectorLiteral(embedding)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, content, 1 - (embedding <=> $1::vector) AS similarity, created_at
FROM journal_entries
WHERE user_id = $2
  AND 1 - (embedding <=> $1::vector) >= $3
ORDER BY embedding <=> $1::vector
LIMIT $4
`, vecLiteral, owner, threshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// SearchEntriesWithDate is the time-bounded variant; either bound may be nil.
func (s *Store) SearchEntriesWithDate(ctx context.Context, embedding []float32, threshold float64, limit int, owner string, start, end *time.Time) ([]engine.VectorEntry, error) {
	vecLiteral, err := encodeVectorLiteral(embedding)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, content, 1 - (embedding <=> $1::vector) AS similarity, created_at
FROM journal_entries
WHERE user_id = $2
  AND 1 - (embedding <=> $1::vector) >= $3
  AND ($5::timestamptz IS NULL OR created_at >= $5)
  AND ($6::timestamptz IS NULL OR created_at <= $6)
ORDER BY embedding <=> $1::vector
LIMIT $4
`, vecLiteral, owner, threshold, limit, nullableTimePtr(start), nullableTimePtr(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// CountEntries counts one user's entries, optionally bounded in time.
func (s *Store) CountEntries(ctx context.Context, owner string, start, end *time.Time) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM journal_entries
WHERE user_id = $1
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at <= $3)
`, owner, nullableTimePtr(start), nullableTimePtr(end)).Scan(&count)
	return count, err
}

func scanEntries(rows *sql.Rows) ([]engine.VectorEntry, error) {
	var entries []engine.VectorEntry
	for rows.Next() {
		var entry engine.VectorEntry
		if err := rows.Scan(&entry.ID, &entry.Content, &entry.Similarity, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func normalizeValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullableTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
