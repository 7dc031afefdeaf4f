package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"faqrag/internal/database"
	"faqrag/internal/domain"
	"faqrag/internal/vectorstore/memory"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS vector_collections (
		name TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS vector_chunks (
		collection TEXT NOT NULL,
		position INTEGER NOT NULL,
		id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		source_label TEXT NOT NULL,
		embedding BLOB NOT NULL,
		PRIMARY KEY (collection, id),
		FOREIGN KEY (collection) REFERENCES vector_collections(name) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vector_chunks_position ON vector_chunks(collection, position)`,
}

// Storage persists collections in SQLite and serves searches from an
// in-memory copy that is loaded lazily per collection.
type Storage struct {
	db    *sqlx.DB
	cache *memory.Storage
}

type chunkRow struct {
	ID          string `db:"id"`
	DocumentID  string `db:"document_id"`
	ChunkIndex  int    `db:"chunk_index"`
	Text        string `db:"text"`
	SourceLabel string `db:"source_label"`
	Embedding   []byte `db:"embedding"`
}

// NewStorage creates the schema on db if needed.
func NewStorage(db *sqlx.DB) (*Storage, error) {
	if err := database.Migrate(db, schema); err != nil {
		return nil, err
	}
	return &Storage{db: db, cache: memory.NewStorage()}, nil
}

func (s *Storage) Create(ctx context.Context, collection string, dimension int) error {
	col, err := memory.NewCollection(dimension)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO vector_collections (name, dimension) VALUES (?, ?)`, collection, dimension); err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}
	s.cache.Put(collection, col)
	return nil
}

func (s *Storage) Upsert(ctx context.Context, collection string, chunks []domain.Chunk) error {
	col, err := s.collection(ctx, collection)
	if err != nil {
		return err
	}
	for _, ch := range chunks {
		if len(ch.Embedding) != col.Dimension() {
			return fmt.Errorf("vector dimension mismatch for %s: %d != %d", ch.ID, len(ch.Embedding), col.Dimension())
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.GetContext(ctx, &next, `SELECT COALESCE(MAX(position) + 1, 0) FROM vector_chunks WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("next position: %w", err)
	}
	stmt, err := tx.PreparexContext(ctx, `INSERT OR REPLACE INTO vector_chunks
		(collection, position, id, document_id, chunk_index, text, source_label, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()
	for i, ch := range chunks {
		if _, err := stmt.ExecContext(ctx, collection, next+i, ch.ID, ch.DocumentID, ch.Index, ch.Text, ch.SourceLabel, database.EncodeFloats(ch.Embedding)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", ch.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return col.Add(chunks)
}

func (s *Storage) Search(ctx context.Context, collection string, vector []float64, topK int) ([]domain.SearchResult, error) {
	col, err := s.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	return col.Search(vector, topK), nil
}

func (s *Storage) Chunks(ctx context.Context, collection string) ([]domain.Chunk, error) {
	col, err := s.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	return col.Chunks(), nil
}

func (s *Storage) Count(ctx context.Context, collection string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM vector_chunks WHERE collection = ?`, collection); err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

func (s *Storage) Collections(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names, `SELECT name FROM vector_collections ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return names, nil
}

func (s *Storage) Drop(ctx context.Context, collection string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_chunks WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("drop chunks of %s: %w", collection, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_collections WHERE name = ?`, collection); err != nil {
		return fmt.Errorf("drop collection %s: %w", collection, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return s.cache.Drop(ctx, collection)
}

// collection returns the cached collection, loading it from disk on first use.
func (s *Storage) collection(ctx context.Context, name string) (*memory.Collection, error) {
	if col, ok := s.cache.Get(name); ok {
		return col, nil
	}
	var dimension int
	err := s.db.GetContext(ctx, &dimension, `SELECT dimension FROM vector_collections WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("collection %s not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("load collection %s: %w", name, err)
	}
	var rows []chunkRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, document_id, chunk_index, text, source_label, embedding
		FROM vector_chunks WHERE collection = ? ORDER BY position`, name); err != nil {
		return nil, fmt.Errorf("load chunks of %s: %w", name, err)
	}
	chunks := make([]domain.Chunk, len(rows))
	for i, r := range rows {
		vec, err := database.DecodeFloats(r.Embedding)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", r.ID, err)
		}
		chunks[i] = domain.Chunk{
			ID:          r.ID,
			DocumentID:  r.DocumentID,
			Index:       r.ChunkIndex,
			Text:        r.Text,
			SourceLabel: r.SourceLabel,
			Embedding:   vec,
		}
	}
	col, err := memory.NewCollection(dimension)
	if err != nil {
		return nil, err
	}
	if err := col.Add(chunks); err != nil {
		return nil, err
	}
	s.cache.Put(name, col)
	return col, nil
}
