package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"faqrag/internal/database"
	"faqrag/internal/domain"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS query_sessions (
		query_id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		sources TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		feedback_id TEXT NOT NULL DEFAULT '',
		rating INTEGER NOT NULL DEFAULT 0,
		comment TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_query_sessions_created ON query_sessions(created_at)`,
}

type row struct {
	domain.QuerySession
	SourcesJSON string `db:"sources"`
}

// Cache keeps the metadata of answered questions so that feedback carrying
// only a query id can be completed later. Entries live until pruned.
type Cache struct {
	db *sqlx.DB
}

func NewCache(db *sqlx.DB) (*Cache, error) {
	if err := database.Migrate(db, schema); err != nil {
		return nil, fmt.Errorf("migrate session schema: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Put(ctx context.Context, s domain.QuerySession) error {
	if s.QueryID == "" {
		return fmt.Errorf("%w: empty query id", domain.ErrValidation)
	}
	if s.Sources == nil {
		s.Sources = []string{}
	}
	sources, err := json.Marshal(s.Sources)
	if err != nil {
		return err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err = c.db.ExecContext(ctx, `INSERT INTO query_sessions (query_id, question, sources, created_at)
		VALUES (?, ?, ?, ?)`, s.QueryID, s.Question, string(sources), s.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("put session %s: %w", s.QueryID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound for unknown or evicted ids.
func (c *Cache) Get(ctx context.Context, queryID string) (domain.QuerySession, error) {
	var r row
	err := c.db.GetContext(ctx, &r, `SELECT query_id, question, sources, created_at, feedback_id, rating, comment
		FROM query_sessions WHERE query_id = ?`, queryID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QuerySession{}, fmt.Errorf("%w: query %q", domain.ErrNotFound, queryID)
	}
	if err != nil {
		return domain.QuerySession{}, err
	}
	s := r.QuerySession
	if err := json.Unmarshal([]byte(r.SourcesJSON), &s.Sources); err != nil {
		return domain.QuerySession{}, fmt.Errorf("session %s: decode sources: %w", queryID, err)
	}
	return s, nil
}

// AttachFeedback records the feedback outcome on the session in one update.
func (c *Cache) AttachFeedback(ctx context.Context, queryID string, fb domain.FeedbackSummary) error {
	res, err := c.db.ExecContext(ctx, `UPDATE query_sessions SET feedback_id = ?, rating = ?, comment = ? WHERE query_id = ?`,
		fb.FeedbackID, fb.Rating, fb.Comment, queryID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: query %q", domain.ErrNotFound, queryID)
	}
	return nil
}

func (c *Cache) Evict(ctx context.Context, queryID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM query_sessions WHERE query_id = ?`, queryID)
	return err
}

// Prune removes sessions created before cutoff that already carry feedback.
// Unrated sessions are kept so late feedback can still be reconciled.
func (c *Cache) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM query_sessions WHERE feedback_id != '' AND created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (c *Cache) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM query_sessions`)
	return n, err
}
