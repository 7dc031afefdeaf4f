package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"faqrag/internal/database"
	"faqrag/internal/domain"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS feedback (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		query_id TEXT NOT NULL,
		question TEXT NOT NULL DEFAULT '',
		rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
		comment TEXT NOT NULL DEFAULT '',
		sources TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_query ON feedback(query_id)`,
}

type row struct {
	Seq       int64     `db:"seq"`
	ID        string    `db:"id"`
	QueryID   string    `db:"query_id"`
	Question  string    `db:"question"`
	Rating    int       `db:"rating"`
	Comment   string    `db:"comment"`
	Sources   string    `db:"sources"`
	CreatedAt time.Time `db:"created_at"`
}

func (r row) record() (domain.FeedbackRecord, error) {
	var sources []string
	if err := json.Unmarshal([]byte(r.Sources), &sources); err != nil {
		return domain.FeedbackRecord{}, fmt.Errorf("feedback %s: decode sources: %w", r.ID, err)
	}
	return domain.FeedbackRecord{
		ID:        r.ID,
		Seq:       r.Seq,
		QueryID:   r.QueryID,
		Question:  r.Question,
		Rating:    r.Rating,
		Comment:   r.Comment,
		Sources:   sources,
		CreatedAt: r.CreatedAt,
	}, nil
}

// Store is the append-only, durable feedback log. Every count it reports
// is read back from the table.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) (*Store, error) {
	if err := database.Migrate(db, schema); err != nil {
		return nil, fmt.Errorf("migrate feedback schema: %w", err)
	}
	return &Store{db: db}, nil
}

// ValidateRating accepts integers 1 through 5.
func ValidateRating(rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("%w: rating must be an integer between 1 and 5, got %d", domain.ErrValidation, rating)
	}
	return nil
}

// Append validates and stores rec in a single insert, returning it with its
// id, sequence number and timestamp filled in.
func (s *Store) Append(ctx context.Context, rec domain.FeedbackRecord) (domain.FeedbackRecord, error) {
	if err := ValidateRating(rec.Rating); err != nil {
		return domain.FeedbackRecord{}, err
	}
	if rec.QueryID == "" {
		return domain.FeedbackRecord{}, fmt.Errorf("%w: query_id is required", domain.ErrValidation)
	}
	if rec.Sources == nil {
		rec.Sources = []string{}
	}
	sources, err := json.Marshal(rec.Sources)
	if err != nil {
		return domain.FeedbackRecord{}, err
	}
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO feedback (id, query_id, question, rating, comment, sources, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.QueryID, rec.Question, rec.Rating, rec.Comment, string(sources), rec.CreatedAt)
	if err != nil {
		return domain.FeedbackRecord{}, fmt.Errorf("append feedback: %w", err)
	}
	if rec.Seq, err = res.LastInsertId(); err != nil {
		return domain.FeedbackRecord{}, err
	}
	return rec, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	return s.CountSince(ctx, 0)
}

// CountSince counts records with a sequence number greater than seq.
func (s *Store) CountSince(ctx context.Context, seq int64) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM feedback WHERE seq > ?`, seq); err != nil {
		return 0, err
	}
	return n, nil
}

// MaxSeq is the sequence number of the newest record, 0 when empty.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.GetContext(ctx, &seq, `SELECT COALESCE(MAX(seq), 0) FROM feedback`); err != nil {
		return 0, err
	}
	return seq, nil
}

// Snapshot returns records up to and including upTo in sequence order.
// Records appended later are not visible, so a training run reading a
// snapshot never sees a partial tail.
func (s *Store) Snapshot(ctx context.Context, upTo int64) ([]domain.FeedbackRecord, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `SELECT seq, id, query_id, question, rating, comment, sources, created_at
		FROM feedback WHERE seq <= ? ORDER BY seq`, upTo)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FeedbackRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Stats aggregates the whole store.
func (s *Store) Stats(ctx context.Context) (domain.FeedbackStats, error) {
	seq, err := s.MaxSeq(ctx)
	if err != nil {
		return domain.FeedbackStats{}, err
	}
	records, err := s.Snapshot(ctx, seq)
	if err != nil {
		return domain.FeedbackStats{}, err
	}
	return ComputeStats(records), nil
}
