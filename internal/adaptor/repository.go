package adaptor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"faqrag/internal/database"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS adaptor_versions (
		version INTEGER PRIMARY KEY,
		dimension INTEGER NOT NULL,
		rank INTEGER NOT NULL,
		trained_at DATETIME NOT NULL,
		sample_count INTEGER NOT NULL,
		feedback_seq INTEGER NOT NULL,
		u BLOB NOT NULL,
		v BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS training_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		consumed_seq INTEGER NOT NULL
	)`,
}

type row struct {
	Version     int64     `db:"version"`
	Dimension   int       `db:"dimension"`
	Rank        int       `db:"rank"`
	TrainedAt   time.Time `db:"trained_at"`
	SampleCount int       `db:"sample_count"`
	FeedbackSeq int64     `db:"feedback_seq"`
	U           []byte    `db:"u"`
	V           []byte    `db:"v"`
}

// Repository keeps every published adaptor version in SQLite.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) (*Repository, error) {
	if err := database.Migrate(db, schema); err != nil {
		return nil, fmt.Errorf("migrate adaptor schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// Save stores a. Versions are write-once.
func (r *Repository) Save(ctx context.Context, a *Adaptor) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO adaptor_versions
		(version, dimension, rank, trained_at, sample_count, feedback_seq, u, v)
		VALUES (:version, :dimension, :rank, :trained_at, :sample_count, :feedback_seq, :u, :v)`,
		row{
			Version:     a.Version,
			Dimension:   a.Dim,
			Rank:        a.Rank,
			TrainedAt:   a.TrainedAt.UTC(),
			SampleCount: a.SampleCount,
			FeedbackSeq: a.FeedbackSeq,
			U:           database.EncodeFloats(a.U),
			V:           database.EncodeFloats(a.V),
		})
	if err != nil {
		return fmt.Errorf("save adaptor v%d: %w", a.Version, err)
	}
	return nil
}

// Latest returns the highest stored version, nil when none exists.
func (r *Repository) Latest(ctx context.Context) (*Adaptor, error) {
	var rw row
	err := r.db.GetContext(ctx, &rw, `SELECT version, dimension, rank, trained_at, sample_count, feedback_seq, u, v
		FROM adaptor_versions ORDER BY version DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u, err := database.DecodeFloats(rw.U)
	if err != nil {
		return nil, err
	}
	v, err := database.DecodeFloats(rw.V)
	if err != nil {
		return nil, err
	}
	if len(u) != rw.Dimension*rw.Rank || len(v) != rw.Dimension*rw.Rank {
		return nil, fmt.Errorf("adaptor v%d: weight shape mismatch", rw.Version)
	}
	return &Adaptor{
		Version:     rw.Version,
		Dim:         rw.Dimension,
		Rank:        rw.Rank,
		U:           u,
		V:           v,
		TrainedAt:   rw.TrainedAt,
		SampleCount: rw.SampleCount,
		FeedbackSeq: rw.FeedbackSeq,
	}, nil
}

// SaveWatermark records the highest feedback sequence number a training
// run has considered. The stored value never moves backwards.
func (r *Repository) SaveWatermark(ctx context.Context, seq int64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO training_state (id, consumed_seq) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET consumed_seq = MAX(consumed_seq, excluded.consumed_seq)`, seq)
	if err != nil {
		return fmt.Errorf("save training watermark: %w", err)
	}
	return nil
}

// Watermark returns the stored training watermark, falling back to the
// latest version's feedback_seq for databases written before the state
// table existed. 0 when nothing was ever trained.
func (r *Repository) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := r.db.GetContext(ctx, &seq, `SELECT MAX(
		COALESCE((SELECT consumed_seq FROM training_state WHERE id = 1), 0),
		COALESCE((SELECT MAX(feedback_seq) FROM adaptor_versions), 0))`)
	if err != nil {
		return 0, fmt.Errorf("load training watermark: %w", err)
	}
	return seq, nil
}
