package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faqrag/internal/database"
	"faqrag/internal/domain"
)

func newCache(t *testing.T) *Cache {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "s.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	c, err := NewCache(db)
	require.NoError(t, err)
	return c
}

func TestPutGet(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, domain.QuerySession{QueryID: "q1", Question: "refunds?", Sources: []string{"a:0", "b:1"}}))

	s, err := c.Get(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, "refunds?", s.Question)
	assert.Equal(t, []string{"a:0", "b:1"}, s.Sources)
	assert.False(t, s.CreatedAt.IsZero())
	assert.Empty(t, s.FeedbackID)

	assert.Error(t, c.Put(ctx, domain.QuerySession{QueryID: "q1"}))
}

func TestGetUnknown(t *testing.T) {
	c := newCache(t)
	_, err := c.Get(context.Background(), "abc123")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAttachFeedback(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, domain.QuerySession{QueryID: "q1", Question: "x"}))
	require.NoError(t, c.AttachFeedback(ctx, "q1", domain.FeedbackSummary{FeedbackID: "f1", Rating: 4, Comment: "ok"}))

	s, err := c.Get(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, "f1", s.FeedbackID)
	assert.Equal(t, 4, s.Rating)
	assert.Equal(t, "ok", s.Comment)

	err = c.AttachFeedback(ctx, "nope", domain.FeedbackSummary{FeedbackID: "f2", Rating: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEvictAndPrune(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, c.Put(ctx, domain.QuerySession{QueryID: "rated-old", CreatedAt: old}))
	require.NoError(t, c.Put(ctx, domain.QuerySession{QueryID: "unrated-old", CreatedAt: old}))
	require.NoError(t, c.Put(ctx, domain.QuerySession{QueryID: "rated-new"}))
	require.NoError(t, c.AttachFeedback(ctx, "rated-old", domain.FeedbackSummary{FeedbackID: "f", Rating: 5}))
	require.NoError(t, c.AttachFeedback(ctx, "rated-new", domain.FeedbackSummary{FeedbackID: "g", Rating: 5}))

	n, err := c.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = c.Get(ctx, "unrated-old")
	assert.NoError(t, err)

	require.NoError(t, c.Evict(ctx, "unrated-old"))
	_, err = c.Get(ctx, "unrated-old")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
