package adaptor

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faqrag/internal/database"
	"faqrag/internal/domain"
	"faqrag/internal/embedding"
)

func unit(v ...float64) []float64 { return embedding.Normalize(v) }

func cosine(a, b []float64) float64 {
	return dot(a, b) / math.Sqrt(dot(a, a)*dot(b, b))
}

func TestUntrainedIsIdentity(t *testing.T) {
	var a *Adaptor
	assert.False(t, a.Trained())
	x := unit(1, 2, 3)
	assert.Equal(t, x, a.Apply(x))

	zero := &Adaptor{Version: 1, Dim: 3, Rank: 2, U: make([]float64, 6), V: []float64{1, 2, 3, 4, 5, 6}}
	assert.InDeltaSlice(t, x, zero.Apply(x), 1e-12)
}

func TestApplyIgnoresWrongDimension(t *testing.T) {
	a := &Adaptor{Version: 1, Dim: 2, Rank: 1, U: []float64{1, 1}, V: []float64{1, 1}}
	x := unit(1, 0, 0)
	assert.Equal(t, x, a.Apply(x))
	assert.False(t, a.Compatible(3))
}

func TestTargetForRating(t *testing.T) {
	for rating, want := range map[int]float64{1: 0, 2: 0, 4: 1, 5: 1} {
		got, ok := TargetForRating(rating)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := TargetForRating(3)
	assert.False(t, ok)
}

func trainingSet() []Sample {
	q := unit(1, 0.2, 0, 0)
	good := unit(0.3, 0, 1, 0)
	bad := unit(0.9, 0.5, 0, 0.3)
	return []Sample{
		{Query: q, Chunk: good, Target: 1},
		{Query: q, Chunk: bad, Target: 0},
	}
}

func TestFitMovesQueryTowardsPositives(t *testing.T) {
	samples := trainingSet()
	a, rep, err := Fit(context.Background(), samples, 4, 200, TrainConfig{Rank: 2, LearningRate: 0.1, Seed: 7})
	require.NoError(t, err)
	assert.Less(t, rep.FinalLoss, rep.InitialLoss)

	a.Version = 1
	q := samples[0].Query
	adapted := a.Apply(q)
	assert.Greater(t, cosine(adapted, samples[0].Chunk), cosine(q, samples[0].Chunk))
	assert.Less(t, cosine(adapted, samples[1].Chunk), cosine(q, samples[1].Chunk))
	assert.InDelta(t, 1.0, math.Sqrt(dot(adapted, adapted)), 1e-9)
}

func TestFitIsDeterministicForSeed(t *testing.T) {
	cfg := TrainConfig{Rank: 2, LearningRate: 0.1, Seed: 3}
	a1, _, err := Fit(context.Background(), trainingSet(), 4, 20, cfg)
	require.NoError(t, err)
	a2, _, err := Fit(context.Background(), trainingSet(), 4, 20, cfg)
	require.NoError(t, err)
	assert.Equal(t, a1.U, a2.U)
	assert.Equal(t, a1.V, a2.V)
}

func TestFitRejectsBadInput(t *testing.T) {
	_, _, err := Fit(context.Background(), nil, 4, 1, TrainConfig{})
	assert.ErrorIs(t, err, domain.ErrTraining)

	_, _, err = Fit(context.Background(), []Sample{{Query: unit(1, 0), Chunk: unit(1, 0, 0)}}, 2, 1, TrainConfig{})
	assert.ErrorIs(t, err, domain.ErrTraining)
}

func TestFitDivergenceIsTrainingError(t *testing.T) {
	samples := []Sample{{Query: []float64{math.Inf(1), 0}, Chunk: unit(1, 1), Target: 1}}
	_, _, err := Fit(context.Background(), samples, 2, 2, TrainConfig{Rank: 1})
	assert.ErrorIs(t, err, domain.ErrTraining)
}

func TestFitHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Fit(ctx, trainingSet(), 4, 10, TrainConfig{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHolderPublish(t *testing.T) {
	var h Holder
	assert.Nil(t, h.Load())
	assert.Equal(t, int64(0), h.Version())
	h.Publish(&Adaptor{Version: 4})
	assert.Equal(t, int64(4), h.Version())
}

func TestRepositoryRoundTrip(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "a.db"))
	require.NoError(t, err)
	defer db.Close()
	repo, err := NewRepository(db)
	require.NoError(t, err)
	ctx := context.Background()

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	a, _, err := Fit(ctx, trainingSet(), 4, 5, TrainConfig{Rank: 2, Seed: 1})
	require.NoError(t, err)
	a.TrainedAt = time.Now()
	for v := int64(1); v <= 2; v++ {
		a.Version = v
		a.FeedbackSeq = v * 10
		require.NoError(t, repo.Save(ctx, a))
	}
	require.Error(t, repo.Save(ctx, a))

	latest, err = repo.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(2), latest.Version)
	assert.Equal(t, int64(20), latest.FeedbackSeq)
	assert.Equal(t, a.U, latest.U)
	assert.Equal(t, a.V, latest.V)
	assert.Equal(t, 2, latest.SampleCount)
}

func TestRepositoryWatermark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.db")
	db, err := database.Open(path)
	require.NoError(t, err)
	repo, err := NewRepository(db)
	require.NoError(t, err)
	ctx := context.Background()

	seq, err := repo.Watermark(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)

	require.NoError(t, repo.SaveWatermark(ctx, 7))
	require.NoError(t, repo.SaveWatermark(ctx, 3))
	seq, err = repo.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)

	// a published version further ahead wins
	a := &Adaptor{Version: 1, Dim: 1, Rank: 1, U: []float64{0}, V: []float64{0}, TrainedAt: time.Now(), FeedbackSeq: 12}
	require.NoError(t, repo.Save(ctx, a))
	seq, err = repo.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), seq)
	require.NoError(t, db.Close())

	db, err = database.Open(path)
	require.NoError(t, err)
	defer db.Close()
	repo, err = NewRepository(db)
	require.NoError(t, err)
	seq, err = repo.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), seq)
}
