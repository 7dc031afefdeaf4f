package training

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"faqrag/internal/adaptor"
	"faqrag/internal/chunker"
	"faqrag/internal/domain"
	"faqrag/internal/embedding"
	"faqrag/internal/embedding/tfidf"
	"faqrag/internal/index"
	"faqrag/internal/vectorstore/memory"
)

type staticLoader []domain.Document

func (s staticLoader) Load([]string) ([]domain.Document, error) { return s, nil }

type memFeedback struct {
	records []domain.FeedbackRecord
	max     int64
}

func (m *memFeedback) MaxSeq(context.Context) (int64, error) { return m.max, nil }

func (m *memFeedback) Snapshot(_ context.Context, upTo int64) ([]domain.FeedbackRecord, error) {
	var out []domain.FeedbackRecord
	for _, r := range m.records {
		if r.Seq <= upTo {
			out = append(out, r)
		}
	}
	return out, nil
}

type memRepo struct {
	saved     []*adaptor.Adaptor
	watermark int64
	err       error
}

func (m *memRepo) SaveWatermark(_ context.Context, seq int64) error {
	if m.err != nil {
		return m.err
	}
	m.watermark = max(m.watermark, seq)
	return nil
}

func (m *memRepo) Watermark(context.Context) (int64, error) { return m.watermark, nil }

func (m *memRepo) Save(_ context.Context, a *adaptor.Adaptor) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, a)
	return nil
}

func newIndex(t *testing.T) *index.Indexer {
	t.Helper()
	docs := staticLoader{
		{ID: "refund", Title: "Refunds", Content: "Refunds are processed within 14 days."},
		{ID: "ship", Title: "Shipping", Content: "Shipping takes five business days."},
		{ID: "pass", Title: "Account", Content: "Reset your password from the account page."},
	}
	factory := func() (embedding.Embedder, error) { return tfidf.NewEmbedder(), nil }
	ix := index.New(index.Config{DataDir: t.TempDir(), Collection: "faq"}, docs, chunker.NewSentenceChunker(5, 0, 0), factory, memory.NewStorage(), zap.NewNop())
	_, err := ix.Reindex(context.Background())
	require.NoError(t, err)
	return ix
}

func feedbackFixture() *memFeedback {
	return &memFeedback{
		max: 3,
		records: []domain.FeedbackRecord{
			{Seq: 1, Question: "How long do refunds take?", Rating: 5, Sources: []string{"refund:0"}},
			{Seq: 2, Question: "How long do refunds take?", Rating: 1, Sources: []string{"Shipping #1"}},
			{Seq: 3, Question: "refund password", Rating: 3, Sources: []string{"pass:0"}},
			// appended after the snapshot watermark
			{Seq: 4, Question: "refund", Rating: 5, Sources: []string{"refund:0"}},
		},
	}
}

func TestBuildSamples(t *testing.T) {
	ix := newIndex(t)
	gen, err := ix.Current()
	require.NoError(t, err)
	fb := feedbackFixture()
	samples, err := BuildSamples(context.Background(), gen, fb.records[:3])
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 1.0, samples[0].Target)
	assert.Equal(t, 0.0, samples[1].Target)
	shipping, _ := gen.Chunk("ship:0")
	assert.Equal(t, shipping.Embedding, samples[1].Chunk)
}

func TestRunnerPublishesVersions(t *testing.T) {
	ix := newIndex(t)
	holder := &adaptor.Holder{}
	repo := &memRepo{}
	r := NewRunner(feedbackFixture(), ix, holder, repo, adaptor.TrainConfig{Rank: 2, Seed: 1}, zap.NewNop())

	out, err := r.Train(context.Background(), 10)
	require.NoError(t, err)
	assert.True(t, out.Published)
	assert.Equal(t, int64(1), out.Version)
	assert.Equal(t, 3, out.Records)
	assert.Equal(t, 2, out.Samples)
	require.Len(t, repo.saved, 1)
	assert.Equal(t, int64(3), holder.Load().FeedbackSeq)
	assert.Equal(t, int64(3), r.Watermark())

	gen, _ := ix.Current()
	assert.True(t, holder.Load().Compatible(gen.Dimension()))

	out, err = r.Train(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Version)
}

func TestRunnerWithoutUsableFeedback(t *testing.T) {
	ix := newIndex(t)
	holder := &adaptor.Holder{}
	fb := &memFeedback{max: 1, records: []domain.FeedbackRecord{{Seq: 1, Question: "q", Rating: 3, Sources: []string{"refund:0"}}}}
	repo := &memRepo{}
	r := NewRunner(fb, ix, holder, repo, adaptor.TrainConfig{}, zap.NewNop())

	out, err := r.Train(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, out.Published)
	assert.Nil(t, holder.Load())
	assert.Equal(t, int64(1), r.Watermark())
	assert.Equal(t, int64(1), repo.watermark)

	// a fresh runner over the same store picks the watermark up again
	restarted := NewRunner(fb, ix, &adaptor.Holder{}, repo, adaptor.TrainConfig{}, zap.NewNop())
	assert.Zero(t, restarted.Watermark())
	require.NoError(t, restarted.Restore(context.Background()))
	assert.Equal(t, int64(1), restarted.Watermark())
}

func TestRunnerFailuresPublishNothing(t *testing.T) {
	ix := newIndex(t)
	holder := &adaptor.Holder{}
	r := NewRunner(feedbackFixture(), ix, holder, &memRepo{err: errors.New("disk full")}, adaptor.TrainConfig{}, zap.NewNop())
	_, err := r.Train(context.Background(), 5)
	assert.ErrorIs(t, err, domain.ErrTraining)
	assert.Nil(t, holder.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r = NewRunner(feedbackFixture(), ix, holder, &memRepo{}, adaptor.TrainConfig{}, zap.NewNop())
	_, err = r.Train(ctx, 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, holder.Load())
	assert.Zero(t, r.Watermark())
}

type blockingTrainer struct {
	runs    atomic.Int32
	release chan struct{}
}

func (b *blockingTrainer) Train(ctx context.Context, _ int) (Outcome, error) {
	b.runs.Add(1)
	select {
	case <-b.release:
		return Outcome{Published: true}, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func TestConcurrentTriggersCoalesce(t *testing.T) {
	bt := &blockingTrainer{release: make(chan struct{})}
	s := NewScheduler(bt, 5, zap.NewNop())
	defer s.Stop()

	var started atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Trigger("manual", 0) {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), started.Load())
	assert.True(t, s.Running())

	close(bt.release)
	s.Wait()
	assert.False(t, s.Running())
	assert.Equal(t, int32(1), bt.runs.Load())

	assert.True(t, s.Trigger("manual", 0))
	s.Wait()
	assert.Equal(t, int32(2), bt.runs.Load())
}

func TestStopCancelsRun(t *testing.T) {
	bt := &blockingTrainer{release: make(chan struct{})}
	s := NewScheduler(bt, 5, zap.NewNop())
	done := make(chan error, 1)
	s.OnDone = func(_ Outcome, err error) { done <- err }

	require.True(t, s.Trigger("manual", 0))
	s.Stop()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run not cancelled")
	}
	assert.False(t, s.Trigger("manual", 0))
}

func TestStartValidatesSchedule(t *testing.T) {
	s := NewScheduler(&blockingTrainer{release: make(chan struct{})}, 5, zap.NewNop())
	defer s.Stop()
	assert.Error(t, s.Start("not a schedule"))
	assert.NoError(t, s.Start("@every 1h"))
	assert.NoError(t, s.Start(""))
}
