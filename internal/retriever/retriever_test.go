package retriever

import (
	"context"
	"errors"
	"testing"

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

// flakyEmbedder fails for one specific text.
type flakyEmbedder struct {
	*tfidf.Embedder
	fail string
}

func (f flakyEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == f.fail {
		return nil, errors.New("model offline")
	}
	return f.Embedder.Embed(ctx, text)
}

var corpus = staticLoader{
	{ID: "refund", Title: "Refunds", Content: "Refunds are processed within 14 days."},
	{ID: "ship", Title: "Shipping", Content: "Shipping takes five business days."},
	{ID: "pass", Title: "Account", Content: "Reset your password from the account page."},
}

func newGenerations(t *testing.T, fail string) *index.Indexer {
	t.Helper()
	factory := func() (embedding.Embedder, error) {
		return flakyEmbedder{Embedder: tfidf.NewEmbedder(), fail: fail}, nil
	}
	ix := index.New(index.Config{DataDir: t.TempDir(), Collection: "faq"}, corpus, chunker.NewSentenceChunker(5, 0, 0), factory, memory.NewStorage(), zap.NewNop())
	_, err := ix.Reindex(context.Background())
	require.NoError(t, err)
	return ix
}

func TestRetrieveRanksRelevantChunkFirst(t *testing.T) {
	r := New(newGenerations(t, ""), &adaptor.Holder{}, 10, zap.NewNop())
	res, err := r.Retrieve(context.Background(), []string{"What is the refund policy?"}, true)
	require.NoError(t, err)
	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, "refund:0", res.Candidates[0].ChunkID)
	assert.Equal(t, "Refunds #1", res.Candidates[0].SourceLabel)
	assert.False(t, res.UsedAdaptor)
}

func TestRetrieveMergesExpandedQueries(t *testing.T) {
	r := New(newGenerations(t, ""), &adaptor.Holder{}, 10, zap.NewNop())
	res, err := r.Retrieve(context.Background(), []string{"refund", "shipping days", "refund processed"}, false)
	require.NoError(t, err)

	ids := map[string]int{}
	for i, c := range res.Candidates {
		ids[c.ChunkID]++
		if i > 0 {
			assert.GreaterOrEqual(t, res.Candidates[i-1].VectorScore, c.VectorScore)
		}
	}
	for id, n := range ids {
		assert.Equal(t, 1, n, id)
	}
	assert.Contains(t, ids, "ship:0")
	assert.Contains(t, ids, "refund:0")
}

func TestRetrieveIsDeterministic(t *testing.T) {
	r := New(newGenerations(t, ""), &adaptor.Holder{}, 10, zap.NewNop())
	q := []string{"refund", "password reset", "shipping"}
	first, err := r.Retrieve(context.Background(), q, false)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(context.Background(), q, false)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRetrieveSkipsFailedExpansion(t *testing.T) {
	r := New(newGenerations(t, "broken"), &adaptor.Holder{}, 10, zap.NewNop())
	res, err := r.Retrieve(context.Background(), []string{"refund", "broken"}, false)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Candidates)
}

func TestRetrieveFailsWhenOriginalCannotBeEmbedded(t *testing.T) {
	r := New(newGenerations(t, "refund"), &adaptor.Holder{}, 10, zap.NewNop())
	_, err := r.Retrieve(context.Background(), []string{"refund", "shipping"}, false)
	assert.ErrorIs(t, err, domain.ErrCollaborator)
}

func TestRetrieveWithoutIndex(t *testing.T) {
	ix := index.New(index.Config{}, corpus, nil, nil, memory.NewStorage(), zap.NewNop())
	r := New(ix, &adaptor.Holder{}, 10, zap.NewNop())
	_, err := r.Retrieve(context.Background(), []string{"refund"}, false)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}

func TestRetrieveAppliesCompatibleAdaptor(t *testing.T) {
	ix := newGenerations(t, "")
	gen, err := ix.Current()
	require.NoError(t, err)
	dim := gen.Dimension()

	holder := &adaptor.Holder{}
	holder.Publish(&adaptor.Adaptor{Version: 3, Dim: dim, Rank: 1, U: make([]float64, dim), V: make([]float64, dim)})
	r := New(ix, holder, 10, zap.NewNop())

	res, err := r.Retrieve(context.Background(), []string{"refund"}, true)
	require.NoError(t, err)
	assert.True(t, res.UsedAdaptor)
	assert.Equal(t, int64(3), res.AdaptorVersion)

	res, err = r.Retrieve(context.Background(), []string{"refund"}, false)
	require.NoError(t, err)
	assert.False(t, res.UsedAdaptor)

	holder.Publish(&adaptor.Adaptor{Version: 4, Dim: dim + 1, Rank: 1, U: make([]float64, dim+1), V: make([]float64, dim+1)})
	res, err = r.Retrieve(context.Background(), []string{"refund"}, true)
	require.NoError(t, err)
	assert.False(t, res.UsedAdaptor)
}

func TestUnknownTermsFallBackToLexical(t *testing.T) {
	r := New(newGenerations(t, ""), &adaptor.Holder{}, 10, zap.NewNop())
	res, err := r.Retrieve(context.Background(), []string{"zzz"}, false)
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
}

func TestMergeKeepsMaxAndTruncates(t *testing.T) {
	ch := func(id string) domain.Chunk { return domain.Chunk{ID: id} }
	hits := [][]domain.SearchResult{
		{{Chunk: ch("a"), Score: 0.5}, {Chunk: ch("b"), Score: 0.4}},
		{{Chunk: ch("b"), Score: 0.9}, {Chunk: ch("c"), Score: 0.4}},
	}
	out := Merge(hits, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ChunkID)
	assert.InDelta(t, 0.9, out[0].VectorScore, 1e-12)
	assert.Equal(t, "a", out[1].ChunkID)
}
