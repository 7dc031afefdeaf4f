package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faqrag/internal/domain"
)

type scorerFunc func(ctx context.Context, query string, passages []string) ([]float64, error)

func (f scorerFunc) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	return f(ctx, query, passages)
}

func candidates(texts ...string) []domain.Candidate {
	out := make([]domain.Candidate, len(texts))
	for i, t := range texts {
		out[i] = domain.Candidate{ChunkID: t, Text: t, VectorScore: float64(len(texts) - i)}
	}
	return out
}

func TestRerankEmpty(t *testing.T) {
	ce := NewCrossEncoder(NewLexicalScorer(), time.Second)
	out, err := ce.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRerankOrdersByScore(t *testing.T) {
	ce := NewCrossEncoder(NewLexicalScorer(), time.Second)
	in := candidates(
		"Shipping takes five business days.",
		"Refunds are processed within 14 days.",
	)
	out, err := ce.Rerank(context.Background(), "What is the refund policy?", in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Refunds are processed within 14 days.", out[0].ChunkID)
	require.NotNil(t, out[0].RerankScore)
	assert.GreaterOrEqual(t, *out[0].RerankScore, 0.3)
	assert.Greater(t, *out[0].RerankScore, *out[1].RerankScore)
	// input untouched
	assert.Nil(t, in[0].RerankScore)
}

func TestRerankStableOnTies(t *testing.T) {
	ce := NewCrossEncoder(scorerFunc(func(_ context.Context, _ string, p []string) ([]float64, error) {
		return make([]float64, len(p)), nil
	}), time.Second)
	out, err := ce.Rerank(context.Background(), "q", candidates("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, "a", out[0].ChunkID)
	assert.Equal(t, "c", out[2].ChunkID)
}

func TestRerankFailureIsCollaboratorError(t *testing.T) {
	ce := NewCrossEncoder(scorerFunc(func(context.Context, string, []string) ([]float64, error) {
		return nil, errors.New("down")
	}), time.Second)
	_, err := ce.Rerank(context.Background(), "q", candidates("a"))
	assert.ErrorIs(t, err, domain.ErrCollaborator)

	short := NewCrossEncoder(scorerFunc(func(context.Context, string, []string) ([]float64, error) {
		return []float64{1}, nil
	}), time.Second)
	_, err = short.Rerank(context.Background(), "q", candidates("a", "b"))
	assert.ErrorIs(t, err, domain.ErrCollaborator)
}

func TestRerankTimeout(t *testing.T) {
	ce := NewCrossEncoder(scorerFunc(func(ctx context.Context, _ string, _ []string) ([]float64, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), 10*time.Millisecond)
	_, err := ce.Rerank(context.Background(), "q", candidates("a"))
	assert.ErrorIs(t, err, domain.ErrCollaborator)
}

func TestLexicalScorerBounds(t *testing.T) {
	s := NewLexicalScorer()
	scores, err := s.Score(context.Background(), "refund policy", []string{"", "refund policy refund policy details here", "nothing relevant"})
	require.NoError(t, err)
	assert.Zero(t, scores[0])
	assert.LessOrEqual(t, scores[1], 1.0)
	assert.Greater(t, scores[1], scores[2])
	assert.GreaterOrEqual(t, scores[2], 0.0)
}

func TestHTTPScorer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "q", req.Query)
		assert.Equal(t, 2, req.TopN)
		_, _ = w.Write([]byte(`{"results":[{"index":1,"relevance_score":0.9},{"index":0,"relevance_score":0.1}]}`))
	}))
	defer server.Close()

	s := NewHTTPScorer(server.URL, "k", "m", server.Client())
	scores, err := s.Score(context.Background(), "q", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.9}, scores)
}

func TestHTTPScorerMissingResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":0,"relevance_score":0.5}]}`))
	}))
	defer server.Close()

	_, err := NewHTTPScorer(server.URL, "", "", server.Client()).Score(context.Background(), "q", []string{"a", "b"})
	assert.Error(t, err)
}
