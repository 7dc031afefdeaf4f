package rerank

import (
	"context"
	"fmt"
	"sort"
	"time"

	"faqrag/internal/domain"
)

// Scorer scores every (query, passage) pair jointly. The returned slice is
// parallel to passages.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// CrossEncoder reorders retrieved candidates by a joint relevance score.
type CrossEncoder struct {
	scorer  Scorer
	timeout time.Duration
}

func NewCrossEncoder(scorer Scorer, timeout time.Duration) *CrossEncoder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CrossEncoder{scorer: scorer, timeout: timeout}
}

// Rerank returns a copy of candidates with RerankScore set, sorted by it in
// descending order. Ties keep the incoming order. The input is not touched,
// so callers can fall back to it on error.
func (c *CrossEncoder) Rerank(ctx context.Context, question string, candidates []domain.Candidate) ([]domain.Candidate, error) {
	if len(candidates) == 0 {
		return []domain.Candidate{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	passages := make([]string, len(candidates))
	for i, cand := range candidates {
		passages[i] = cand.Text
	}
	scores, err := c.scorer.Score(ctx, question, passages)
	if err != nil {
		return nil, fmt.Errorf("%w: rerank: %v", domain.ErrCollaborator, err)
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("%w: rerank returned %d scores for %d passages", domain.ErrCollaborator, len(scores), len(candidates))
	}
	out := make([]domain.Candidate, len(candidates))
	for i, cand := range candidates {
		s := scores[i]
		cand.RerankScore = &s
		out[i] = cand
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].RerankScore > *out[j].RerankScore })
	return out, nil
}
