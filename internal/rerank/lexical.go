package rerank

import (
	"context"
	"math"

	"faqrag/internal/textproc"
)

// LexicalScorer is a local joint model over the question and passage
// terms: weighted query term coverage, how early the matches appear and
// how close the passage is to a useful answer length. Scores are in [0, 1].
type LexicalScorer struct {
	CoverageWeight float64
	PositionWeight float64
	LengthWeight   float64
	IdealMin       int
	IdealMax       int
}

func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{
		CoverageWeight: 0.6,
		PositionWeight: 0.3,
		LengthWeight:   0.1,
		IdealMin:       8,
		IdealMax:       300,
	}
}

func (s *LexicalScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	queryTerms := unique(textproc.Terms(query))
	out := make([]float64, len(passages))
	for i, p := range passages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = s.score(queryTerms, textproc.Terms(p))
	}
	return out, nil
}

func (s *LexicalScorer) score(queryTerms, docTerms []string) float64 {
	if len(queryTerms) == 0 || len(docTerms) == 0 {
		return 0
	}
	freq := make(map[string]int, len(docTerms))
	first := make(map[string]int, len(docTerms))
	for i, t := range docTerms {
		if _, ok := freq[t]; !ok {
			first[t] = i
		}
		freq[t]++
	}

	matched := 0
	tf := 0.0
	position := 0.0
	for _, q := range queryTerms {
		f, ok := freq[q]
		if !ok {
			continue
		}
		matched++
		tf += math.Log(1 + float64(f))
		position += math.Exp(-2 * float64(first[q]) / float64(len(docTerms)))
	}
	n := float64(len(queryTerms))
	coverage := 0.5*float64(matched)/n + 0.5*math.Min(tf/n, 1)
	return s.CoverageWeight*coverage + s.PositionWeight*position/n + s.LengthWeight*s.lengthFit(len(docTerms))
}

func (s *LexicalScorer) lengthFit(n int) float64 {
	switch {
	case n < s.IdealMin:
		return float64(n) / float64(s.IdealMin)
	case n > s.IdealMax:
		return float64(s.IdealMax) / float64(n)
	default:
		return 1
	}
}

func unique(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
