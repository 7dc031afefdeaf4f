package retriever

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"faqrag/internal/adaptor"
	"faqrag/internal/domain"
	"faqrag/internal/embedding"
	"faqrag/internal/index"
	"faqrag/internal/textproc"
)

// DefaultTopK bounds the merged candidate list when no limit is configured.
const DefaultTopK = 10

// Generations yields the index generation to search.
type Generations interface {
	Current() (*index.Generation, error)
}

// Result is the merged candidate list of one retrieval.
type Result struct {
	Candidates     []domain.Candidate
	UsedAdaptor    bool
	AdaptorVersion int64
}

type Retriever struct {
	indexes  Generations
	adaptors *adaptor.Holder
	topK     int
	logger   *zap.Logger
}

func New(indexes Generations, adaptors *adaptor.Holder, topK int, logger *zap.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{indexes: indexes, adaptors: adaptors, topK: topK, logger: logger}
}

// Retrieve searches every query concurrently and merges the hits by chunk
// id keeping the best score. queries[0] must be the original question: a
// failure to embed it fails the request, failures on the other queries only
// narrow recall.
func (r *Retriever) Retrieve(ctx context.Context, queries []string, useAdaptor bool) (Result, error) {
	if len(queries) == 0 {
		return Result{}, fmt.Errorf("%w: no query", domain.ErrValidation)
	}
	gen, err := r.indexes.Current()
	if err != nil {
		return Result{}, err
	}

	var res Result
	var ad *adaptor.Adaptor
	if useAdaptor {
		if a := r.adaptors.Load(); a.Compatible(gen.Dimension()) {
			ad = a
			res.UsedAdaptor = true
			res.AdaptorVersion = a.Version
		}
	}

	hits := make([][]domain.SearchResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			found, err := r.search(gctx, gen, ad, q)
			if err == nil {
				hits[i] = found
				return nil
			}
			if i == 0 || errors.Is(err, domain.ErrIndexUnavailable) {
				return err
			}
			r.logger.Warn("expanded query skipped", zap.String("query", q), zap.Error(err))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	res.Candidates = Merge(hits, r.topK)
	return res, nil
}

func (r *Retriever) search(ctx context.Context, gen *index.Generation, ad *adaptor.Adaptor, query string) ([]domain.SearchResult, error) {
	vec, err := gen.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", domain.ErrCollaborator, err)
	}
	if embedding.IsZero(vec) {
		return lexicalSearch(gen.Chunks, query, r.topK), nil
	}
	if ad != nil {
		vec = ad.Apply(vec)
	}
	found, err := gen.Search(ctx, vec, r.topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	for _, f := range found {
		if f.Score > 1e-9 {
			return found, nil
		}
	}
	return lexicalSearch(gen.Chunks, query, r.topK), nil
}

// Merge flattens per-query hits in query order, keeps the highest score per
// chunk, sorts by descending score and truncates to topK. Ties keep the
// order of first appearance.
func Merge(hits [][]domain.SearchResult, topK int) []domain.Candidate {
	pos := make(map[string]int)
	var out []domain.Candidate
	for _, list := range hits {
		for _, h := range list {
			if i, ok := pos[h.Chunk.ID]; ok {
				if h.Score > out[i].VectorScore {
					out[i].VectorScore = h.Score
				}
				continue
			}
			pos[h.Chunk.ID] = len(out)
			out = append(out, domain.Candidate{
				ChunkID:     h.Chunk.ID,
				Text:        h.Chunk.Text,
				SourceLabel: h.Chunk.SourceLabel,
				VectorScore: h.Score,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].VectorScore > out[j].VectorScore })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// lexicalSearch ranks chunks by the Ochiai coefficient of their term sets.
// It serves queries whose embedding carries no signal.
func lexicalSearch(chunks []domain.Chunk, query string, topK int) []domain.SearchResult {
	qset := textproc.TermSet(query)
	if len(qset) == 0 {
		return nil
	}
	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, 0, len(chunks))
	for i, ch := range chunks {
		if s := ochiai(qset, textproc.TermSet(ch.Text)); s > 0 {
			scores = append(scores, pair{i, s})
		}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if topK > len(scores) {
		topK = len(scores)
	}
	out := make([]domain.SearchResult, 0, topK)
	for _, p := range scores[:topK] {
		out = append(out, domain.SearchResult{Chunk: chunks[p.idx], Score: p.score})
	}
	return out
}

// ochiai is |A∩B| / sqrt(|A||B|).
func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}
