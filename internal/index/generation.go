package index

import (
	"context"
	"time"

	"faqrag/internal/domain"
	"faqrag/internal/embedding"
	"faqrag/internal/vectorstore"
)

// Generation is one fully built index: a vector collection together with
// the embedder fitted on its chunks. A generation never changes after it
// is published.
type Generation struct {
	Collection string
	Embedder   embedding.Embedder
	Chunks     []domain.Chunk
	BuiltAt    time.Time

	store   vectorstore.Storage
	byID    map[string]int
	byLabel map[string]int
}

func newGeneration(collection string, emb embedding.Embedder, chunks []domain.Chunk, store vectorstore.Storage, builtAt time.Time) *Generation {
	g := &Generation{
		Collection: collection,
		Embedder:   emb,
		Chunks:     chunks,
		BuiltAt:    builtAt,
		store:      store,
		byID:       make(map[string]int, len(chunks)),
		byLabel:    make(map[string]int, len(chunks)),
	}
	for i, ch := range chunks {
		g.byID[ch.ID] = i
		if _, ok := g.byLabel[ch.SourceLabel]; !ok {
			g.byLabel[ch.SourceLabel] = i
		}
	}
	return g
}

// Dimension is the embedding dimension of the stored vectors.
func (g *Generation) Dimension() int {
	if len(g.Chunks) > 0 && len(g.Chunks[0].Embedding) > 0 {
		return len(g.Chunks[0].Embedding)
	}
	return g.Embedder.Dimension()
}

// Search runs a similarity search against this generation's collection.
func (g *Generation) Search(ctx context.Context, vector []float64, topK int) ([]domain.SearchResult, error) {
	return g.store.Search(ctx, g.Collection, vector, topK)
}

// Chunk looks a chunk up by id.
func (g *Generation) Chunk(id string) (domain.Chunk, bool) {
	i, ok := g.byID[id]
	if !ok {
		return domain.Chunk{}, false
	}
	return g.Chunks[i], true
}

// Resolve maps a source reference recorded with feedback back to a chunk.
// References are chunk ids; source labels are accepted for records written
// by clients that only know the label.
func (g *Generation) Resolve(ref string) (domain.Chunk, bool) {
	if ch, ok := g.Chunk(ref); ok {
		return ch, true
	}
	i, ok := g.byLabel[ref]
	if !ok {
		return domain.Chunk{}, false
	}
	return g.Chunks[i], true
}
