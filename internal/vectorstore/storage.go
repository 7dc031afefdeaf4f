package vectorstore

import (
	"context"

	"faqrag/internal/domain"
)

// Storage persists chunk vectors in named collections and supports
// similarity search. Chunk.Embedding carries the vector on Upsert and is
// populated again by Chunks. Vectors are expected to be L2-normalised.
type Storage interface {
	Create(ctx context.Context, collection string, dimension int) error
	Upsert(ctx context.Context, collection string, chunks []domain.Chunk) error
	Search(ctx context.Context, collection string, vector []float64, topK int) ([]domain.SearchResult, error)
	Chunks(ctx context.Context, collection string) ([]domain.Chunk, error)
	Count(ctx context.Context, collection string) (int, error)
	Collections(ctx context.Context) ([]string, error)
	Drop(ctx context.Context, collection string) error
}
