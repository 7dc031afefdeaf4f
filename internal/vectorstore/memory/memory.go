package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"faqrag/internal/domain"
)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
type Storage struct {
	mu          sync.RWMutex
	collections map[string]*Collection
}

func NewStorage() *Storage { return &Storage{collections: make(map[string]*Collection)} }

// Collection is one named vector set. It is safe for concurrent use.
type Collection struct {
	mu        sync.RWMutex
	dimension int
	chunks    []domain.Chunk
}

// NewCollection creates an empty collection of the given dimension.
func NewCollection(dimension int) (*Collection, error) {
	if dimension <= 0 {
		return nil, errors.New("invalid dimension")
	}
	return &Collection{dimension: dimension}, nil
}

// Dimension returns the vector size accepted by the collection.
func (c *Collection) Dimension() int { return c.dimension }

// Add appends chunks after checking every vector against the collection dimension.
func (c *Collection) Add(chunks []domain.Chunk) error {
	for _, ch := range chunks {
		if len(ch.Embedding) != c.dimension {
			return fmt.Errorf("vector dimension mismatch for %s: %d != %d", ch.ID, len(ch.Embedding), c.dimension)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, chunks...)
	return nil
}

// Search returns the topK chunks by dot product. Ties keep insertion order.
func (c *Collection) Search(vector []float64, topK int) []domain.SearchResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if topK <= 0 {
		topK = 5
	}
	// compute cosine similarity (vectors are assumed L2-normalized)
	scores := make([]float64, len(c.chunks))
	for i := range c.chunks {
		scores[i] = dot(c.chunks[i].Embedding, vector)
	}
	idxs := argsortDesc(scores)
	if topK > len(idxs) {
		topK = len(idxs)
	}
	results := make([]domain.SearchResult, 0, topK)
	for i := 0; i < topK; i++ {
		j := idxs[i]
		results = append(results, domain.SearchResult{Chunk: c.chunks[j], Score: scores[j]})
	}
	return results
}

// Chunks returns a copy of the stored chunks in insertion order.
func (c *Collection) Chunks() []domain.Chunk {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Chunk, len(c.chunks))
	copy(out, c.chunks)
	return out
}

// Len returns the number of stored chunks.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.chunks)
}

func (s *Storage) Create(_ context.Context, collection string, dimension int) error {
	col, err := NewCollection(dimension)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection]; ok {
		return fmt.Errorf("collection %s already exists", collection)
	}
	s.collections[collection] = col
	return nil
}

// Put registers an existing collection under a name, replacing any previous one.
func (s *Storage) Put(collection string, col *Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = col
}

// Get returns the named collection, if present.
func (s *Storage) Get(collection string) (*Collection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[collection]
	return col, ok
}

func (s *Storage) Upsert(_ context.Context, collection string, chunks []domain.Chunk) error {
	col, err := s.get(collection)
	if err != nil {
		return err
	}
	return col.Add(chunks)
}

func (s *Storage) Search(_ context.Context, collection string, vector []float64, topK int) ([]domain.SearchResult, error) {
	col, err := s.get(collection)
	if err != nil {
		return nil, err
	}
	return col.Search(vector, topK), nil
}

func (s *Storage) Chunks(_ context.Context, collection string) ([]domain.Chunk, error) {
	col, err := s.get(collection)
	if err != nil {
		return nil, err
	}
	return col.Chunks(), nil
}

func (s *Storage) Count(_ context.Context, collection string) (int, error) {
	col, err := s.get(collection)
	if err != nil {
		return 0, err
	}
	return col.Len(), nil
}

func (s *Storage) Collections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Storage) Drop(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collection)
	return nil
}

func (s *Storage) get(collection string) (*Collection, error) {
	col, ok := s.Get(collection)
	if !ok {
		return nil, fmt.Errorf("collection %s not found", collection)
	}
	return col, nil
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func argsortDesc(vals []float64) []int {
	idxs := make([]int, len(vals))
	for i := range vals {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool { return vals[idxs[a]] > vals[idxs[b]] })
	return idxs
}
