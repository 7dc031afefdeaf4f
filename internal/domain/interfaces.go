package domain

import "time"

// Document represents a single unit of source text loaded into the system.
// A text file yields one Document, a PDF yields one per page.
type Document struct {
	ID      string
	Path    string
	Title   string
	Content string
}

// Chunk is a bounded span of a document indexed as one retrievable unit.
// Chunks are immutable once indexed.
type Chunk struct {
	ID          string
	DocumentID  string
	Index       int
	Text        string
	SourceLabel string
	Embedding   []float64
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Candidate is a retrieved chunk carried through re-ranking and answering.
// RerankScore is nil until a cross-encoder has scored the pair.
type Candidate struct {
	ChunkID     string   `json:"chunk_id"`
	Text        string   `json:"text"`
	SourceLabel string   `json:"source_label"`
	VectorScore float64  `json:"vector_score"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

// BestScore returns the rerank score when present, the vector score otherwise.
func (c Candidate) BestScore() float64 {
	if c.RerankScore != nil {
		return *c.RerankScore
	}
	return c.VectorScore
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// QuerySession is the cached metadata of an answered question, used to
// reconcile feedback that only carries the query id.
type QuerySession struct {
	QueryID    string    `json:"query_id" db:"query_id"`
	Question   string    `json:"question" db:"question"`
	Sources    []string  `json:"sources" db:"-"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	FeedbackID string    `json:"feedback_id,omitempty" db:"feedback_id"`
	Rating     int       `json:"rating,omitempty" db:"rating"`
	Comment    string    `json:"comment,omitempty" db:"comment"`
}

// FeedbackSummary is the part of a stored feedback record attached to its session.
type FeedbackSummary struct {
	FeedbackID string
	Rating     int
	Comment    string
}

// FeedbackRecord is one append-only user judgement of an answer.
type FeedbackRecord struct {
	ID        string    `json:"feedback_id"`
	Seq       int64     `json:"seq"`
	QueryID   string    `json:"query_id"`
	Question  string    `json:"question"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	Sources   []string  `json:"sources"`
	CreatedAt time.Time `json:"timestamp"`
}

// SourceHelpfulness aggregates the ratings of answers that used a source.
type SourceHelpfulness struct {
	Source        string  `json:"source"`
	SourceLabel   string  `json:"source_label,omitempty"`
	Count         int     `json:"count"`
	AverageRating float64 `json:"average_rating"`
	Helpful       int     `json:"helpful"`
	Unhelpful     int     `json:"unhelpful"`
}

// FeedbackStats is derived from the feedback store on every call.
type FeedbackStats struct {
	Count         int                 `json:"count"`
	AverageRating float64             `json:"average_rating"`
	Histogram     map[int]int         `json:"rating_histogram"`
	Sources       []SourceHelpfulness `json:"sources"`
}

// ExpansionDetails reports how a question was widened before retrieval.
type ExpansionDetails struct {
	Original string   `json:"original"`
	Queries  []string `json:"queries"`
}

// QueryResponse is the result of answering a question.
type QueryResponse struct {
	QueryID        string           `json:"query_id"`
	Answer         string           `json:"answer"`
	Confidence     float64          `json:"confidence"`
	Fallback       bool             `json:"fallback"`
	Sources        []Candidate      `json:"sources"`
	Expansion      ExpansionDetails `json:"expansion_details"`
	UseAdaptor     bool             `json:"use_adaptor"`
	AdaptorVersion int64            `json:"adaptor_version"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Health summarises the serving state of the system.
type Health struct {
	DocumentCount  int   `json:"document_count"`
	FeedbackCount  int   `json:"feedback_count"`
	AdaptorTrained bool  `json:"adaptor_trained"`
	AdaptorVersion int64 `json:"adaptor_version"`
	Training       bool  `json:"training"`
}
