package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faqrag/internal/domain"
)

func TestChunkOverlap(t *testing.T) {
	c := NewSentenceChunker(2, 1, 0)
	doc := domain.Document{ID: "d", Title: "faq.txt", Content: "One. Two. Three. Four."}

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "One. Two.", chunks[0].Text)
	assert.Equal(t, "Two. Three.", chunks[1].Text)
	assert.Equal(t, "Three. Four.", chunks[2].Text)
	assert.Equal(t, "d:1", chunks[1].ID)
	assert.Equal(t, "faq.txt #2", chunks[1].SourceLabel)
}

func TestChunkMaxCharsBound(t *testing.T) {
	long := strings.Repeat("x", 30) + "."
	doc := domain.Document{ID: "d", Title: "t", Content: strings.Repeat(long+" ", 4)}
	c := NewSentenceChunker(5, 1, 70)

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Text), 70)
	}
	assert.Equal(t, long, chunks[len(chunks)-1].Text[len(chunks[len(chunks)-1].Text)-len(long):])
}

func TestChunkDeterministic(t *testing.T) {
	doc := domain.Document{ID: "d", Title: "t", Content: "A b c. D e f! G h i? J k l."}
	c := NewSentenceChunker(3, 1, 0)
	first, err := c.Chunk(doc)
	require.NoError(t, err)
	second, err := c.Chunk(doc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestChunkEmptyDocument(t *testing.T) {
	chunks, err := NewSentenceChunker(5, 1, 0).Chunk(domain.Document{ID: "d", Content: "   "})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
