package chunker

import (
	"fmt"
	"strconv"
	"strings"

	"faqrag/internal/domain"
	"faqrag/internal/textproc"
)

// SentenceChunker splits text into sentence-based chunks with overlap.
// A chunk holds at most sentencesPerChunk sentences and, when maxChars is
// positive, is closed early once the next sentence would exceed maxChars.
type SentenceChunker struct {
	sentencesPerChunk int
	overlapSentences  int
	maxChars          int
}

func NewSentenceChunker(sentencesPerChunk, overlapSentences, maxChars int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 5
	}
	if overlapSentences < 0 {
		overlapSentences = 0
	}
	if overlapSentences >= sentencesPerChunk {
		overlapSentences = sentencesPerChunk - 1
	}
	return &SentenceChunker{
		sentencesPerChunk: sentencesPerChunk,
		overlapSentences:  overlapSentences,
		maxChars:          maxChars,
	}
}

func (c *SentenceChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	sentences := textproc.Sentences(document.Content)
	if len(sentences) == 0 {
		return nil, nil
	}
	var chunks []domain.Chunk
	i := 0
	idx := 0
	for i < len(sentences) {
		end := c.chunkEnd(sentences, i)
		chunk := domain.Chunk{
			ID:          document.ID + ":" + strconv.Itoa(idx),
			DocumentID:  document.ID,
			Index:       idx,
			Text:        strings.Join(sentences[i:end], " "),
			SourceLabel: fmt.Sprintf("%s #%d", document.Title, idx+1),
		}
		chunks = append(chunks, chunk)
		if end == len(sentences) {
			break
		}
		next := end - c.overlapSentences
		if next <= i {
			// a size-bounded chunk shorter than the overlap must still advance
			next = i + 1
		}
		i = next
		idx++
	}
	return chunks, nil
}

func (c *SentenceChunker) chunkEnd(sentences []string, start int) int {
	end := start + c.sentencesPerChunk
	if end > len(sentences) {
		end = len(sentences)
	}
	if c.maxChars <= 0 {
		return end
	}
	size := len(sentences[start])
	for j := start + 1; j < end; j++ {
		size += 1 + len(sentences[j])
		if size > c.maxChars {
			return j
		}
	}
	return end
}
