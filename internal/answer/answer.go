package answer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"faqrag/internal/domain"
	"faqrag/internal/llm"
	"faqrag/internal/summarizer"
)

// FallbackText is returned whenever no grounded answer can be produced.
const FallbackText = "I'm sorry, I couldn't find an answer to that question in the FAQ. Please rephrase it or contact support."

// Answer is a synthesised response. Fallback answers always carry zero
// confidence.
type Answer struct {
	Text       string
	Confidence float64
	Fallback   bool
}

// Generator synthesises an answer from ranked passages. It never fails:
// every collaborator problem degrades to the fallback answer.
type Generator interface {
	Generate(ctx context.Context, question string, passages []domain.Candidate) Answer
}

// Fallback is the canned answer.
func Fallback() Answer { return Answer{Text: FallbackText, Fallback: true} }

// Confidence is the best score of the top passage clamped to [0, 1].
func Confidence(passages []domain.Candidate) float64 {
	if len(passages) == 0 {
		return 0
	}
	c := passages[0].BestScore()
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

func top(passages []domain.Candidate, n int) []domain.Candidate {
	if n > 0 && len(passages) > n {
		return passages[:n]
	}
	return passages
}

// Extractive answers with the most representative sentences of the top
// passages. It needs no model.
type Extractive struct {
	summarizer   *summarizer.FrequencySummarizer
	passages     int
	maxSentences int
}

func NewExtractive(s *summarizer.FrequencySummarizer, passages, maxSentences int) *Extractive {
	if passages <= 0 {
		passages = 3
	}
	return &Extractive{summarizer: s, passages: passages, maxSentences: maxSentences}
}

func (e *Extractive) Generate(_ context.Context, question string, passages []domain.Candidate) Answer {
	if len(passages) == 0 {
		return Fallback()
	}
	var b strings.Builder
	for _, p := range top(passages, e.passages) {
		b.WriteString(p.Text)
		b.WriteString("\n")
	}
	text := e.summarizer.Summarize(b.String(), question, e.maxSentences)
	if text == "" {
		return Fallback()
	}
	return Answer{Text: text, Confidence: Confidence(passages)}
}

// LLM grounds a completion on the top passages.
type LLM struct {
	completer llm.Completer
	passages  int
	timeout   time.Duration
	logger    *zap.Logger
}

func NewLLM(completer llm.Completer, passages int, timeout time.Duration, logger *zap.Logger) *LLM {
	if passages <= 0 {
		passages = 3
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLM{completer: completer, passages: passages, timeout: timeout, logger: logger}
}

func (g *LLM) Generate(ctx context.Context, question string, passages []domain.Candidate) Answer {
	if len(passages) == 0 {
		return Fallback()
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	out, err := g.completer.Complete(ctx, BuildPrompt(question, top(passages, g.passages)))
	if err != nil {
		g.logger.Warn("answer generation failed, using fallback", zap.Error(err))
		return Fallback()
	}
	if strings.TrimSpace(out) == "" {
		g.logger.Warn("answer generation returned empty output, using fallback")
		return Fallback()
	}
	return Answer{Text: strings.TrimSpace(out), Confidence: Confidence(passages)}
}

// BuildPrompt renders the grounded answering prompt.
func BuildPrompt(question string, passages []domain.Candidate) string {
	var b strings.Builder
	b.WriteString("You are a helpful customer support assistant. Answer the question using only the FAQ excerpts below.\n")
	b.WriteString("If the excerpts do not contain the answer, say that you don't know.\n\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i+1, p.SourceLabel, p.Text)
	}
	fmt.Fprintf(&b, "Question: %s\nAnswer:", question)
	return b.String()
}
