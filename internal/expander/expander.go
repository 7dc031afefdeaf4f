package expander

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"faqrag/internal/llm"
)

// MaxExpansions caps how many generated phrasings are added to a question.
const MaxExpansions = 3

// Expander widens a question into related queries. The original question
// is always the first element of the result.
type Expander interface {
	Expand(ctx context.Context, question string) []string
}

// None performs no expansion.
type None struct{}

func (None) Expand(_ context.Context, question string) []string { return []string{question} }

// LLM asks a completer for alternative phrasings.
type LLM struct {
	completer llm.Completer
	max       int
	timeout   time.Duration
	logger    *zap.Logger
}

func NewLLM(completer llm.Completer, maxExpansions int, timeout time.Duration, logger *zap.Logger) *LLM {
	if maxExpansions <= 0 || maxExpansions > MaxExpansions {
		maxExpansions = MaxExpansions
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LLM{completer: completer, max: maxExpansions, timeout: timeout, logger: logger}
}

const promptTemplate = `Rewrite the following question in %d different ways that a customer might ask it.
Keep the meaning. Return one question per line with no numbering and no extra text.

Question: %s`

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]+|\d+[.)]|\(\d+\))\s*`)

// Expand never fails: a collaborator error degrades to the original question.
func (e *LLM) Expand(ctx context.Context, question string) []string {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.completer.Complete(ctx, fmt.Sprintf(promptTemplate, e.max, question))
	if err != nil {
		e.logger.Warn("query expansion failed, using original question", zap.Error(err))
		return []string{question}
	}
	return ParseExpansions(question, out, e.max)
}

// ParseExpansions turns a completion into the expanded query list: list
// markers and quotes are stripped, blanks and case-insensitive duplicates
// dropped, and at most max phrasings kept after the original.
func ParseExpansions(question, completion string, max int) []string {
	queries := []string{question}
	seen := map[string]struct{}{normalize(question): {}}
	for _, line := range strings.Split(completion, "\n") {
		if len(queries) > max {
			break
		}
		line = listMarker.ReplaceAllString(line, "")
		line = strings.Trim(strings.TrimSpace(line), `"'“”`)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key := normalize(line)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		queries = append(queries, line)
	}
	return queries
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
