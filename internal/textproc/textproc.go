// Package textproc holds the tokenizer shared by the embedder, the lexical
// re-ranker and the summarizer so that all of them agree on what a term is.
package textproc

import (
	"regexp"
	"strings"
)

var (
	tokenPattern    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
	sentencePattern = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// Tokens returns the lower-cased word and number tokens of text.
func Tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// Terms returns the stemmed tokens of text with stopwords removed.
func Terms(text string) []string {
	raw := Tokens(text)
	out := raw[:0]
	for _, t := range raw {
		if IsStopword(t) {
			continue
		}
		out = append(out, Stem(t))
	}
	return out
}

// TermSet returns the distinct terms of text.
func TermSet(text string) map[string]struct{} {
	terms := Terms(text)
	m := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		m[t] = struct{}{}
	}
	return m
}

// Sentences splits text on terminal punctuation. Text without any terminator
// is returned as a single sentence.
func Sentences(text string) []string {
	found := sentencePattern.FindAllString(text, -1)
	if len(found) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}
	out := make([]string, 0, len(found)+1)
	consumed := 0
	for _, s := range found {
		consumed += len(s)
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	// trailing text without a terminator
	if consumed < len(text) {
		if idx := strings.LastIndexAny(text, ".!?"); idx >= 0 {
			if rest := strings.TrimSpace(text[idx+1:]); rest != "" {
				out = append(out, rest)
			}
		}
	}
	return out
}

// Stem strips common English inflection suffixes. It is intentionally
// light: "refunds" and "refund" meet, "policies" and "policy" meet.
func Stem(word string) string {
	n := len(word)
	switch {
	case n > 4 && strings.HasSuffix(word, "ies"):
		return word[:n-3] + "y"
	case n > 4 && strings.HasSuffix(word, "sses"):
		return word[:n-2]
	case n > 5 && strings.HasSuffix(word, "ing"):
		return word[:n-3]
	case n > 4 && strings.HasSuffix(word, "ed") && !strings.HasSuffix(word, "eed"):
		return word[:n-2]
	case n > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") && !strings.HasSuffix(word, "us"):
		return word[:n-1]
	}
	return word
}

// IsStopword reports whether a lower-cased token carries no retrieval signal.
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "whom", "when", "where", "why", "how", "do", "does", "did", "i", "me", "my", "we", "our", "you", "your", "there", "their", "its", "any", "have", "has", "had",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
