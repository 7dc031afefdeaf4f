package summarizer

import (
	"math"
	"sort"
	"strings"

	"faqrag/internal/textproc"
)

// FrequencySummarizer ranks sentences by term frequency across the input,
// boosted by overlap with an optional focus question.
type FrequencySummarizer struct {
	// FocusWeight is added per distinct focus term a sentence contains.
	FocusWeight float64
}

func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{FocusWeight: 1.0}
}

// Summarize returns up to maxSentences of the best ranked sentences of
// text in their original order. An empty focus ranks by frequency alone.
func (s *FrequencySummarizer) Summarize(text, focus string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	sentences := dedupe(textproc.Sentences(text))
	if len(sentences) == 0 {
		return ""
	}
	terms := make([][]string, len(sentences))
	freq := map[string]float64{}
	for i, sent := range sentences {
		terms[i] = textproc.Terms(sent)
		for _, t := range terms[i] {
			freq[t]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		if v > maxF {
			maxF = v
		}
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}
	focusTerms := textproc.TermSet(focus)

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i := range sentences {
		score := 0.0
		for _, t := range terms[i] {
			score += freq[t]
		}
		// normalise by length to avoid bias towards long sentences
		if l := float64(len(terms[i])); l > 0 {
			score /= math.Sqrt(l)
		}
		hit := map[string]struct{}{}
		for _, t := range terms[i] {
			if _, ok := focusTerms[t]; ok {
				hit[t] = struct{}{}
			}
		}
		score += s.FocusWeight * float64(len(hit))
		scores[i] = pair{i, score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if maxSentences > len(scores) {
		maxSentences = len(scores)
	}
	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, 0, len(selected))
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " ")
}

// dedupe drops repeated sentences, which overlapping chunks produce.
func dedupe(sentences []string) []string {
	seen := make(map[string]struct{}, len(sentences))
	out := sentences[:0]
	for _, s := range sentences {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
