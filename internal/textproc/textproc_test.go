package textproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStem(t *testing.T) {
	cases := map[string]string{
		"refunds":   "refund",
		"refund":    "refund",
		"policies":  "policy",
		"processed": "process",
		"shipping":  "shipp",
		"class":     "class",
		"status":    "status",
		"days":      "day",
		"is":        "is",
	}
	for in, want := range cases {
		assert.Equal(t, want, Stem(in), in)
	}
}

func TestTermsDropsStopwordsAndStems(t *testing.T) {
	assert.Equal(t, []string{"refund", "policy"}, Terms("What is the refund policy?"))
	assert.Equal(t, []string{"refund", "process", "within", "14", "day"}, Terms("Refunds are processed within 14 days"))
}

func TestSentences(t *testing.T) {
	assert.Equal(t, []string{"One.", "Two!", "Three"}, Sentences("One. Two! Three"))
	assert.Equal(t, []string{"no terminator"}, Sentences("  no terminator "))
	assert.Nil(t, Sentences("   "))
}
