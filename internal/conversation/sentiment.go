package conversation

import (
	"context"
	"regexp"
	"strings"
)

// LexiconSentimentScorer scores negativity from a fixed keyword lexicon. It
// is the advisory input to the classifier; rule matches always outrank it.
type LexiconSentimentScorer struct {
	terms []weightedTerm
}

type weightedTerm struct {
	pattern *regexp.Regexp
	weight  float64
}

// NewLexiconSentimentScorer builds the default scorer.
func NewLexiconSentimentScorer() *LexiconSentimentScorer {
	entries := []struct {
		expr   string
		weight float64
	}{
		{`\bfurious\b`, 0.9},
		{`\bunacceptable\b`, 0.85},
		{`\bworst\b`, 0.8},
		{`\bterrible\b`, 0.75},
		{`\bhorrible\b`, 0.75},
		{`\bawful\b`, 0.7},
		{`\bdisgusting\b`, 0.7},
		{`\bnever (?:again|book)\b`, 0.7},
		{`\bangry\b`, 0.65},
		{`\bupset\b`, 0.55},
		{`\bdisappoint(?:ed|ing)\b`, 0.55},
		{`\bfrustrat(?:ed|ing)\b`, 0.5},
		{`\bannoy(?:ed|ing)\b`, 0.45},
		{`\bnot happy\b`, 0.45},
		{`!!+`, 0.3},
	}
	terms := make([]weightedTerm, 0, len(entries))
	for _, e := range entries {
		terms = append(terms, weightedTerm{
			pattern: regexp.MustCompile(`(?i)` + e.expr),
			weight:  e.weight,
		})
	}
	return &LexiconSentimentScorer{terms: terms}
}

var _ SentimentScorer = (*LexiconSentimentScorer)(nil)

// Score returns the strongest matching term's weight, nudged upward when
// several negative terms stack in one message. Neutral text scores zero.
func (s *LexiconSentimentScorer) Score(_ context.Context, text string) (float64, error) {
	lowered := strings.ToLower(text)
	var top float64
	matches := 0
	for _, t := range s.terms {
		if t.pattern.MatchString(lowered) {
			matches++
			if t.weight > top {
				top = t.weight
			}
		}
	}
	if matches > 1 {
		top += 0.05 * float64(matches-1)
	}
	if top > 1 {
		top = 1
	}
	return top, nil
}
