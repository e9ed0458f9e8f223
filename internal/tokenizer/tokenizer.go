// Package tokenizer normalises free text into search terms. It lower-cases
// input and splits on runs of white space. There is no stemming and no
// stop-word removal: a term is exactly a lower-cased whitespace-delimited word.
package tokenizer

import (
	"strings"
)

// Tokenize breaks text into lower-cased terms in their original order.
// Duplicates are kept.
func Tokenize(text string) []string {
	words := strings.Fields(strings.ToLower(text))
	terms := make([]string, 0, len(words))
	for _, word := range words {
		if strings.TrimSpace(word) == "" {
			continue
		}
		terms = append(terms, word)
	}
	return terms
}

// Join renders terms back into text that Tokenize maps to the same terms.
func Join(terms []string) string {
	return strings.Join(terms, " ")
}

// Unique returns terms with repeats removed, keeping the first occurrence.
func Unique(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}
