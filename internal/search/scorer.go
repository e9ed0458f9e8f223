// Package search scores and ranks indexed documents against a query. A
// document earns Weights.Title for every query term found in its title and
// Weights.Filter for every other query term its filter reports present.
package search

import (
	"slices"

	"github.com/dev-kumaralingam/xorsearch/internal/filter"
	"github.com/dev-kumaralingam/xorsearch/internal/tokenizer"
)

// Weights sets how much each kind of match is worth.
type Weights struct {
	Title  int
	Filter int
}

// DefaultWeights rates an exact title hit three times an approximate body hit.
var DefaultWeights = Weights{Title: 3, Filter: 1}

// Score computes the relevance of a document with the given title and filter.
// Every occurrence of a query term counts. A term that matches the title is
// not counted again through the filter.
func Score(title string, queryTerms []string, f *filter.Filter, w Weights) int {
	if len(queryTerms) == 0 {
		return 0
	}
	titleTerms := tokenizer.Tokenize(title)
	score := 0
	for _, term := range queryTerms {
		switch {
		case slices.Contains(titleTerms, term):
			score += w.Title
		case f.Contains(term):
			score += w.Filter
		}
	}
	return score
}
