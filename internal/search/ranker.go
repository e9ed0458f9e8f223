package search

import (
	"cmp"
	"slices"

	"github.com/dev-kumaralingam/xorsearch/internal/store"
	"github.com/dev-kumaralingam/xorsearch/internal/tokenizer"
)

// Result is a matching document and its score.
type Result struct {
	Document store.DocumentID `json:"document"`
	Score    int              `json:"score"`
}

// Rank scores every document in s against query and returns the top limit
// matches in descending score order, plus the number of matches before
// truncation. Documents scoring zero are not matches. Ties keep storage
// order. A limit of zero or less returns no results and does no scoring.
func Rank(s *store.Storage, query string, limit int, w Weights) ([]Result, int) {
	if limit <= 0 || s == nil {
		return []Result{}, 0
	}
	terms := tokenizer.Tokenize(query)
	if len(terms) == 0 {
		return []Result{}, 0
	}

	matches := make([]Result, 0)
	for _, doc := range s.All() {
		score := Score(doc.ID.Title, terms, doc.Filter, w)
		if score <= 0 {
			continue
		}
		matches = append(matches, Result{Document: doc.ID, Score: score})
	}
	slices.SortStableFunc(matches, func(a, b Result) int {
		return cmp.Compare(b.Score, a.Score)
	})
	total := len(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, total
}

// Search returns the identities of the top limit documents for query.
func Search(s *store.Storage, query string, limit int, w Weights) []store.DocumentID {
	results, _ := Rank(s, query, limit, w)
	ids := make([]store.DocumentID, len(results))
	for i, r := range results {
		ids[i] = r.Document
	}
	return ids
}
