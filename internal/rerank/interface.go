// Package rerank provides relevance re-scoring of search candidates.
//
// Searchers return backend similarity scores; a Scorer produces an
// independent relevance judgment per candidate against the original query.
// Final result order is always derived from the relevance score, never
// from retrieval order.
package rerank

import (
	"context"
	"sort"

	"github.com/modflowai/mfai-query/internal/search"
)

// Scored is a candidate with its relevance judgment.
type Scored struct {
	search.Candidate
	// Relevance is the scorer's judgment in [0,1].
	Relevance float64 `json:"relevance"`
	// Reasoning is the scorer's short justification, if any.
	Reasoning string `json:"reasoning,omitempty"`
}

// Scorer judges how relevant one candidate is to a query.
type Scorer interface {
	Score(ctx context.Context, candidate search.Candidate, query string) (Scored, error)
}

// Rank sorts candidates by relevance, descending. The sort is stable so
// equal-relevance candidates keep their incoming order.
func Rank(candidates []Scored) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Relevance > candidates[j].Relevance
	})
}
