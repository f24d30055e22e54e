package rerank

import (
	"context"
	"strings"

	"github.com/modflowai/mfai-query/internal/search"
)

// OverlapScorer is a deterministic term-overlap scorer. It combines the
// backend similarity score with the fraction of query terms present in the
// snippet, weighting both halves equally. Used when no scoring model is
// configured and as the degraded path when one is unreachable.
type OverlapScorer struct{}

// NewOverlapScorer creates an OverlapScorer.
func NewOverlapScorer() *OverlapScorer {
	return &OverlapScorer{}
}

const (
	originalWeight = 0.5
	overlapWeight  = 0.5
)

// Score implements Scorer.
func (s *OverlapScorer) Score(_ context.Context, candidate search.Candidate, query string) (Scored, error) {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return Scored{Candidate: candidate, Relevance: candidate.Score}, nil
	}

	overlap := termOverlap(queryTerms, tokenize(candidate.Snippet))
	relevance := originalWeight*candidate.Score + overlapWeight*overlap

	return Scored{
		Candidate: candidate,
		Relevance: clamp01(relevance),
		Reasoning: "term overlap",
	}, nil
}

// termOverlap returns the fraction of query terms that occur in the
// document terms.
func termOverlap(queryTerms, docTerms []string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	docSet := make(map[string]struct{}, len(docTerms))
	for _, t := range docTerms {
		docSet[t] = struct{}{}
	}
	matched := 0
	for _, t := range queryTerms {
		if _, ok := docSet[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '_' || r == '-')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
