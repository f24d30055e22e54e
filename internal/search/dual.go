package search

import (
	"context"
	"sync"
)

// MergedCandidate is a candidate produced by a dual search, annotated with
// which branches matched it.
type MergedCandidate struct {
	Candidate
	// ExactMatch is true if the exact branch returned this document.
	ExactMatch bool
	// Overlap is true if both branches returned this document.
	Overlap bool
}

// DualSearch runs the exact and conceptual branches of a query
// simultaneously against one repository and merges the results.
//
// The merge is deterministic: results are deduplicated by document path,
// the exact-branch version of a document is preferred, and documents found
// by both branches are marked as overlapping. Exact matches order first,
// each branch's internal order is preserved.
//
// If exactly one branch fails the other's results are returned; only the
// failure of both branches is an error.
func DualSearch(ctx context.Context, searcher Searcher, query, repository string) ([]MergedCandidate, error) {
	var wg sync.WaitGroup
	var exact, conceptual []Candidate
	var exactErr, conceptErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		exact, exactErr = searcher.Search(ctx, query, ModeExact, repository)
	}()
	go func() {
		defer wg.Done()
		conceptual, conceptErr = searcher.Search(ctx, query, ModeConceptual, repository)
	}()
	wg.Wait()

	if exactErr != nil && conceptErr != nil {
		return nil, exactErr
	}

	seen := make(map[string]int, len(exact))
	merged := make([]MergedCandidate, 0, len(exact)+len(conceptual))

	for _, c := range exact {
		seen[c.Path] = len(merged)
		merged = append(merged, MergedCandidate{Candidate: c, ExactMatch: true})
	}
	for _, c := range conceptual {
		if i, ok := seen[c.Path]; ok {
			merged[i].Overlap = true
			continue
		}
		merged = append(merged, MergedCandidate{Candidate: c})
	}

	return merged, nil
}
