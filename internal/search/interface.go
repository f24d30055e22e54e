// Package search provides document retrieval over indexed repositories.
//
// Two providers are available behind the Searcher interface: an embedded
// chromem store for local use and a Qdrant-backed store for deployments.
// A search is always scoped to a single repository; callers fan out over
// their target set and decide how to treat per-target failures.
package search

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable indicates the search backend could not be reached.
	ErrUnavailable = errors.New("search: backend unavailable")

	// ErrInvalidConfig indicates invalid searcher configuration.
	ErrInvalidConfig = errors.New("search: invalid configuration")

	// ErrEmptyQuery indicates an empty search query.
	ErrEmptyQuery = errors.New("search: empty query")
)

// Mode selects the matching behavior of a search call.
type Mode string

const (
	// ModeExact favors literal term matches.
	ModeExact Mode = "exact"
	// ModeConceptual favors semantic similarity.
	ModeConceptual Mode = "conceptual"
)

// Candidate is one retrieved document.
type Candidate struct {
	// Path identifies the document within its repository.
	Path string `json:"path"`
	// Repository is the repository the document belongs to.
	Repository string `json:"repository"`
	// Snippet is the matched content excerpt.
	Snippet string `json:"snippet"`
	// Score is the backend similarity score in [0,1].
	Score float64 `json:"score"`
}

// Searcher retrieves candidate documents for a query.
//
// An empty repository means the call is not restricted to one repository.
type Searcher interface {
	Search(ctx context.Context, query string, mode Mode, repository string) ([]Candidate, error)
	Close() error
}

// filterExact keeps candidates whose snippet contains at least one of the
// query terms, preserving order. Used to sharpen exact-mode results on
// backends that only support similarity retrieval.
func filterExact(query string, candidates []Candidate) []Candidate {
	terms := tokenize(query)
	if len(terms) == 0 {
		return candidates
	}
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if containsAnyTerm(c.Snippet, terms) {
			out = append(out, c)
		}
	}
	return out
}
