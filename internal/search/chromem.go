package search

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/embeddings"
)

// ChromemConfig configures the embedded chromem searcher.
type ChromemConfig struct {
	// Path is the on-disk database location. Empty means in-memory.
	Path string
	// Compress enables gzip compression of persisted collections.
	Compress bool
	// Collection is the collection holding indexed documents.
	Collection string
	// TopK is the maximum number of candidates returned per call.
	TopK int
}

// ChromemSearcher is an embedded searcher with no external dependencies.
// Documents carry "path" and "repository" metadata set at indexing time.
type ChromemSearcher struct {
	db         *chromem.DB
	collection *chromem.Collection
	topK       int
}

// NewChromemSearcher creates a searcher backed by an embedded chromem store.
// The embedder generates query vectors; it must match the embedder used at
// indexing time.
func NewChromemSearcher(cfg ChromemConfig, embedder embeddings.Embedder) (*ChromemSearcher, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: collection required", ErrInvalidConfig)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}

	var db *chromem.DB
	var err error
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embeddingFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("opening collection %q: %w", cfg.Collection, err)
	}

	return &ChromemSearcher{
		db:         db,
		collection: collection,
		topK:       cfg.TopK,
	}, nil
}

// Index adds documents to the collection. Intended for local setups and
// tests; production corpora are indexed by the ingestion service.
func (s *ChromemSearcher) Index(ctx context.Context, candidates []Candidate) error {
	for _, c := range candidates {
		doc := chromem.Document{
			ID:      c.Repository + "/" + c.Path,
			Content: c.Snippet,
			Metadata: map[string]string{
				"path":       c.Path,
				"repository": c.Repository,
			},
		}
		if err := s.collection.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("adding document %s: %w", doc.ID, err)
		}
	}
	return nil
}

// Search implements Searcher.
func (s *ChromemSearcher) Search(ctx context.Context, query string, mode Mode, repository string) ([]Candidate, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}

	var where map[string]string
	if repository != "" {
		where = map[string]string{"repository": repository}
	}

	// chromem rejects nResults greater than the collection size.
	n := s.topK
	if count := s.collection.Count(); count < n {
		n = count
	}
	if n == 0 {
		return []Candidate{}, nil
	}

	results, err := s.collection.Query(ctx, query, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, Candidate{
			Path:       r.Metadata["path"],
			Repository: r.Metadata["repository"],
			Snippet:    r.Content,
			Score:      float64(r.Similarity),
		})
	}

	if mode == ModeExact {
		candidates = filterExact(query, candidates)
	}
	return candidates, nil
}

// Close implements Searcher.
func (s *ChromemSearcher) Close() error { return nil }

// embeddingFunc adapts a langchaingo embedder to chromem's callback.
func embeddingFunc(embedder embeddings.Embedder) chromem.EmbeddingFunc {
	if embedder == nil {
		// Fall back to chromem's default (local OpenAI-compatible server
		// configured via environment).
		return nil
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
}
