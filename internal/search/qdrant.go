package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/qdrant"
)

// QdrantConfig configures the Qdrant-backed searcher.
type QdrantConfig struct {
	// URL is the Qdrant server URL (e.g. http://localhost:6333).
	URL string
	// Collection is the Qdrant collection holding indexed documents.
	Collection string
	// TopK is the maximum number of candidates returned per call.
	TopK int
}

// QdrantSearcher retrieves candidates from a Qdrant collection via
// langchaingo's vector store binding. Documents carry "path" and
// "repository" metadata set by the ingestion service.
type QdrantSearcher struct {
	store vectorstores.VectorStore
	topK  int
}

// NewQdrantSearcher creates a searcher for the given Qdrant deployment.
func NewQdrantSearcher(cfg QdrantConfig, embedder embeddings.Embedder) (*QdrantSearcher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: URL required", ErrInvalidConfig)
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: collection required", ErrInvalidConfig)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}

	qdrantURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing Qdrant URL: %w", err)
	}

	opts := []qdrant.Option{
		qdrant.WithURL(*qdrantURL),
		qdrant.WithCollectionName(cfg.Collection),
	}
	if embedder != nil {
		opts = append(opts, qdrant.WithEmbedder(embedder))
	}

	store, err := qdrant.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating Qdrant store: %w", err)
	}

	return &QdrantSearcher{store: store, topK: cfg.TopK}, nil
}

// Search implements Searcher.
func (s *QdrantSearcher) Search(ctx context.Context, query string, mode Mode, repository string) ([]Candidate, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}

	var opts []vectorstores.Option
	if repository != "" {
		opts = append(opts, vectorstores.WithFilters(repositoryFilter(repository)))
	}

	docs, err := s.store.SimilaritySearch(ctx, query, s.topK, opts...)
	if err != nil {
		return nil, classifySearchError(err)
	}

	candidates := make([]Candidate, 0, len(docs))
	for _, doc := range docs {
		candidates = append(candidates, Candidate{
			Path:       metadataString(doc.Metadata, "path"),
			Repository: metadataString(doc.Metadata, "repository"),
			Snippet:    doc.PageContent,
			Score:      float64(doc.Score),
		})
	}

	if mode == ModeExact {
		candidates = filterExact(query, candidates)
	}
	return candidates, nil
}

// Close implements Searcher.
func (s *QdrantSearcher) Close() error { return nil }

// repositoryFilter builds a Qdrant payload filter restricting results to
// one repository.
func repositoryFilter(repository string) map[string]interface{} {
	return map[string]interface{}{
		"must": []map[string]interface{}{
			{
				"key":   "metadata.repository",
				"match": map[string]interface{}{"value": repository},
			},
		},
	}
}

func metadataString(metadata map[string]interface{}, key string) string {
	if v, ok := metadata[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// classifySearchError maps transport failures onto ErrUnavailable so the
// pipeline can classify them without inspecting HTTP details.
func classifySearchError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "connection reset", "no such host", "status code: 502", "status code: 503", "unavailable"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return err
}
