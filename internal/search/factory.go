package search

import (
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"go.uber.org/zap"
)

// Config selects and configures a search provider.
type Config struct {
	// Provider is "chromem" (default, embedded) or "qdrant".
	Provider string
	Chromem  ChromemConfig
	Qdrant   QdrantConfig
}

// NewSearcher creates a Searcher based on the configuration.
//
//   - "chromem" (default): embedded store, no external dependencies
//   - "qdrant": external Qdrant server
func NewSearcher(cfg Config, embedder embeddings.Embedder, logger *zap.Logger) (Searcher, error) {
	switch cfg.Provider {
	case "chromem", "":
		logger.Info("using embedded chromem search provider",
			zap.String("path", cfg.Chromem.Path),
			zap.String("collection", cfg.Chromem.Collection))
		return NewChromemSearcher(cfg.Chromem, embedder)

	case "qdrant":
		logger.Info("using qdrant search provider",
			zap.String("url", cfg.Qdrant.URL),
			zap.String("collection", cfg.Qdrant.Collection))
		return NewQdrantSearcher(cfg.Qdrant, embedder)

	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
