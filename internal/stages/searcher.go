package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modflowai/mfai-query/internal/rerank"
	"github.com/modflowai/mfai-query/internal/search"
	"github.com/modflowai/mfai-query/internal/workflow"
)

// RepositorySearcher retrieves candidate documents per target repository
// and re-ranks the combined set with an independent relevance score per
// candidate. One target's failure does not abort the search: it is
// recorded in the outcome and its results omitted. Only the failure of
// every target fails the stage.
type RepositorySearcher struct {
	searcher     search.Searcher
	scorer       rerank.Scorer
	repositories []string
	logger       *zap.Logger
}

// NewRepositorySearcher creates the stage. repositories is the default
// scope used when the analyzer does not restrict the search.
func NewRepositorySearcher(searcher search.Searcher, scorer rerank.Scorer, repositories []string, logger *zap.Logger) *RepositorySearcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RepositorySearcher{
		searcher:     searcher,
		scorer:       scorer,
		repositories: repositories,
		logger:       logger,
	}
}

// Name implements workflow.Stage.
func (s *RepositorySearcher) Name() string { return workflow.StageRepositorySearcher }

// Retryable implements workflow.Stage.
func (s *RepositorySearcher) Retryable() bool { return true }

// EstimatedDuration implements workflow.Stage.
func (s *RepositorySearcher) EstimatedDuration() time.Duration { return 5 * time.Second }

// ValidateInput implements workflow.Stage.
func (s *RepositorySearcher) ValidateInput(in workflow.StageInput) error {
	if in.Query == "" {
		return errors.New("query must not be empty")
	}
	if in.Analysis == nil {
		return errors.New("query analysis required")
	}
	return nil
}

// Execute implements workflow.Stage.
func (s *RepositorySearcher) Execute(ctx context.Context, in workflow.StageInput) (*workflow.Outcome, error) {
	scope := in.Analysis.Scope
	if len(scope) == 0 {
		scope = s.repositories
	}
	if len(scope) == 0 {
		// No repository restriction at all: one unscoped call.
		scope = []string{""}
	}

	var (
		candidates    []search.Candidate
		failedTargets []string
		faults        []workflow.Fault
	)

	for _, target := range scope {
		found, err := s.searchTarget(ctx, in.Query, in.Analysis.Strategy, target)
		if err != nil {
			s.logger.Warn("target search failed",
				zap.String("repository", target),
				zap.Error(err))
			failedTargets = append(failedTargets, target)
			faults = append(faults, faultFromError(err))
			continue
		}
		candidates = append(candidates, found...)
	}

	if len(failedTargets) == len(scope) {
		// Every target failed; nothing to rank.
		return failure(workflow.SearchOutput{FailedTargets: failedTargets}, faults...), nil
	}

	ranked := s.rank(ctx, in.Query, candidates)

	summary := fmt.Sprintf("found %d candidates across %d repositories", len(ranked), len(scope)-len(failedTargets))
	if len(failedTargets) > 0 {
		summary += fmt.Sprintf(" (%s unavailable)", strings.Join(failedTargets, ", "))
	}

	return &workflow.Outcome{
		Success:    true,
		Data:       workflow.SearchOutput{Candidates: ranked, FailedTargets: failedTargets},
		Summary:    summary,
		Confidence: searchConfidence(ranked),
		Faults:     faults,
	}, nil
}

// searchTarget issues the search call for one repository, translating the
// analyzer's strategy into the collaborator's mode. The hybrid strategy
// runs the two-branch dual search.
func (s *RepositorySearcher) searchTarget(ctx context.Context, query string, strategy workflow.SearchStrategy, repository string) ([]search.Candidate, error) {
	switch strategy {
	case workflow.StrategyExact:
		return s.searcher.Search(ctx, query, search.ModeExact, repository)

	case workflow.StrategyHybrid:
		merged, err := search.DualSearch(ctx, s.searcher, query, repository)
		if err != nil {
			return nil, err
		}
		out := make([]search.Candidate, len(merged))
		for i, m := range merged {
			out[i] = m.Candidate
		}
		return out, nil

	default:
		return s.searcher.Search(ctx, query, search.ModeConceptual, repository)
	}
}

// rank scores every candidate independently and sorts descending. A
// scoring failure for one candidate keeps its original backend score
// instead of dropping it.
func (s *RepositorySearcher) rank(ctx context.Context, query string, candidates []search.Candidate) []rerank.Scored {
	ranked := make([]rerank.Scored, 0, len(candidates))
	for _, c := range candidates {
		scored, err := s.scorer.Score(ctx, c, query)
		if err != nil {
			s.logger.Debug("candidate scoring failed, keeping backend score",
				zap.String("path", c.Path),
				zap.Error(err))
			scored = rerank.Scored{Candidate: c, Relevance: c.Score, Reasoning: "score unavailable"}
		}
		ranked = append(ranked, scored)
	}
	rerank.Rank(ranked)
	return ranked
}

func searchConfidence(ranked []rerank.Scored) float64 {
	if len(ranked) == 0 {
		return 0.2
	}
	// Confidence tracks the best candidate's relevance.
	return ranked[0].Relevance
}
