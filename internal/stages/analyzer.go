package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modflowai/mfai-query/internal/llm"
	"github.com/modflowai/mfai-query/internal/workflow"
)

const analyzerSystemPromptFormat = `You plan how to search groundwater modeling documentation for a user question.

Available repositories: %s

Respond with a single JSON object, no other text:
{
  "strategy": "semantic" | "exact" | "hybrid",
  "repositories": [subset of the available repositories, empty to search all],
  "keywords": [extracted search keywords],
  "search_type": "documentation" | "list_repositories"
}

Use "exact" when the question names a specific keyword, file or error message, "semantic" for conceptual questions, "hybrid" when both apply. Use "list_repositories" only when the user asks what repositories or documentation sets are available.`

// QueryAnalyzer produces the search plan: a strategy, a target scope and
// extracted keywords. It also detects list-repositories requests, which
// the orchestrator turns into a fast path past validation and search.
type QueryAnalyzer struct {
	generator    llm.Generator
	repositories []string
	temperature  float64
}

// NewQueryAnalyzer creates the stage. repositories is the full searchable
// set, given to the model so scopes stay within it.
func NewQueryAnalyzer(generator llm.Generator, repositories []string) *QueryAnalyzer {
	return &QueryAnalyzer{generator: generator, repositories: repositories, temperature: 0.0}
}

// Name implements workflow.Stage.
func (s *QueryAnalyzer) Name() string { return workflow.StageQueryAnalyzer }

// Retryable implements workflow.Stage.
func (s *QueryAnalyzer) Retryable() bool { return true }

// EstimatedDuration implements workflow.Stage.
func (s *QueryAnalyzer) EstimatedDuration() time.Duration { return 3 * time.Second }

// ValidateInput implements workflow.Stage.
func (s *QueryAnalyzer) ValidateInput(in workflow.StageInput) error {
	if in.Query == "" {
		return errors.New("query must not be empty")
	}
	if in.Relevance == nil {
		return errors.New("relevance verdict required")
	}
	return nil
}

// Execute implements workflow.Stage.
func (s *QueryAnalyzer) Execute(ctx context.Context, in workflow.StageInput) (*workflow.Outcome, error) {
	system := fmt.Sprintf(analyzerSystemPromptFormat, strings.Join(s.repositories, ", "))

	raw, err := s.generator.Generate(ctx, system, []llm.Message{
		{Role: llm.RoleUser, Content: in.Query},
	}, s.temperature)
	if err != nil {
		return failure(workflow.AnalysisOutput{Strategy: workflow.StrategySemantic, SearchType: workflow.SearchTypeDocumentation}, faultFromError(err)), nil
	}

	analysis, err := parseAnalysis(raw)
	if err != nil {
		return failure(workflow.AnalysisOutput{Strategy: workflow.StrategySemantic, SearchType: workflow.SearchTypeDocumentation}, parseFault(err)), nil
	}

	analysis.Scope = s.knownRepositories(analysis.Scope)

	summary := fmt.Sprintf("%s search", analysis.Strategy)
	if len(analysis.Scope) > 0 {
		summary += " in " + strings.Join(analysis.Scope, ", ")
	} else {
		summary += " across all repositories"
	}
	if analysis.SearchType == workflow.SearchTypeListRepositories {
		summary = "repository listing requested"
	}

	return &workflow.Outcome{
		Success:    true,
		Data:       analysis,
		Summary:    summary,
		Confidence: 0.8,
	}, nil
}

// knownRepositories drops scope entries the model invented. An emptied
// scope falls back to searching everything rather than nothing.
func (s *QueryAnalyzer) knownRepositories(scope []string) []string {
	if len(scope) == 0 || len(s.repositories) == 0 {
		return scope
	}
	known := make(map[string]struct{}, len(s.repositories))
	for _, r := range s.repositories {
		known[r] = struct{}{}
	}
	out := make([]string, 0, len(scope))
	for _, r := range scope {
		if _, ok := known[r]; ok {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
