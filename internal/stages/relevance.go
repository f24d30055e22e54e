// Package stages implements the five pipeline stages of the query
// workflow. Each stage is a thin adapter around one external call (text
// generation or repository search) conforming to the workflow stage
// contract: expected failures become classified faults inside the outcome,
// never Go errors.
package stages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modflowai/mfai-query/internal/llm"
	"github.com/modflowai/mfai-query/internal/workflow"
)

const relevanceSystemPrompt = `You decide whether a user question is about MODFLOW, PEST, or related groundwater modeling software and their documentation.

Respond with exactly three lines:
RELEVANT: yes or no
CONFIDENCE: a number between 0.0 and 1.0
REASON: one short sentence`

// RelevanceChecker decides whether a query falls in the supported domain.
// A rejection short-circuits the rest of the pipeline with the canned
// out-of-domain answer.
type RelevanceChecker struct {
	generator   llm.Generator
	temperature float64
}

// NewRelevanceChecker creates the stage.
func NewRelevanceChecker(generator llm.Generator) *RelevanceChecker {
	return &RelevanceChecker{generator: generator, temperature: 0.0}
}

// Name implements workflow.Stage.
func (s *RelevanceChecker) Name() string { return workflow.StageRelevanceChecker }

// Retryable implements workflow.Stage.
func (s *RelevanceChecker) Retryable() bool { return true }

// EstimatedDuration implements workflow.Stage.
func (s *RelevanceChecker) EstimatedDuration() time.Duration { return 2 * time.Second }

// ValidateInput implements workflow.Stage.
func (s *RelevanceChecker) ValidateInput(in workflow.StageInput) error {
	if in.Query == "" {
		return errors.New("query must not be empty")
	}
	return nil
}

// Execute implements workflow.Stage.
func (s *RelevanceChecker) Execute(ctx context.Context, in workflow.StageInput) (*workflow.Outcome, error) {
	raw, err := s.generator.Generate(ctx, relevanceSystemPrompt, []llm.Message{
		{Role: llm.RoleUser, Content: in.Query},
	}, s.temperature)
	if err != nil {
		return failure(workflow.RelevanceOutput{}, faultFromError(err)), nil
	}

	verdict, err := parseRelevance(raw)
	if err != nil {
		return failure(workflow.RelevanceOutput{}, parseFault(err)), nil
	}

	outcome := &workflow.Outcome{
		Success:    true,
		Data:       workflow.RelevanceOutput{Relevant: verdict.Relevant, Reason: verdict.Reason},
		Confidence: verdict.Confidence,
	}
	if verdict.Relevant {
		outcome.Summary = "query is in-domain"
	} else {
		outcome.Summary = fmt.Sprintf("query is out of domain: %s", verdict.Reason)
		outcome.NextAction = workflow.ActionGeneralResponse
	}
	return outcome, nil
}
