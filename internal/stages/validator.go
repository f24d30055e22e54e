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

const validatorSystemPrompt = `You decide whether the existing conversation context already answers a user question about groundwater modeling software, or whether a new documentation search is required.

Respond with a single JSON object, no other text:
{
  "needs_new_search": true | false,
  "sufficiency": a number between 0.0 and 1.0,
  "answer": "a complete answer, required when needs_new_search is false, otherwise empty"
}

Only set needs_new_search to false when the prior context genuinely contains the answer.`

const historyLimit = 6

// ContextValidator decides whether accumulated conversation context
// already answers the query, allowing the search stage to be skipped.
type ContextValidator struct {
	generator   llm.Generator
	temperature float64
}

// NewContextValidator creates the stage.
func NewContextValidator(generator llm.Generator) *ContextValidator {
	return &ContextValidator{generator: generator, temperature: 0.0}
}

// Name implements workflow.Stage.
func (s *ContextValidator) Name() string { return workflow.StageContextValidator }

// Retryable implements workflow.Stage.
func (s *ContextValidator) Retryable() bool { return true }

// EstimatedDuration implements workflow.Stage.
func (s *ContextValidator) EstimatedDuration() time.Duration { return 3 * time.Second }

// ValidateInput implements workflow.Stage.
func (s *ContextValidator) ValidateInput(in workflow.StageInput) error {
	if in.Query == "" {
		return errors.New("query must not be empty")
	}
	if in.Analysis == nil {
		return errors.New("query analysis required")
	}
	return nil
}

// Execute implements workflow.Stage.
func (s *ContextValidator) Execute(ctx context.Context, in workflow.StageInput) (*workflow.Outcome, error) {
	prompt := s.buildPrompt(in)

	raw, err := s.generator.Generate(ctx, validatorSystemPrompt, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, s.temperature)
	if err != nil {
		return failure(workflow.ValidationOutput{NeedsNewSearch: true}, faultFromError(err)), nil
	}

	validation, err := parseValidation(raw)
	if err != nil {
		return failure(workflow.ValidationOutput{NeedsNewSearch: true}, parseFault(err)), nil
	}

	outcome := &workflow.Outcome{
		Success:    true,
		Data:       validation,
		Confidence: validation.Sufficiency,
	}
	if validation.NeedsNewSearch {
		outcome.Summary = "new search required"
	} else {
		outcome.Summary = "existing context is sufficient"
		outcome.NextAction = workflow.ActionResponseGeneration
	}
	return outcome, nil
}

// buildPrompt assembles the question, the analyzer's keywords, recent
// conversation turns and prior result paths into one validation request.
func (s *ContextValidator) buildPrompt(in workflow.StageInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", in.Query)
	if len(in.Analysis.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(in.Analysis.Keywords, ", "))
	}

	if len(in.History) > 0 {
		b.WriteString("\nRecent conversation:\n")
		start := 0
		if len(in.History) > historyLimit {
			start = len(in.History) - historyLimit
		}
		for _, turn := range in.History[start:] {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
	}

	if len(in.Previous) > 0 {
		b.WriteString("\nPreviously retrieved documents:\n")
		for _, c := range in.Previous {
			fmt.Fprintf(&b, "- %s/%s (relevance %.2f)\n", c.Repository, c.Path, c.Relevance)
		}
	}

	return b.String()
}
