package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modflowai/mfai-query/internal/llm"
	"github.com/modflowai/mfai-query/internal/rerank"
	"github.com/modflowai/mfai-query/internal/workflow"
)

const generatorSystemPrompt = `You answer questions about MODFLOW, PEST and related groundwater modeling software using only the provided documentation excerpts.

Cite the documents you used by their repository/path. If the excerpts do not contain the answer, say so plainly instead of guessing.`

const (
	// defaultTopCandidates is how many ranked candidates are given to the
	// model.
	defaultTopCandidates = 8
	// defaultMinRelevance filters candidates before synthesis.
	defaultMinRelevance = 0.3
)

const insufficientEvidenceAnswer = "The indexed documentation does not contain enough evidence to answer this question reliably."

// ResponseGenerator synthesizes the final answer from the top ranked
// candidates. If the context validator already supplied a ready answer,
// that answer is returned without a model call.
type ResponseGenerator struct {
	generator     llm.Generator
	topCandidates int
	minRelevance  float64
	temperature   float64
}

// NewResponseGenerator creates the stage with default synthesis limits.
func NewResponseGenerator(generator llm.Generator) *ResponseGenerator {
	return &ResponseGenerator{
		generator:     generator,
		topCandidates: defaultTopCandidates,
		minRelevance:  defaultMinRelevance,
		temperature:   0.3,
	}
}

// Name implements workflow.Stage.
func (s *ResponseGenerator) Name() string { return workflow.StageResponseGenerator }

// Retryable implements workflow.Stage.
func (s *ResponseGenerator) Retryable() bool { return true }

// EstimatedDuration implements workflow.Stage.
func (s *ResponseGenerator) EstimatedDuration() time.Duration { return 8 * time.Second }

// ValidateInput implements workflow.Stage.
func (s *ResponseGenerator) ValidateInput(in workflow.StageInput) error {
	if in.Query == "" {
		return errors.New("query must not be empty")
	}
	if in.Validation == nil && in.Search == nil {
		return errors.New("either validation verdict or search results required")
	}
	return nil
}

// Execute implements workflow.Stage.
func (s *ResponseGenerator) Execute(ctx context.Context, in workflow.StageInput) (*workflow.Outcome, error) {
	// Ready answer from context validation: no synthesis needed.
	if in.Validation != nil && !in.Validation.NeedsNewSearch && in.Validation.Answer != "" {
		return &workflow.Outcome{
			Success:    true,
			Data:       workflow.AnswerOutput{Answer: in.Validation.Answer},
			Summary:    "answered from existing context",
			Confidence: in.Validation.Sufficiency,
		}, nil
	}

	var candidates []rerank.Scored
	if in.Search != nil {
		candidates = in.Search.Candidates
	}
	usable := s.filter(candidates)

	if len(usable) == 0 {
		return failure(
			workflow.AnswerOutput{Answer: insufficientEvidenceAnswer},
			workflow.NewFault(workflow.FaultUnknown, "no candidates above relevance threshold", false),
		), nil
	}

	answer, err := s.generator.Generate(ctx, generatorSystemPrompt, []llm.Message{
		{Role: llm.RoleUser, Content: s.buildPrompt(in.Query, usable)},
	}, s.temperature)
	if err != nil {
		return failure(workflow.AnswerOutput{Answer: insufficientEvidenceAnswer}, faultFromError(err)), nil
	}

	sources := make([]string, len(usable))
	for i, c := range usable {
		sources[i] = c.Repository + "/" + c.Path
	}

	return &workflow.Outcome{
		Success:    true,
		Data:       workflow.AnswerOutput{Answer: answer, Sources: sources},
		Summary:    fmt.Sprintf("synthesized answer from %d documents", len(usable)),
		Confidence: usable[0].Relevance,
	}, nil
}

// filter drops candidates below the relevance threshold and keeps the top
// N of what remains. Candidates arrive ranked.
func (s *ResponseGenerator) filter(candidates []rerank.Scored) []rerank.Scored {
	out := make([]rerank.Scored, 0, s.topCandidates)
	for _, c := range candidates {
		if c.Relevance < s.minRelevance {
			continue
		}
		out = append(out, c)
		if len(out) == s.topCandidates {
			break
		}
	}
	return out
}

func (s *ResponseGenerator) buildPrompt(query string, candidates []rerank.Scored) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nDocumentation excerpts:\n", query)
	for i, c := range candidates {
		fmt.Fprintf(&b, "\n[%d] %s/%s (relevance %.2f)\n%s\n", i+1, c.Repository, c.Path, c.Relevance, c.Snippet)
	}
	return b.String()
}
