package rerank

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/modflowai/mfai-query/internal/llm"
	"github.com/modflowai/mfai-query/internal/search"
)

// ErrMalformedScore indicates the scoring model returned output that does
// not follow the expected SCORE/REASON format.
var ErrMalformedScore = errors.New("rerank: malformed score payload")

const scorerSystemPrompt = `You judge how relevant a documentation excerpt is to a user question about MODFLOW, PEST and related groundwater modeling software.

Respond with exactly two lines:
SCORE: <number between 0.0 and 1.0>
REASON: <one short sentence>`

// LLMScorer scores candidates with an independent model call per candidate.
type LLMScorer struct {
	generator   llm.Generator
	temperature float64
}

// NewLLMScorer creates a scorer using the given generator.
func NewLLMScorer(generator llm.Generator) *LLMScorer {
	return &LLMScorer{generator: generator, temperature: 0.0}
}

// Score implements Scorer.
func (s *LLMScorer) Score(ctx context.Context, candidate search.Candidate, query string) (Scored, error) {
	prompt := fmt.Sprintf("Question: %s\n\nExcerpt from %s/%s:\n%s",
		query, candidate.Repository, candidate.Path, candidate.Snippet)

	raw, err := s.generator.Generate(ctx, scorerSystemPrompt, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, s.temperature)
	if err != nil {
		return Scored{}, fmt.Errorf("scoring candidate %s: %w", candidate.Path, err)
	}

	relevance, reasoning, err := parseScore(raw)
	if err != nil {
		return Scored{}, err
	}

	return Scored{
		Candidate: candidate,
		Relevance: relevance,
		Reasoning: reasoning,
	}, nil
}

// parseScore parses the strict SCORE/REASON payload. Anything else is a
// malformed-payload error; callers decide whether to retry or fall back.
func parseScore(raw string) (float64, string, error) {
	var (
		score    float64
		reason   string
		hasScore bool
	)

	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "SCORE:"):
			value := strings.TrimSpace(strings.TrimPrefix(line, "SCORE:"))
			parsed, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return 0, "", fmt.Errorf("%w: bad score %q", ErrMalformedScore, value)
			}
			if parsed < 0 || parsed > 1 {
				return 0, "", fmt.Errorf("%w: score %v out of range", ErrMalformedScore, parsed)
			}
			score = parsed
			hasScore = true
		case strings.HasPrefix(line, "REASON:"):
			reason = strings.TrimSpace(strings.TrimPrefix(line, "REASON:"))
		}
	}

	if !hasScore {
		return 0, "", fmt.Errorf("%w: missing SCORE line", ErrMalformedScore)
	}
	return score, reason, nil
}
