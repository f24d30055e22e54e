package workflow

import (
	"fmt"

	"github.com/modflowai/mfai-query/internal/rerank"
)

// Context is the run-scoped store of completed stage outputs, seeded with
// the original query and the caller's conversation state.
//
// It is append-only for the duration of one run and owned exclusively by
// the orchestrator: stages never write to it, and a stage's input is
// derived from it before the stage runs, so no stage can observe output
// of a stage that has not yet executed.
type Context struct {
	query    string
	history  []Turn
	previous []rerank.Scored

	relevance  *RelevanceOutput
	analysis   *AnalysisOutput
	validation *ValidationOutput
	search     *SearchOutput
	answer     *AnswerOutput

	completed []string
}

// NewContext creates a context seeded from the request.
func NewContext(req Request) *Context {
	return &Context{
		query:    req.Query,
		history:  req.History,
		previous: req.Previous,
	}
}

// Record stores a completed stage's output. Writing a stage twice or
// storing a payload type that does not belong to the stage is a
// programming error and is rejected.
func (c *Context) Record(stage string, data StageData) error {
	for _, done := range c.completed {
		if done == stage {
			return fmt.Errorf("stage %s already recorded", stage)
		}
	}

	switch stage {
	case StageRelevanceChecker:
		out, ok := data.(RelevanceOutput)
		if !ok {
			return fmt.Errorf("stage %s: unexpected payload %T", stage, data)
		}
		c.relevance = &out
	case StageQueryAnalyzer:
		out, ok := data.(AnalysisOutput)
		if !ok {
			return fmt.Errorf("stage %s: unexpected payload %T", stage, data)
		}
		c.analysis = &out
	case StageContextValidator:
		out, ok := data.(ValidationOutput)
		if !ok {
			return fmt.Errorf("stage %s: unexpected payload %T", stage, data)
		}
		c.validation = &out
	case StageRepositorySearcher:
		out, ok := data.(SearchOutput)
		if !ok {
			return fmt.Errorf("stage %s: unexpected payload %T", stage, data)
		}
		c.search = &out
	case StageResponseGenerator:
		out, ok := data.(AnswerOutput)
		if !ok {
			return fmt.Errorf("stage %s: unexpected payload %T", stage, data)
		}
		c.answer = &out
	default:
		return fmt.Errorf("unknown stage %s", stage)
	}

	c.completed = append(c.completed, stage)
	return nil
}

// InputFor assembles the declared input for a stage from everything
// recorded so far. The mapping is centralized here so stages stay ignorant
// of pipeline position.
func (c *Context) InputFor(stage string) StageInput {
	in := StageInput{Query: c.query}

	switch stage {
	case StageRelevanceChecker:
		// Query only.
	case StageQueryAnalyzer:
		in.Relevance = c.relevance
	case StageContextValidator:
		in.Analysis = c.analysis
		in.History = c.history
		in.Previous = c.previous
	case StageRepositorySearcher:
		in.Analysis = c.analysis
	case StageResponseGenerator:
		in.Analysis = c.analysis
		in.Validation = c.validation
		in.Search = c.search
	}

	return in
}

// Query returns the original user query.
func (c *Context) Query() string { return c.query }

// Relevance returns the relevance checker's output, if recorded.
func (c *Context) Relevance() *RelevanceOutput { return c.relevance }

// Analysis returns the query analyzer's output, if recorded.
func (c *Context) Analysis() *AnalysisOutput { return c.analysis }

// Validation returns the context validator's output, if recorded.
func (c *Context) Validation() *ValidationOutput { return c.validation }

// Search returns the repository searcher's output, if recorded.
func (c *Context) Search() *SearchOutput { return c.search }

// Answer returns the response generator's output, if recorded.
func (c *Context) Answer() *AnswerOutput { return c.answer }

// Completed returns the stages recorded so far, in write order.
func (c *Context) Completed() []string {
	out := make([]string, len(c.completed))
	copy(out, c.completed)
	return out
}
