package stages

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modflowai/mfai-query/internal/llm"
	"github.com/modflowai/mfai-query/internal/rerank"
	"github.com/modflowai/mfai-query/internal/search"
	"github.com/modflowai/mfai-query/internal/workflow"
)

// fakeGenerator returns scripted responses in order, then repeats the last.
type fakeGenerator struct {
	responses []string
	err       error
	calls     int
	systems   []string
	prompts   []string
}

func (g *fakeGenerator) Generate(_ context.Context, systemPrompt string, messages []llm.Message, _ float64) (string, error) {
	g.calls++
	g.systems = append(g.systems, systemPrompt)
	if len(messages) > 0 {
		g.prompts = append(g.prompts, messages[len(messages)-1].Content)
	}
	if g.err != nil {
		return "", g.err
	}
	idx := g.calls - 1
	if idx >= len(g.responses) {
		idx = len(g.responses) - 1
	}
	return g.responses[idx], nil
}

// fakeSearcher serves canned candidates per repository and fails the
// repositories listed in failing. Safe for the concurrent calls the hybrid
// strategy makes.
type fakeSearcher struct {
	byRepo  map[string][]search.Candidate
	failing map[string]error

	mu      sync.Mutex
	queries []string
	modes   []search.Mode
}

func (s *fakeSearcher) Search(_ context.Context, query string, mode search.Mode, repository string) ([]search.Candidate, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.modes = append(s.modes, mode)
	s.mu.Unlock()
	if err, ok := s.failing[repository]; ok {
		return nil, err
	}
	return s.byRepo[repository], nil
}

func (s *fakeSearcher) Close() error { return nil }

func candidate(repo, path string, score float64) search.Candidate {
	return search.Candidate{
		Path:       path,
		Repository: repo,
		Snippet:    "excerpt of " + path,
		Score:      score,
	}
}

func TestRelevanceChecker(t *testing.T) {
	t.Run("in-domain", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{"RELEVANT: yes\nCONFIDENCE: 0.9\nREASON: MODFLOW question"}}
		stage := NewRelevanceChecker(gen)

		out, err := stage.Execute(context.Background(), workflow.StageInput{Query: "How do drains work?"})
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, workflow.NextAction(""), out.NextAction)
		data, ok := out.Data.(workflow.RelevanceOutput)
		require.True(t, ok)
		assert.True(t, data.Relevant)
	})

	t.Run("out of domain requests general response", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{"RELEVANT: no\nCONFIDENCE: 0.95\nREASON: greeting"}}
		stage := NewRelevanceChecker(gen)

		out, err := stage.Execute(context.Background(), workflow.StageInput{Query: "hello"})
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, workflow.ActionGeneralResponse, out.NextAction)
	})

	t.Run("generator failure becomes fault", func(t *testing.T) {
		gen := &fakeGenerator{err: llm.ErrUnavailable}
		stage := NewRelevanceChecker(gen)

		out, err := stage.Execute(context.Background(), workflow.StageInput{Query: "q"})
		require.NoError(t, err, "expected failures never surface as Go errors")
		assert.False(t, out.Success)
		require.Len(t, out.Faults, 1)
		assert.Equal(t, workflow.FaultServiceUnavailable, out.Faults[0].Kind)
		assert.NotNil(t, out.Data)
	})

	t.Run("malformed output is a retryable fault", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{"It depends."}}
		stage := NewRelevanceChecker(gen)

		out, err := stage.Execute(context.Background(), workflow.StageInput{Query: "q"})
		require.NoError(t, err)
		assert.False(t, out.Success)
		require.Len(t, out.Faults, 1)
		assert.True(t, out.Faults[0].Retryable)
	})

	t.Run("validate input", func(t *testing.T) {
		stage := NewRelevanceChecker(&fakeGenerator{})
		assert.Error(t, stage.ValidateInput(workflow.StageInput{}))
		assert.NoError(t, stage.ValidateInput(workflow.StageInput{Query: "q"}))
	})
}

func TestQueryAnalyzer(t *testing.T) {
	relevance := &workflow.RelevanceOutput{Relevant: true}

	t.Run("drops invented repositories", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{`{"strategy":"semantic","repositories":["flopy","made-up"],"keywords":["drain"]}`}}
		stage := NewQueryAnalyzer(gen, []string{"flopy", "pest"})

		out, err := stage.Execute(context.Background(), workflow.StageInput{Query: "q", Relevance: relevance})
		require.NoError(t, err)
		require.True(t, out.Success)
		data, ok := out.Data.(workflow.AnalysisOutput)
		require.True(t, ok)
		assert.Equal(t, []string{"flopy"}, data.Scope)
	})

	t.Run("fully invented scope searches everything", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{`{"strategy":"semantic","repositories":["made-up"]}`}}
		stage := NewQueryAnalyzer(gen, []string{"flopy", "pest"})

		out, err := stage.Execute(context.Background(), workflow.StageInput{Query: "q", Relevance: relevance})
		require.NoError(t, err)
		data := out.Data.(workflow.AnalysisOutput)
		assert.Empty(t, data.Scope)
	})

	t.Run("system prompt names available repositories", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{`{"strategy":"exact"}`}}
		stage := NewQueryAnalyzer(gen, []string{"flopy", "pest"})

		_, err := stage.Execute(context.Background(), workflow.StageInput{Query: "q", Relevance: relevance})
		require.NoError(t, err)
		require.Len(t, gen.systems, 1)
		assert.Contains(t, gen.systems[0], "flopy, pest")
	})

	t.Run("failure keeps a usable default plan", func(t *testing.T) {
		gen := &fakeGenerator{err: llm.ErrTimeout}
		stage := NewQueryAnalyzer(gen, nil)

		out, err := stage.Execute(context.Background(), workflow.StageInput{Query: "q", Relevance: relevance})
		require.NoError(t, err)
		assert.False(t, out.Success)
		data, ok := out.Data.(workflow.AnalysisOutput)
		require.True(t, ok)
		assert.Equal(t, workflow.StrategySemantic, data.Strategy)
	})

	t.Run("validate input", func(t *testing.T) {
		stage := NewQueryAnalyzer(&fakeGenerator{}, nil)
		assert.Error(t, stage.ValidateInput(workflow.StageInput{Query: "q"}))
		assert.NoError(t, stage.ValidateInput(workflow.StageInput{Query: "q", Relevance: relevance}))
	})
}

func TestContextValidator(t *testing.T) {
	analysis := &workflow.AnalysisOutput{
		Strategy:   workflow.StrategySemantic,
		Keywords:   []string{"drain", "conductance"},
		SearchType: workflow.SearchTypeDocumentation,
	}

	t.Run("sufficient context jumps to response generation", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{`{"needs_new_search":false,"sufficiency":0.9,"answer":"Covered above."}`}}
		stage := NewContextValidator(gen)

		out, err := stage.Execute(context.Background(), workflow.StageInput{Query: "q", Analysis: analysis})
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, workflow.ActionResponseGeneration, out.NextAction)
		data := out.Data.(workflow.ValidationOutput)
		assert.False(t, data.NeedsNewSearch)
		assert.Equal(t, "Covered above.", data.Answer)
	})

	t.Run("insufficient context proceeds normally", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{`{"needs_new_search":true,"sufficiency":0.1}`}}
		stage := NewContextValidator(gen)

		out, err := stage.Execute(context.Background(), workflow.StageInput{Query: "q", Analysis: analysis})
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, workflow.NextAction(""), out.NextAction)
	})

	t.Run("prompt carries recent history and prior results", func(t *testing.T) {
		history := make([]workflow.Turn, 0, 8)
		for i := 0; i < 8; i++ {
			history = append(history, workflow.Turn{Role: workflow.RoleUser, Content: fmt.Sprintf("turn-%d", i)})
		}
		previous := []rerank.Scored{{
			Candidate: candidate("flopy", "wel.md", 0.8),
			Relevance: 0.9,
		}}

		gen := &fakeGenerator{responses: []string{`{"needs_new_search":true,"sufficiency":0.3}`}}
		stage := NewContextValidator(gen)

		_, err := stage.Execute(context.Background(), workflow.StageInput{
			Query:    "q",
			Analysis: analysis,
			History:  history,
			Previous: previous,
		})
		require.NoError(t, err)

		require.Len(t, gen.prompts, 1)
		prompt := gen.prompts[0]
		assert.Contains(t, prompt, "drain, conductance")
		assert.Contains(t, prompt, "flopy/wel.md")
		// Only the most recent six turns are included.
		assert.NotContains(t, prompt, "turn-0")
		assert.NotContains(t, prompt, "turn-1")
		assert.Contains(t, prompt, "turn-2")
		assert.Contains(t, prompt, "turn-7")
	})

	t.Run("failure defaults to searching", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{"not json"}}
		stage := NewContextValidator(gen)

		out, err := stage.Execute(context.Background(), workflow.StageInput{Query: "q", Analysis: analysis})
		require.NoError(t, err)
		assert.False(t, out.Success)
		data := out.Data.(workflow.ValidationOutput)
		assert.True(t, data.NeedsNewSearch)
	})
}

func TestRepositorySearcher(t *testing.T) {
	analysis := func(strategy workflow.SearchStrategy, scope ...string) *workflow.AnalysisOutput {
		return &workflow.AnalysisOutput{
			Strategy:   strategy,
			Scope:      scope,
			SearchType: workflow.SearchTypeDocumentation,
		}
	}

	t.Run("searches scoped repositories and ranks", func(t *testing.T) {
		searcher := &fakeSearcher{byRepo: map[string][]search.Candidate{
			"flopy": {candidate("flopy", "wel.md", 0.9)},
			"pest":  {candidate("pest", "ies.md", 0.7)},
		}}
		stage := NewRepositorySearcher(searcher, rerank.NewOverlapScorer(), nil, zap.NewNop())

		out, err := stage.Execute(context.Background(), workflow.StageInput{
			Query:    "wel package",
			Analysis: analysis(workflow.StrategySemantic, "flopy", "pest"),
		})
		require.NoError(t, err)
		require.True(t, out.Success)
		data := out.Data.(workflow.SearchOutput)
		require.Len(t, data.Candidates, 2)
		assert.Empty(t, data.FailedTargets)
		// Ranked descending by relevance.
		assert.GreaterOrEqual(t, data.Candidates[0].Relevance, data.Candidates[1].Relevance)
	})

	t.Run("partial target failure degrades not fails", func(t *testing.T) {
		searcher := &fakeSearcher{
			byRepo:  map[string][]search.Candidate{"flopy": {candidate("flopy", "wel.md", 0.9)}},
			failing: map[string]error{"pest": search.ErrUnavailable},
		}
		stage := NewRepositorySearcher(searcher, rerank.NewOverlapScorer(), nil, zap.NewNop())

		out, err := stage.Execute(context.Background(), workflow.StageInput{
			Query:    "wel package",
			Analysis: analysis(workflow.StrategySemantic, "flopy", "pest"),
		})
		require.NoError(t, err)
		assert.True(t, out.Success)
		data := out.Data.(workflow.SearchOutput)
		assert.Len(t, data.Candidates, 1)
		assert.Equal(t, []string{"pest"}, data.FailedTargets)
		require.Len(t, out.Faults, 1)
		assert.Equal(t, workflow.FaultServiceUnavailable, out.Faults[0].Kind)
		assert.Contains(t, out.Summary, "pest unavailable")
	})

	t.Run("all targets failing fails the stage", func(t *testing.T) {
		searcher := &fakeSearcher{failing: map[string]error{
			"flopy": search.ErrUnavailable,
			"pest":  search.ErrUnavailable,
		}}
		stage := NewRepositorySearcher(searcher, rerank.NewOverlapScorer(), nil, zap.NewNop())

		out, err := stage.Execute(context.Background(), workflow.StageInput{
			Query:    "q",
			Analysis: analysis(workflow.StrategySemantic, "flopy", "pest"),
		})
		require.NoError(t, err)
		assert.False(t, out.Success)
		assert.Len(t, out.Faults, 2)
	})

	t.Run("empty scope falls back to configured repositories", func(t *testing.T) {
		searcher := &fakeSearcher{byRepo: map[string][]search.Candidate{
			"flopy": {candidate("flopy", "wel.md", 0.9)},
		}}
		stage := NewRepositorySearcher(searcher, rerank.NewOverlapScorer(), []string{"flopy"}, zap.NewNop())

		out, err := stage.Execute(context.Background(), workflow.StageInput{
			Query:    "q",
			Analysis: analysis(workflow.StrategySemantic),
		})
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Len(t, out.Data.(workflow.SearchOutput).Candidates, 1)
	})

	t.Run("exact strategy uses exact mode", func(t *testing.T) {
		searcher := &fakeSearcher{byRepo: map[string][]search.Candidate{"flopy": nil}}
		stage := NewRepositorySearcher(searcher, rerank.NewOverlapScorer(), nil, zap.NewNop())

		_, err := stage.Execute(context.Background(), workflow.StageInput{
			Query:    "DRN_0001 error",
			Analysis: analysis(workflow.StrategyExact, "flopy"),
		})
		require.NoError(t, err)
		require.Len(t, searcher.modes, 1)
		assert.Equal(t, search.ModeExact, searcher.modes[0])
	})

	t.Run("hybrid strategy runs both branches", func(t *testing.T) {
		searcher := &fakeSearcher{byRepo: map[string][]search.Candidate{
			"flopy": {candidate("flopy", "wel.md", 0.9)},
		}}
		stage := NewRepositorySearcher(searcher, rerank.NewOverlapScorer(), nil, zap.NewNop())

		out, err := stage.Execute(context.Background(), workflow.StageInput{
			Query:    "wel package",
			Analysis: analysis(workflow.StrategyHybrid, "flopy"),
		})
		require.NoError(t, err)
		assert.True(t, out.Success)
		// One exact branch, one conceptual branch.
		assert.Len(t, searcher.modes, 2)
		assert.Contains(t, searcher.modes, search.ModeExact)
		assert.Contains(t, searcher.modes, search.ModeConceptual)
	})
}

// fallbackScorer fails scoring for paths in bad.
type fallbackScorer struct {
	bad map[string]bool
}

func (s *fallbackScorer) Score(_ context.Context, c search.Candidate, _ string) (rerank.Scored, error) {
	if s.bad[c.Path] {
		return rerank.Scored{}, errors.New("scorer unavailable")
	}
	return rerank.Scored{Candidate: c, Relevance: 1.0}, nil
}

func TestRepositorySearcherScoringFailureKeepsBackendScore(t *testing.T) {
	searcher := &fakeSearcher{byRepo: map[string][]search.Candidate{
		"flopy": {
			candidate("flopy", "good.md", 0.4),
			candidate("flopy", "bad.md", 0.6),
		},
	}}
	stage := NewRepositorySearcher(searcher, &fallbackScorer{bad: map[string]bool{"bad.md": true}}, nil, zap.NewNop())

	out, err := stage.Execute(context.Background(), workflow.StageInput{
		Query: "q",
		Analysis: &workflow.AnalysisOutput{
			Strategy:   workflow.StrategySemantic,
			Scope:      []string{"flopy"},
			SearchType: workflow.SearchTypeDocumentation,
		},
	})
	require.NoError(t, err)
	require.True(t, out.Success)

	data := out.Data.(workflow.SearchOutput)
	require.Len(t, data.Candidates, 2)
	// good.md scored 1.0, bad.md kept its backend score 0.6.
	assert.Equal(t, "good.md", data.Candidates[0].Path)
	assert.Equal(t, "bad.md", data.Candidates[1].Path)
	assert.InDelta(t, 0.6, data.Candidates[1].Relevance, 1e-9)
	assert.Equal(t, "score unavailable", data.Candidates[1].Reasoning)
}

func TestResponseGenerator(t *testing.T) {
	ranked := func(rels ...float64) *workflow.SearchOutput {
		out := &workflow.SearchOutput{}
		for i, r := range rels {
			out.Candidates = append(out.Candidates, rerank.Scored{
				Candidate: candidate("flopy", fmt.Sprintf("doc-%d.md", i), r),
				Relevance: r,
			})
		}
		return out
	}

	t.Run("ready answer skips the model", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{"should not be called"}}
		stage := NewResponseGenerator(gen)

		out, err := stage.Execute(context.Background(), workflow.StageInput{
			Query:      "q",
			Validation: &workflow.ValidationOutput{NeedsNewSearch: false, Sufficiency: 0.9, Answer: "From context."},
		})
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, "From context.", out.Data.(workflow.AnswerOutput).Answer)
		assert.Zero(t, gen.calls)
	})

	t.Run("synthesizes from ranked candidates", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{"The WEL package simulates wells."}}
		stage := NewResponseGenerator(gen)

		out, err := stage.Execute(context.Background(), workflow.StageInput{
			Query:  "q",
			Search: ranked(0.9, 0.8, 0.1),
		})
		require.NoError(t, err)
		require.True(t, out.Success)
		data := out.Data.(workflow.AnswerOutput)
		assert.Equal(t, "The WEL package simulates wells.", data.Answer)
		// The 0.1 candidate fell below the relevance threshold.
		assert.Len(t, data.Sources, 2)
		require.Len(t, gen.prompts, 1)
		assert.Contains(t, gen.prompts[0], "doc-0.md")
		assert.NotContains(t, gen.prompts[0], "doc-2.md")
	})

	t.Run("no usable candidates is a non-retryable failure", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{"unused"}}
		stage := NewResponseGenerator(gen)

		out, err := stage.Execute(context.Background(), workflow.StageInput{
			Query:  "q",
			Search: ranked(0.1, 0.05),
		})
		require.NoError(t, err)
		assert.False(t, out.Success)
		require.Len(t, out.Faults, 1)
		assert.False(t, out.Faults[0].Retryable)
		assert.Zero(t, gen.calls)
		assert.Contains(t, out.Data.(workflow.AnswerOutput).Answer, "not contain enough evidence")
	})

	t.Run("model failure carries the fault", func(t *testing.T) {
		gen := &fakeGenerator{err: llm.ErrRateLimited}
		stage := NewResponseGenerator(gen)

		out, err := stage.Execute(context.Background(), workflow.StageInput{
			Query:  "q",
			Search: ranked(0.9),
		})
		require.NoError(t, err)
		assert.False(t, out.Success)
		require.Len(t, out.Faults, 1)
		assert.True(t, out.Faults[0].Retryable)
	})

	t.Run("validate input", func(t *testing.T) {
		stage := NewResponseGenerator(&fakeGenerator{})
		assert.Error(t, stage.ValidateInput(workflow.StageInput{Query: "q"}))
		assert.NoError(t, stage.ValidateInput(workflow.StageInput{Query: "q", Search: &workflow.SearchOutput{}}))
	})
}

func TestStageContracts(t *testing.T) {
	gen := &fakeGenerator{}
	searcher := &fakeSearcher{}

	stages := []workflow.Stage{
		NewRelevanceChecker(gen),
		NewQueryAnalyzer(gen, nil),
		NewContextValidator(gen),
		NewRepositorySearcher(searcher, rerank.NewOverlapScorer(), nil, zap.NewNop()),
		NewResponseGenerator(gen),
	}

	wantNames := workflow.StageOrder()
	for i, s := range stages {
		assert.Equal(t, wantNames[i], s.Name())
		assert.True(t, s.Retryable(), s.Name())
		assert.Greater(t, s.EstimatedDuration(), time.Duration(0), s.Name())
	}
}
