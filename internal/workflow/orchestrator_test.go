package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modflowai/mfai-query/internal/progress"
	"github.com/modflowai/mfai-query/internal/rerank"
	"github.com/modflowai/mfai-query/internal/search"
)

// fakeStage is a scriptable stage. Without an execute override it succeeds
// with a minimal valid payload for its name.
type fakeStage struct {
	name      string
	retryable bool
	execute   func(ctx context.Context, in StageInput) (*Outcome, error)
	calls     int
	inputs    []StageInput
}

func (s *fakeStage) Name() string                     { return s.name }
func (s *fakeStage) Retryable() bool                  { return s.retryable }
func (s *fakeStage) EstimatedDuration() time.Duration { return time.Second }
func (s *fakeStage) ValidateInput(StageInput) error   { return nil }
func (s *fakeStage) Execute(ctx context.Context, in StageInput) (*Outcome, error) {
	s.calls++
	s.inputs = append(s.inputs, in)
	if s.execute != nil {
		return s.execute(ctx, in)
	}
	return successOutcome(s.name), nil
}

// successOutcome builds a minimal successful outcome for a stage.
func successOutcome(stage string) *Outcome {
	out := &Outcome{Success: true, Confidence: 0.9}
	switch stage {
	case StageRelevanceChecker:
		out.Data = RelevanceOutput{Relevant: true}
	case StageQueryAnalyzer:
		out.Data = AnalysisOutput{Strategy: StrategySemantic, SearchType: SearchTypeDocumentation}
	case StageContextValidator:
		out.Data = ValidationOutput{NeedsNewSearch: true}
	case StageRepositorySearcher:
		out.Data = SearchOutput{Candidates: scoredCandidates("doc.md")}
	case StageResponseGenerator:
		out.Data = AnswerOutput{Answer: "the answer", Sources: []string{"flopy/doc.md"}}
	}
	return out
}

// failingOutcome builds a failed outcome carrying one fault.
func failingOutcome(stage string, fault Fault) *Outcome {
	out := successOutcome(stage)
	out.Success = false
	out.Confidence = 0
	out.Faults = []Fault{fault}
	return out
}

func scoredCandidates(paths ...string) []rerank.Scored {
	out := make([]rerank.Scored, len(paths))
	for i, p := range paths {
		out[i] = rerank.Scored{
			Candidate: search.Candidate{
				Path:       p,
				Repository: "flopy",
				Snippet:    "excerpt of " + p,
				Score:      0.8,
			},
			Relevance: 0.9 - float64(i)*0.1,
		}
	}
	return out
}

func defaultStages() []*fakeStage {
	out := make([]*fakeStage, 0, 5)
	for _, name := range StageOrder() {
		out = append(out, &fakeStage{name: name, retryable: true})
	}
	return out
}

func asStages(fakes []*fakeStage) []Stage {
	out := make([]Stage, len(fakes))
	for i, f := range fakes {
		out[i] = f
	}
	return out
}

func newTestOrchestrator(t *testing.T, fakes []*fakeStage, opts Options) (*Orchestrator, *progress.Recorder) {
	t.Helper()
	recorder := progress.NewRecorder()
	if opts.Reporter == nil {
		opts.Reporter = recorder
	}
	if opts.sleep == nil {
		opts.sleep = func(context.Context, time.Duration) error { return nil }
	}
	if opts.newRunID == nil {
		opts.newRunID = func() string { return "run-test" }
	}
	o, err := New(asStages(fakes), opts)
	require.NoError(t, err)
	return o, recorder
}

func TestNewValidatesStages(t *testing.T) {
	_, err := New(nil, Options{})
	require.Error(t, err)

	_, err = New([]Stage{&fakeStage{name: ""}}, Options{})
	require.Error(t, err)

	_, err = New([]Stage{
		&fakeStage{name: StageQueryAnalyzer},
		&fakeStage{name: StageQueryAnalyzer},
	}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestExecuteHappyPath(t *testing.T) {
	fakes := defaultStages()
	o, recorder := newTestOrchestrator(t, fakes, Options{})

	result := o.Execute(context.Background(), Request{Query: "What does PEST-IES do?"})

	assert.True(t, result.Success)
	assert.False(t, result.Degraded)
	assert.Equal(t, "the answer", result.FinalAnswer)
	assert.Equal(t, "run-test", result.RunID)
	assert.Equal(t, StageOrder(), result.StagesExecuted)
	assert.Empty(t, result.Faults)

	for _, f := range fakes {
		assert.Equal(t, 1, f.calls, f.name)
	}

	// The run-level terminal event is last.
	events := recorder.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, progress.RunStage, last.Stage)
	assert.Equal(t, progress.PhaseCompleted, last.Phase)
}

func TestExecuteEmptyQuery(t *testing.T) {
	fakes := defaultStages()
	o, _ := newTestOrchestrator(t, fakes, Options{})

	result := o.Execute(context.Background(), Request{Query: "   "})

	assert.False(t, result.Success)
	assert.Empty(t, result.StagesExecuted)
	require.Len(t, result.Faults, 1)
	assert.Equal(t, FaultValidation, result.Faults[0].Kind)
	for _, f := range fakes {
		assert.Zero(t, f.calls, f.name)
	}
}

func TestExecuteOutOfDomainShortCircuit(t *testing.T) {
	fakes := defaultStages()
	fakes[0].execute = func(_ context.Context, _ StageInput) (*Outcome, error) {
		return &Outcome{
			Success:    true,
			Data:       RelevanceOutput{Relevant: false, Reason: "greeting"},
			NextAction: ActionGeneralResponse,
		}, nil
	}
	o, _ := newTestOrchestrator(t, fakes, Options{})

	result := o.Execute(context.Background(), Request{Query: "hello"})

	assert.True(t, result.Success)
	assert.Equal(t, OutOfDomainAnswer, result.FinalAnswer)
	assert.Equal(t, []string{StageRelevanceChecker}, result.StagesExecuted)
	for _, f := range fakes[1:] {
		assert.Zero(t, f.calls, f.name)
	}
}

func TestExecuteRetryBound(t *testing.T) {
	fakes := defaultStages()
	fakes[1].execute = func(_ context.Context, _ StageInput) (*Outcome, error) {
		return failingOutcome(StageQueryAnalyzer, NewFault(FaultTimeout, "deadline exceeded", true)), nil
	}

	var delays []time.Duration
	o, recorder := newTestOrchestrator(t, fakes, Options{
		sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	})

	result := o.Execute(context.Background(), Request{Query: "q"})

	// Budget 2 means exactly 3 invocations, then the analyzer fallback
	// carries the run to completion.
	assert.Equal(t, 3, fakes[1].calls)
	assert.Len(t, delays, 2)
	assert.True(t, result.Success)
	assert.True(t, result.Degraded)

	retries := 0
	for _, ev := range recorder.ForStage(StageQueryAnalyzer) {
		if ev.Phase == progress.PhaseRetrying {
			retries++
		}
	}
	assert.Equal(t, 2, retries)
}

func TestExecuteNonRetryableFaultSkipsRetry(t *testing.T) {
	fakes := defaultStages()
	fakes[1].execute = func(_ context.Context, _ StageInput) (*Outcome, error) {
		return failingOutcome(StageQueryAnalyzer, NewFault(FaultUnknown, "malformed payload", false)), nil
	}
	o, _ := newTestOrchestrator(t, fakes, Options{})

	result := o.Execute(context.Background(), Request{Query: "q"})

	assert.Equal(t, 1, fakes[1].calls)
	assert.True(t, result.Success)
	assert.True(t, result.Degraded)
}

func TestExecuteNonRetryableStage(t *testing.T) {
	fakes := defaultStages()
	fakes[1].retryable = false
	fakes[1].execute = func(_ context.Context, _ StageInput) (*Outcome, error) {
		return failingOutcome(StageQueryAnalyzer, NewFault(FaultTimeout, "deadline exceeded", true)), nil
	}
	o, _ := newTestOrchestrator(t, fakes, Options{})

	o.Execute(context.Background(), Request{Query: "q"})
	assert.Equal(t, 1, fakes[1].calls)
}

func TestExecuteCriticalFaultAborts(t *testing.T) {
	fakes := defaultStages()
	fakes[1].execute = func(_ context.Context, _ StageInput) (*Outcome, error) {
		return failingOutcome(StageQueryAnalyzer, NewFault(FaultAuth, "invalid api key", false)), nil
	}
	o, recorder := newTestOrchestrator(t, fakes, Options{})

	result := o.Execute(context.Background(), Request{Query: "q"})

	assert.False(t, result.Success)
	assert.False(t, result.Degraded, "an aborted run is not a degraded run")
	assert.Equal(t, []string{StageRelevanceChecker}, result.StagesExecuted)
	assert.Equal(t, 1, fakes[1].calls)
	for _, f := range fakes[2:] {
		assert.Zero(t, f.calls, f.name)
	}

	events := recorder.Events()
	last := events[len(events)-1]
	assert.Equal(t, progress.RunStage, last.Stage)
	assert.Equal(t, progress.PhaseFailed, last.Phase)
}

func TestExecuteDegradedFallbackFeedsDownstream(t *testing.T) {
	fakes := defaultStages()
	fakes[1].execute = func(_ context.Context, _ StageInput) (*Outcome, error) {
		return failingOutcome(StageQueryAnalyzer, NewFault(FaultServiceUnavailable, "llm down", true)), nil
	}
	o, _ := newTestOrchestrator(t, fakes, Options{})

	result := o.Execute(context.Background(), Request{Query: "q"})

	assert.True(t, result.Success)
	assert.True(t, result.Degraded)
	assert.NotEmpty(t, result.Faults)

	// The searcher received the fallback plan, not a nil analysis.
	require.Equal(t, 1, fakes[3].calls)
	analysis := fakes[3].inputs[0].Analysis
	require.NotNil(t, analysis)
	assert.Equal(t, StrategySemantic, analysis.Strategy)
	assert.Empty(t, analysis.Scope)
}

func TestExecuteSearcherFailureHasNoFallback(t *testing.T) {
	fakes := defaultStages()
	fakes[3].execute = func(_ context.Context, _ StageInput) (*Outcome, error) {
		return failingOutcome(StageRepositorySearcher, NewFault(FaultServiceUnavailable, "all targets failed", true)), nil
	}
	o, _ := newTestOrchestrator(t, fakes, Options{})

	result := o.Execute(context.Background(), Request{Query: "q"})

	assert.False(t, result.Success)
	assert.True(t, result.Degraded)
	assert.Equal(t, 3, fakes[3].calls, "searcher is retried before giving up")
	assert.Zero(t, fakes[4].calls, "generator must not run without search results")
}

func TestExecuteSkipsSearcherWhenContextSufficient(t *testing.T) {
	fakes := defaultStages()
	fakes[2].execute = func(_ context.Context, _ StageInput) (*Outcome, error) {
		return &Outcome{
			Success:    true,
			Data:       ValidationOutput{NeedsNewSearch: false, Sufficiency: 0.9, Answer: "from context"},
			NextAction: ActionResponseGeneration,
		}, nil
	}
	fakes[4].execute = func(_ context.Context, in StageInput) (*Outcome, error) {
		require.NotNil(t, in.Validation)
		return &Outcome{Success: true, Data: AnswerOutput{Answer: in.Validation.Answer}}, nil
	}
	o, recorder := newTestOrchestrator(t, fakes, Options{})

	result := o.Execute(context.Background(), Request{Query: "q"})

	assert.True(t, result.Success)
	assert.Equal(t, "from context", result.FinalAnswer)
	assert.Zero(t, fakes[3].calls, "searcher must be skipped")
	assert.NotContains(t, result.StagesExecuted, StageRepositorySearcher)

	events := recorder.ForStage(StageRepositorySearcher)
	require.Len(t, events, 1)
	assert.Equal(t, progress.PhaseCompleted, events[0].Phase)
	assert.Contains(t, events[0].Message, "skipped")
}

func TestExecuteListRepositoriesFastPath(t *testing.T) {
	fakes := defaultStages()
	fakes[1].execute = func(_ context.Context, _ StageInput) (*Outcome, error) {
		return &Outcome{
			Success: true,
			Data: AnalysisOutput{
				Strategy:   StrategySemantic,
				SearchType: SearchTypeListRepositories,
			},
		}, nil
	}
	fakes[4].execute = func(_ context.Context, in StageInput) (*Outcome, error) {
		require.NotNil(t, in.Validation)
		return &Outcome{Success: true, Data: AnswerOutput{Answer: in.Validation.Answer}}, nil
	}
	o, _ := newTestOrchestrator(t, fakes, Options{
		Repositories: []string{"flopy", "pest"},
	})

	result := o.Execute(context.Background(), Request{Query: "what repositories are available?"})

	assert.True(t, result.Success)
	assert.Contains(t, result.FinalAnswer, "flopy")
	assert.Contains(t, result.FinalAnswer, "pest")
	assert.Zero(t, fakes[2].calls, "validator is replaced by the synthetic verdict")
	assert.Zero(t, fakes[3].calls, "searcher is skipped")
}

func TestExecuteCancelledContext(t *testing.T) {
	fakes := defaultStages()
	o, _ := newTestOrchestrator(t, fakes, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := o.Execute(ctx, Request{Query: "q"})

	assert.False(t, result.Success)
	require.NotEmpty(t, result.Faults)
	assert.Equal(t, FaultTimeout, result.Faults[0].Kind)
	for _, f := range fakes {
		assert.Zero(t, f.calls, f.name)
	}
}

func TestExecuteCancelledDuringRetryWait(t *testing.T) {
	fakes := defaultStages()
	fakes[0].execute = func(_ context.Context, _ StageInput) (*Outcome, error) {
		return failingOutcome(StageRelevanceChecker, NewFault(FaultTimeout, "deadline exceeded", true)), nil
	}
	o, _ := newTestOrchestrator(t, fakes, Options{
		sleep: func(context.Context, time.Duration) error {
			return context.Canceled
		},
	})

	result := o.Execute(context.Background(), Request{Query: "q"})

	// The wait was cancelled after the first attempt; no second invocation.
	assert.Equal(t, 1, fakes[0].calls)
	assert.True(t, result.Degraded, "relevance fallback still applies")
}

func TestExecuteStageErrorBecomesUnknownFault(t *testing.T) {
	fakes := defaultStages()
	fakes[1].execute = func(_ context.Context, _ StageInput) (*Outcome, error) {
		return nil, fmt.Errorf("stage panic-adjacent bug")
	}
	o, _ := newTestOrchestrator(t, fakes, Options{})

	result := o.Execute(context.Background(), Request{Query: "q"})

	// A Go error from a stage is contained, classified UNKNOWN and absorbed
	// by the analyzer fallback.
	assert.True(t, result.Success)
	assert.True(t, result.Degraded)
	assert.Equal(t, 1, fakes[1].calls)
}

func TestExecuteEventOrderingPerStage(t *testing.T) {
	fakes := defaultStages()
	o, recorder := newTestOrchestrator(t, fakes, Options{})

	o.Execute(context.Background(), Request{Query: "q"})

	for _, name := range StageOrder() {
		events := recorder.ForStage(name)
		require.Len(t, events, 3, name)
		assert.Equal(t, progress.PhaseStarting, events[0].Phase, name)
		assert.Equal(t, progress.PhaseExecuting, events[1].Phase, name)
		assert.Equal(t, progress.PhaseCompleted, events[2].Phase, name)
	}
}
