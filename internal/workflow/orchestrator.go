package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modflowai/mfai-query/internal/progress"
)

// OutOfDomainAnswer is returned when the relevance checker rejects a query
// as outside the supported domain.
const OutOfDomainAnswer = "I can only answer questions about MODFLOW, PEST and the related groundwater modeling software indexed in this system. Please ask a question about those tools."

// Options configures an Orchestrator.
type Options struct {
	// Retry overrides the default retry policy.
	Retry *RetryPolicy

	// Classifier overrides the default error classifier.
	Classifier *Classifier

	// Reporter receives progress events. Defaults to a no-op reporter.
	Reporter progress.Reporter

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger

	// Repositories is the full set of searchable repositories, used for
	// the list-repositories fast path.
	Repositories []string

	// sleep and newRunID are overridable in tests.
	sleep    func(ctx context.Context, d time.Duration) error
	newRunID func() string
}

// Orchestrator drives one query through the fixed stage sequence.
//
// It owns the stage list (injected at construction, no global registry),
// builds each stage's input from the accumulated context, applies the
// retry and degradation policy, decides early termination and stage
// skipping, and assembles the final result. Execute never returns a Go
// error: every run, however it ends, produces exactly one Result.
type Orchestrator struct {
	stages       []Stage
	policy       *RetryPolicy
	classifier   *Classifier
	reporter     progress.Reporter
	logger       *zap.Logger
	repositories []string

	sleep    func(ctx context.Context, d time.Duration) error
	newRunID func() string
}

// New creates an orchestrator over the given ordered stage list.
func New(stages []Stage, opts Options) (*Orchestrator, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage required")
	}
	seen := make(map[string]struct{}, len(stages))
	for _, s := range stages {
		if s.Name() == "" {
			return nil, fmt.Errorf("stage with empty name")
		}
		if _, dup := seen[s.Name()]; dup {
			return nil, fmt.Errorf("duplicate stage name %s", s.Name())
		}
		seen[s.Name()] = struct{}{}
	}

	o := &Orchestrator{
		stages:       stages,
		policy:       opts.Retry,
		classifier:   opts.Classifier,
		reporter:     opts.Reporter,
		logger:       opts.Logger,
		repositories: opts.Repositories,
		sleep:        opts.sleep,
		newRunID:     opts.newRunID,
	}
	if o.policy == nil {
		o.policy = NewRetryPolicy()
	}
	if o.classifier == nil {
		o.classifier = NewClassifier()
	}
	if o.reporter == nil {
		o.reporter = progress.NopReporter{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.sleep == nil {
		o.sleep = sleepCtx
	}
	if o.newRunID == nil {
		o.newRunID = uuid.NewString
	}
	return o, nil
}

// Execute runs the pipeline for one query. It always returns a Result and
// never panics or returns an error; faults are carried inside the Result.
func (o *Orchestrator) Execute(ctx context.Context, req Request) *Result {
	started := time.Now()
	runID := o.newRunID()
	logger := o.logger.With(zap.String("run_id", runID))

	wctx := NewContext(req)
	state := NewState(runID, req.UserID, req.Query, stageNames(o.stages))

	var (
		executed    []string
		faults      []Fault
		degraded    bool
		success     bool
		finalAnswer string
	)

	if strings.TrimSpace(req.Query) == "" {
		faults = append(faults, NewFault(FaultValidation, "query must not be empty", false))
	} else {
		success = true

	pipeline:
		for i, stage := range o.stages {
			name := stage.Name()
			state.CurrentStep = i + 1

			if err := ctx.Err(); err != nil {
				faults = append(faults, NewFault(FaultTimeout, "run cancelled: "+err.Error(), false))
				success = false
				break pipeline
			}

			if skipped, err := o.applySkipRules(ctx, runID, name, wctx, state); err != nil {
				faults = append(faults, NewFault(FaultUnknown, err.Error(), false))
				success = false
				break pipeline
			} else if skipped {
				continue
			}

			outcome := o.runStage(ctx, runID, stage, wctx.InputFor(name), state, logger)
			faults = append(faults, outcome.Faults...)

			if !outcome.Success {
				severity := o.classifier.Worst(outcome.Faults)
				logger.Warn("stage failed after retries",
					zap.String("stage", name),
					zap.String("severity", string(severity)),
					zap.Int("attempts", outcome.Metadata.Attempts))

				if severity == SeverityCritical {
					success = false
					break pipeline
				}

				fallback, ok := o.classifier.Fallback(name, wctx)
				if !ok {
					// No fallback for this stage: the degradation could
					// not be absorbed.
					degraded = true
					success = false
					break pipeline
				}

				degraded = true
				state.Transition(name, StageDegraded)
				outcome = fallback
				logger.Info("continuing on stage fallback", zap.String("stage", name))
			}

			if err := wctx.Record(name, outcome.Data); err != nil {
				logger.Error("recording stage output", zap.String("stage", name), zap.Error(err))
				faults = append(faults, NewFault(FaultUnknown, err.Error(), false))
				success = false
				break pipeline
			}
			executed = append(executed, name)

			if outcome.NextAction == ActionGeneralResponse {
				finalAnswer = OutOfDomainAnswer
				break pipeline
			}
		}
	}

	if success && finalAnswer == "" {
		if answer := wctx.Answer(); answer != nil {
			finalAnswer = answer.Answer
		} else {
			faults = append(faults, NewFault(FaultUnknown, "pipeline completed without an answer", false))
			success = false
		}
	}

	result := &Result{
		Success:        success,
		FinalAnswer:    finalAnswer,
		RunID:          runID,
		Duration:       time.Since(started),
		StagesExecuted: executed,
		Degraded:       degraded,
		Faults:         faults,
	}

	recordRun(ctx, result)
	o.emit(ctx, runID, progress.RunStage, resultPhase(result), resultMessage(result))
	logger.Info("workflow run finished",
		zap.Bool("success", result.Success),
		zap.Bool("degraded", result.Degraded),
		zap.Strings("stages", result.StagesExecuted),
		zap.Duration("duration", result.Duration))

	return result
}

// applySkipRules handles the two skip conditions evaluated before a stage
// is invoked: the list-repositories fast path replaces the context
// validator with a synthetic outcome, and a validator verdict of "no new
// search needed" skips the repository searcher.
func (o *Orchestrator) applySkipRules(ctx context.Context, runID, stage string, wctx *Context, state *State) (bool, error) {
	analysis := wctx.Analysis()

	switch stage {
	case StageContextValidator:
		if analysis != nil && analysis.SearchType == SearchTypeListRepositories {
			synthetic := ValidationOutput{
				NeedsNewSearch: false,
				Sufficiency:    1.0,
				Answer:         formatRepositoryList(o.repositories),
			}
			if err := wctx.Record(stage, synthetic); err != nil {
				return false, err
			}
			state.Transition(stage, StageSkipped)
			o.emit(ctx, runID, stage, progress.PhaseCompleted, "skipped: repository listing requested")
			return true, nil
		}

	case StageRepositorySearcher:
		if v := wctx.Validation(); v != nil && !v.NeedsNewSearch {
			state.Transition(stage, StageSkipped)
			o.emit(ctx, runID, stage, progress.PhaseCompleted, "skipped: existing context is sufficient")
			return true, nil
		}
	}

	return false, nil
}

// runStage invokes one stage with retry. It always returns a non-nil
// outcome; an unexpected Go error from the stage is converted to an
// UNKNOWN fault rather than propagated.
func (o *Orchestrator) runStage(ctx context.Context, runID string, stage Stage, in StageInput, state *State, logger *zap.Logger) *Outcome {
	name := stage.Name()
	o.emit(ctx, runID, name, progress.PhaseStarting,
		fmt.Sprintf("starting (estimated %s)", stage.EstimatedDuration()))

	if err := stage.ValidateInput(in); err != nil {
		fault := NewFault(FaultValidation, err.Error(), false)
		state.Transition(name, StageFailed)
		o.emit(ctx, runID, name, progress.PhaseFailed, fault.Message)
		return &Outcome{Success: false, Faults: []Fault{fault}}
	}

	budget := o.policy.Budget(stage)
	var last *Outcome

	for attempt := 1; ; attempt++ {
		state.Transition(name, StageRunning)
		o.emit(ctx, runID, name, progress.PhaseExecuting, fmt.Sprintf("attempt %d", attempt))

		invocationStart := time.Now()
		outcome, err := stage.Execute(ctx, in)
		if err != nil || outcome == nil {
			msg := "stage returned no outcome"
			if err != nil {
				msg = err.Error()
			}
			outcome = &Outcome{
				Success: false,
				Faults:  []Fault{NewFault(FaultUnknown, msg, false)},
			}
		}
		if outcome.Metadata.Duration == 0 {
			outcome.Metadata.Duration = time.Since(invocationStart)
		}
		outcome.Metadata.Attempts = attempt
		recordStage(ctx, name, outcome.Metadata.Duration, outcome.Success)

		if outcome.Success {
			state.Transition(name, StageCompleted)
			o.emit(ctx, runID, name, progress.PhaseCompleted, outcome.Summary)
			return outcome
		}
		last = outcome

		fault, retryable := firstRetryable(outcome.Faults)
		if !retryable || !o.policy.ShouldRetry(fault, attempt, budget) {
			break
		}

		delay := o.policy.Delay(fault, attempt)
		state.Transition(name, StageRetrying)
		recordRetry(ctx, name)
		o.emit(ctx, runID, name, progress.PhaseRetrying,
			fmt.Sprintf("attempt %d failed (%s), retrying in %s", attempt, fault.Kind, delay.Round(time.Millisecond)))
		logger.Debug("retrying stage",
			zap.String("stage", name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("fault", fault.Error()))

		if err := o.sleep(ctx, delay); err != nil {
			last.Faults = append(last.Faults, NewFault(FaultTimeout, "retry wait cancelled: "+err.Error(), false))
			break
		}
	}

	state.Transition(name, StageFailed)
	o.emit(ctx, runID, name, progress.PhaseFailed, summarizeFaults(last.Faults))
	return last
}

// emit publishes a progress event. Reporter failures never fail the run.
func (o *Orchestrator) emit(ctx context.Context, runID, stage string, phase progress.Phase, message string) {
	event := progress.Event{
		RunID:     runID,
		Stage:     stage,
		Phase:     phase,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err := o.reporter.Emit(ctx, event); err != nil {
		o.logger.Debug("progress emit failed",
			zap.String("run_id", runID),
			zap.String("stage", stage),
			zap.Error(err))
	}
}

func stageNames(stages []Stage) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name()
	}
	return names
}

func formatRepositoryList(repositories []string) string {
	if len(repositories) == 0 {
		return "No repositories are currently indexed."
	}
	var b strings.Builder
	b.WriteString("The following repositories are available:\n")
	for _, r := range repositories {
		b.WriteString("- " + r + "\n")
	}
	return b.String()
}

func summarizeFaults(faults []Fault) string {
	if len(faults) == 0 {
		return "failed"
	}
	parts := make([]string, len(faults))
	for i, f := range faults {
		parts[i] = f.Error()
	}
	return strings.Join(parts, "; ")
}

func resultPhase(result *Result) progress.Phase {
	if result.Success {
		return progress.PhaseCompleted
	}
	return progress.PhaseFailed
}

func resultMessage(result *Result) string {
	switch {
	case result.Success && result.Degraded:
		return "completed with degraded stages"
	case result.Success:
		return "completed"
	default:
		return "aborted: " + summarizeFaults(result.Faults)
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
