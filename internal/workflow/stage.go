package workflow

import (
	"context"
	"time"

	"github.com/modflowai/mfai-query/internal/rerank"
)

// StageInput is the declared input shape of a stage, assembled by the
// orchestrator from the workflow context. A stage only reads the fields
// preceding it in pipeline order; later fields are always nil for it.
type StageInput struct {
	Query    string
	History  []Turn
	Previous []rerank.Scored

	Relevance  *RelevanceOutput
	Analysis   *AnalysisOutput
	Validation *ValidationOutput
	Search     *SearchOutput
}

// Stage is one pipeline step.
//
// Execute performs the stage's single external call and reports the result
// as an Outcome. Expected failures (network errors, malformed model
// output, timeouts) surface as Success=false with classified faults, not
// as Go errors; a returned error is reserved for programming mistakes and
// is converted to an UNKNOWN fault by the orchestrator.
type Stage interface {
	// Name returns the unique stage name.
	Name() string

	// Retryable reports whether failed invocations may be re-attempted.
	Retryable() bool

	// EstimatedDuration is an informational estimate for progress
	// reporting.
	EstimatedDuration() time.Duration

	// ValidateInput checks the stage's input contract.
	ValidateInput(in StageInput) error

	// Execute runs the stage.
	Execute(ctx context.Context, in StageInput) (*Outcome, error)
}
