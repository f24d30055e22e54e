package stages

import (
	"context"
	"errors"

	"github.com/modflowai/mfai-query/internal/llm"
	"github.com/modflowai/mfai-query/internal/search"
	"github.com/modflowai/mfai-query/internal/workflow"
)

// faultFromError maps a collaborator error onto the workflow fault
// taxonomy. The mapping is the single place transport sentinels are
// interpreted; stages never inspect error strings themselves.
func faultFromError(err error) workflow.Fault {
	switch {
	case errors.Is(err, llm.ErrUnauthorized):
		return workflow.NewFault(workflow.FaultAuth, err.Error(), false)
	case errors.Is(err, llm.ErrRateLimited):
		// Rate limits are retryable; the retry policy recognizes them by
		// message and backs off steeply.
		return workflow.NewFault(workflow.FaultTimeout, err.Error(), true)
	case errors.Is(err, llm.ErrUnavailable), errors.Is(err, search.ErrUnavailable):
		return workflow.NewFault(workflow.FaultServiceUnavailable, err.Error(), true)
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return workflow.NewFault(workflow.FaultTimeout, err.Error(), true)
	case errors.Is(err, context.Canceled):
		return workflow.NewFault(workflow.FaultTimeout, err.Error(), false)
	case errors.Is(err, llm.ErrEmptyResponse):
		return workflow.NewFault(workflow.FaultUnknown, err.Error(), true)
	default:
		return workflow.NewFault(workflow.FaultUnknown, err.Error(), false)
	}
}

// parseFault wraps a model-output parse failure. Malformed output is often
// transient, so these are retryable.
func parseFault(err error) workflow.Fault {
	return workflow.NewFault(workflow.FaultUnknown, "malformed model output: "+err.Error(), true)
}

// failure builds the standard failed outcome for a stage, preserving the
// invariant that Data is always present.
func failure(data workflow.StageData, faults ...workflow.Fault) *workflow.Outcome {
	return &workflow.Outcome{
		Success:    false,
		Data:       data,
		Confidence: 0,
		Faults:     faults,
	}
}
