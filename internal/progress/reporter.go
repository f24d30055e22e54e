// Package progress provides live progress reporting for workflow runs.
//
// Reporters are fire-and-forget sinks: the orchestrator and stages publish
// run-tagged events through a Reporter, and a failure to emit must never
// fail the workflow that produced the event. Events from concurrent runs
// interleave freely; each run's own events are an ordered append.
package progress

import (
	"context"
	"sync"
	"time"
)

// Phase identifies where in a stage's lifecycle an event was emitted.
type Phase string

const (
	PhaseStarting  Phase = "starting"
	PhaseExecuting Phase = "executing"
	PhaseRetrying  Phase = "retrying"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// RunStage is the pseudo-stage name of the run-level terminal event. Every
// run emits exactly one event with this stage name, after its last real
// stage event.
const RunStage = "workflow"

// Event is a single progress update for one stage of one run.
type Event struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Phase     Phase     `json:"phase"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Reporter receives progress events.
//
// Implementations must be safe for concurrent use. Returned errors are
// advisory; callers are expected to log and continue.
type Reporter interface {
	Emit(ctx context.Context, event Event) error
}

// NopReporter discards all events.
type NopReporter struct{}

// Emit implements Reporter.
func (NopReporter) Emit(context.Context, Event) error { return nil }

// Recorder is an in-memory Reporter for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements Reporter.
func (r *Recorder) Emit(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of all recorded events in emission order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ForStage returns recorded events for one stage, in emission order.
func (r *Recorder) ForStage(stage string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Stage == stage {
			out = append(out, ev)
		}
	}
	return out
}
