package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject layout for run events:
//
//	runs.{run_id}.{phase}
//
// Subscribers interested in a whole run use RunSubject's wildcard form.
const subjectPrefix = "runs"

// Subject returns the NATS subject for a single event.
func Subject(runID string, phase Phase) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, runID, phase)
}

// RunSubject returns the wildcard subject covering all events of a run.
func RunSubject(runID string) string {
	return fmt.Sprintf("%s.%s.>", subjectPrefix, runID)
}

// NATSReporter publishes events to a NATS connection.
//
// Publishing is best-effort: connection-level buffering applies and no
// acknowledgement is awaited.
type NATSReporter struct {
	nc *nats.Conn
}

// NewNATSReporter creates a reporter publishing on nc.
func NewNATSReporter(nc *nats.Conn) *NATSReporter {
	return &NATSReporter{nc: nc}
}

// Emit implements Reporter.
func (r *NATSReporter) Emit(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := r.nc.Publish(Subject(event.RunID, event.Phase), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
