package workflow

import "time"

// StagePhase is the lifecycle phase of one stage within a run.
type StagePhase string

const (
	StagePending   StagePhase = "pending"
	StageRunning   StagePhase = "running"
	StageRetrying  StagePhase = "retrying"
	StageCompleted StagePhase = "completed"
	StageFailed    StagePhase = "failed"
	StageSkipped   StagePhase = "skipped"
	StageDegraded  StagePhase = "degraded"
)

// StageStatus tracks one stage's execution within a run.
type StageStatus struct {
	Phase     StagePhase `json:"phase"`
	Attempts  int        `json:"attempts"`
	StartedAt time.Time  `json:"started_at,omitempty"`
	EndedAt   time.Time  `json:"ended_at,omitempty"`
}

// State is the per-run bookkeeping record. It is created when a run
// starts, mutated after every stage transition and discarded when the run
// returns; persistence is a caller concern.
type State struct {
	RunID       string                  `json:"run_id"`
	UserID      string                  `json:"user_id,omitempty"`
	Query       string                  `json:"query"`
	CurrentStep int                     `json:"current_step"`
	TotalSteps  int                     `json:"total_steps"`
	Stages      map[string]*StageStatus `json:"stages"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// NewState creates a run record with all stages pending.
func NewState(runID, userID, query string, stages []string) *State {
	now := time.Now()
	statuses := make(map[string]*StageStatus, len(stages))
	for _, name := range stages {
		statuses[name] = &StageStatus{Phase: StagePending}
	}
	return &State{
		RunID:      runID,
		UserID:     userID,
		Query:      query,
		TotalSteps: len(stages),
		Stages:     statuses,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Transition moves one stage to a new phase, stamping start and end times
// at the running and terminal phases respectively.
func (s *State) Transition(stage string, phase StagePhase) {
	status, ok := s.Stages[stage]
	if !ok {
		return
	}

	now := time.Now()
	switch phase {
	case StageRunning:
		if status.StartedAt.IsZero() {
			status.StartedAt = now
		}
		status.Attempts++
	case StageCompleted, StageFailed, StageSkipped, StageDegraded:
		status.EndedAt = now
	}
	status.Phase = phase
	s.UpdatedAt = now
}
