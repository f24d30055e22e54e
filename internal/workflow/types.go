package workflow

import (
	"time"

	"github.com/modflowai/mfai-query/internal/rerank"
)

// Stage names, in canonical pipeline order.
const (
	StageRelevanceChecker   = "relevance_checker"
	StageQueryAnalyzer      = "query_analyzer"
	StageContextValidator   = "context_validator"
	StageRepositorySearcher = "repository_searcher"
	StageResponseGenerator  = "response_generator"
)

// StageOrder returns the canonical stage sequence.
func StageOrder() []string {
	return []string{
		StageRelevanceChecker,
		StageQueryAnalyzer,
		StageContextValidator,
		StageRepositorySearcher,
		StageResponseGenerator,
	}
}

// Role identifies a conversation turn author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one prior conversation exchange supplied by the caller.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NextAction is a control-flow hint a stage attaches to its outcome.
type NextAction string

const (
	// ActionNone means the pipeline proceeds normally.
	ActionNone NextAction = ""
	// ActionSkipSearch requests skipping the repository search stage.
	ActionSkipSearch NextAction = "skip_search"
	// ActionGeneralResponse halts the pipeline with the out-of-domain
	// answer.
	ActionGeneralResponse NextAction = "general_response"
	// ActionResponseGeneration jumps ahead to answer synthesis.
	ActionResponseGeneration NextAction = "response_generation"
)

// SearchStrategy is the analyzer's chosen retrieval approach.
type SearchStrategy string

const (
	StrategySemantic SearchStrategy = "semantic"
	StrategyExact    SearchStrategy = "exact"
	StrategyHybrid   SearchStrategy = "hybrid"
)

// SearchType distinguishes a documentation question from a request to list
// the available repositories.
type SearchType string

const (
	SearchTypeDocumentation    SearchType = "documentation"
	SearchTypeListRepositories SearchType = "list_repositories"
)

// StageData is the typed payload a stage stores into the workflow context.
// Exactly one concrete output type exists per stage, so the orchestrator's
// input construction is exhaustively checked at compile time.
type StageData interface {
	stageData()
}

// RelevanceOutput is the relevance checker's verdict.
type RelevanceOutput struct {
	Relevant bool   `json:"relevant"`
	Reason   string `json:"reason,omitempty"`
}

// AnalysisOutput is the query analyzer's search plan.
type AnalysisOutput struct {
	Strategy SearchStrategy `json:"strategy"`
	// Scope lists target repositories; empty means search everything.
	Scope      []string   `json:"scope,omitempty"`
	Keywords   []string   `json:"keywords,omitempty"`
	SearchType SearchType `json:"search_type"`
}

// ValidationOutput is the context validator's verdict on whether existing
// context already answers the query.
type ValidationOutput struct {
	NeedsNewSearch bool    `json:"needs_new_search"`
	Sufficiency    float64 `json:"sufficiency"`
	// Answer is a ready answer when no new search is needed.
	Answer string `json:"answer,omitempty"`
}

// SearchOutput is the repository searcher's ranked candidate list.
type SearchOutput struct {
	Candidates []rerank.Scored `json:"candidates"`
	// FailedTargets lists repositories whose search failed and was
	// omitted from the results.
	FailedTargets []string `json:"failed_targets,omitempty"`
}

// AnswerOutput is the response generator's final answer.
type AnswerOutput struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources,omitempty"`
}

func (RelevanceOutput) stageData()  {}
func (AnalysisOutput) stageData()   {}
func (ValidationOutput) stageData() {}
func (SearchOutput) stageData()     {}
func (AnswerOutput) stageData()     {}

// Metadata carries per-invocation measurements of a stage execution.
type Metadata struct {
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
}

// Outcome is the result of one stage execution.
//
// Invariants: Success=false implies Faults is non-empty, and Data is
// always present (a real result or a fallback) so downstream stages never
// observe an absent value for a stage they depend on.
type Outcome struct {
	Success    bool       `json:"success"`
	Data       StageData  `json:"data"`
	Summary    string     `json:"summary,omitempty"`
	Confidence float64    `json:"confidence"`
	NextAction NextAction `json:"next_action,omitempty"`
	Metadata   Metadata   `json:"metadata"`
	Faults     []Fault    `json:"faults,omitempty"`
}

// Request is the public entry point's input: one user query plus the
// caller's accumulated conversation state.
type Request struct {
	Query   string `json:"query"`
	UserID  string `json:"user_id,omitempty"`
	History []Turn `json:"history,omitempty"`
	// Previous holds ranked candidates from earlier runs, if the caller
	// kept them.
	Previous []rerank.Scored `json:"previous,omitempty"`
}

// Result is the single value a workflow run produces.
type Result struct {
	Success        bool          `json:"success"`
	FinalAnswer    string        `json:"final_answer,omitempty"`
	RunID          string        `json:"run_id"`
	Duration       time.Duration `json:"duration"`
	StagesExecuted []string      `json:"stages_executed"`
	Degraded       bool          `json:"degraded"`
	Faults         []Fault       `json:"faults,omitempty"`
}
