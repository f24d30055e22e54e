package workflow

import (
	"fmt"
	"strings"
)

// Severity is the classifier's triage verdict for a fault.
type Severity string

const (
	// SeverityRecoverable faults are expected to succeed on retry.
	SeverityRecoverable Severity = "recoverable"
	// SeverityDegraded faults allow the run to continue on a stage
	// fallback, when one exists.
	SeverityDegraded Severity = "degraded"
	// SeverityCritical faults abort the run; retrying will not help.
	SeverityCritical Severity = "critical"
)

// Classifier maps faults to severities and supplies stage-specific
// degraded fallbacks.
type Classifier struct{}

// NewClassifier creates a Classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify returns the severity of a single fault.
func (c *Classifier) Classify(fault Fault) Severity {
	switch fault.Kind {
	case FaultTimeout:
		return SeverityRecoverable
	case FaultServiceUnavailable:
		return SeverityDegraded
	case FaultAuth, FaultValidation:
		return SeverityCritical
	default:
		// UNKNOWN is conservatively treated as recoverable-by-fallback
		// rather than fatal.
		return SeverityDegraded
	}
}

// Worst returns the most severe classification among the faults.
// Critical dominates, then degraded, then recoverable.
func (c *Classifier) Worst(faults []Fault) Severity {
	worst := SeverityRecoverable
	for _, f := range faults {
		switch c.Classify(f) {
		case SeverityCritical:
			return SeverityCritical
		case SeverityDegraded:
			worst = SeverityDegraded
		}
	}
	return worst
}

// Fallback returns the conservative synthetic outcome for a stage whose
// real execution failed, or false if the stage has none.
//
// Fallbacks deliberately err toward doing more work, never less: a failed
// relevance check assumes the query is in-domain, a failed validation
// assumes a new search is needed. The repository searcher has no fallback;
// a failed search is fatal to its branch.
func (c *Classifier) Fallback(stage string, wctx *Context) (*Outcome, bool) {
	switch stage {
	case StageRelevanceChecker:
		return &Outcome{
			Success:    true,
			Data:       RelevanceOutput{Relevant: true, Reason: "relevance check unavailable, assuming in-domain"},
			Summary:    "assumed relevant (fallback)",
			Confidence: 0.3,
		}, true

	case StageQueryAnalyzer:
		return &Outcome{
			Success: true,
			Data: AnalysisOutput{
				Strategy:   StrategySemantic,
				Scope:      nil, // search everything
				Keywords:   nil,
				SearchType: SearchTypeDocumentation,
			},
			Summary:    "generic semantic search over all repositories (fallback)",
			Confidence: 0.3,
		}, true

	case StageContextValidator:
		// Skipping search is an optimization, never a safe default.
		return &Outcome{
			Success:    true,
			Data:       ValidationOutput{NeedsNewSearch: true},
			Summary:    "assumed new search needed (fallback)",
			Confidence: 0.3,
		}, true

	case StageResponseGenerator:
		return &Outcome{
			Success:    true,
			Data:       generatorFallback(wctx),
			Summary:    "verbatim search results (fallback)",
			Confidence: 0.2,
		}, true

	default:
		return nil, false
	}
}

const fallbackResultLimit = 3

// generatorFallback lists the top raw search results verbatim, or
// apologizes when there is nothing to show.
func generatorFallback(wctx *Context) AnswerOutput {
	search := wctx.Search()
	if search == nil || len(search.Candidates) == 0 {
		return AnswerOutput{
			Answer: "I was unable to generate an answer for this question. Please try rephrasing it or asking about a specific MODFLOW or PEST topic.",
		}
	}

	var b strings.Builder
	b.WriteString("I could not synthesize a full answer, but these are the most relevant documents found:\n")
	sources := make([]string, 0, fallbackResultLimit)
	for i, c := range search.Candidates {
		if i >= fallbackResultLimit {
			break
		}
		fmt.Fprintf(&b, "\n%d. %s/%s (relevance %.2f)\n%s\n", i+1, c.Repository, c.Path, c.Relevance, c.Snippet)
		sources = append(sources, c.Repository+"/"+c.Path)
	}

	return AnswerOutput{Answer: b.String(), Sources: sources}
}
