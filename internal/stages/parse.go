package stages

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/modflowai/mfai-query/internal/workflow"
)

// ErrMalformedPayload indicates model output that does not follow a
// stage's declared format. It always becomes a Fault, never a crash.
var ErrMalformedPayload = errors.New("stages: malformed payload")

// relevanceVerdict is the relevance checker's parsed payload.
type relevanceVerdict struct {
	Relevant   bool
	Confidence float64
	Reason     string
}

// parseRelevance parses the strict line-delimited relevance payload:
//
//	RELEVANT: yes|no
//	CONFIDENCE: <0..1>
//	REASON: <text>
func parseRelevance(raw string) (relevanceVerdict, error) {
	var (
		verdict       relevanceVerdict
		hasRelevant   bool
		hasConfidence bool
	)

	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "RELEVANT:"):
			value := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "RELEVANT:")))
			switch value {
			case "yes":
				verdict.Relevant = true
			case "no":
				verdict.Relevant = false
			default:
				return verdict, fmt.Errorf("%w: RELEVANT must be yes or no, got %q", ErrMalformedPayload, value)
			}
			hasRelevant = true

		case strings.HasPrefix(line, "CONFIDENCE:"):
			value := strings.TrimSpace(strings.TrimPrefix(line, "CONFIDENCE:"))
			parsed, err := strconv.ParseFloat(value, 64)
			if err != nil || parsed < 0 || parsed > 1 {
				return verdict, fmt.Errorf("%w: bad confidence %q", ErrMalformedPayload, value)
			}
			verdict.Confidence = parsed
			hasConfidence = true

		case strings.HasPrefix(line, "REASON:"):
			verdict.Reason = strings.TrimSpace(strings.TrimPrefix(line, "REASON:"))
		}
	}

	if !hasRelevant || !hasConfidence {
		return verdict, fmt.Errorf("%w: missing RELEVANT or CONFIDENCE line", ErrMalformedPayload)
	}
	return verdict, nil
}

// analysisPayload is the query analyzer's JSON wire shape.
type analysisPayload struct {
	Strategy     string   `json:"strategy"`
	Repositories []string `json:"repositories"`
	Keywords     []string `json:"keywords"`
	SearchType   string   `json:"search_type"`
}

// parseAnalysis parses the analyzer's strict JSON payload and validates
// its closed enums.
func parseAnalysis(raw string) (workflow.AnalysisOutput, error) {
	var out workflow.AnalysisOutput

	body, err := extractJSON(raw)
	if err != nil {
		return out, err
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	var payload analysisPayload
	if err := dec.Decode(&payload); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch workflow.SearchStrategy(payload.Strategy) {
	case workflow.StrategySemantic, workflow.StrategyExact, workflow.StrategyHybrid:
		out.Strategy = workflow.SearchStrategy(payload.Strategy)
	default:
		return out, fmt.Errorf("%w: unknown strategy %q", ErrMalformedPayload, payload.Strategy)
	}

	switch workflow.SearchType(payload.SearchType) {
	case workflow.SearchTypeDocumentation, workflow.SearchTypeListRepositories:
		out.SearchType = workflow.SearchType(payload.SearchType)
	case "":
		out.SearchType = workflow.SearchTypeDocumentation
	default:
		return out, fmt.Errorf("%w: unknown search_type %q", ErrMalformedPayload, payload.SearchType)
	}

	out.Scope = payload.Repositories
	out.Keywords = payload.Keywords
	return out, nil
}

// validationPayload is the context validator's JSON wire shape.
type validationPayload struct {
	NeedsNewSearch bool    `json:"needs_new_search"`
	Sufficiency    float64 `json:"sufficiency"`
	Answer         string  `json:"answer"`
}

// parseValidation parses the validator's strict JSON payload.
func parseValidation(raw string) (workflow.ValidationOutput, error) {
	var out workflow.ValidationOutput

	body, err := extractJSON(raw)
	if err != nil {
		return out, err
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	var payload validationPayload
	if err := dec.Decode(&payload); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if payload.Sufficiency < 0 || payload.Sufficiency > 1 {
		return out, fmt.Errorf("%w: sufficiency %v out of range", ErrMalformedPayload, payload.Sufficiency)
	}
	if !payload.NeedsNewSearch && payload.Answer == "" {
		return out, fmt.Errorf("%w: answer required when no new search is needed", ErrMalformedPayload)
	}

	out.NeedsNewSearch = payload.NeedsNewSearch
	out.Sufficiency = payload.Sufficiency
	out.Answer = payload.Answer
	return out, nil
}

// extractJSON accepts either a bare JSON object or one wrapped in a single
// markdown code fence. Anything else is malformed; there is no best-effort
// recovery.
func extractJSON(raw string) (string, error) {
	body := strings.TrimSpace(raw)

	if strings.HasPrefix(body, "```") {
		lines := strings.Split(body, "\n")
		if len(lines) < 3 || strings.TrimSpace(lines[len(lines)-1]) != "```" {
			return "", fmt.Errorf("%w: unterminated code fence", ErrMalformedPayload)
		}
		body = strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
	}

	if !strings.HasPrefix(body, "{") {
		return "", fmt.Errorf("%w: expected JSON object", ErrMalformedPayload)
	}
	return body, nil
}
