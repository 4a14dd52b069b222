package ticketflow

import (
	"fmt"
	"strings"
)

// EscalationThreshold is the default score below which a ticket is routed to
// a human agent. A best score equal to the threshold does not escalate.
const EscalationThreshold = 90

// Candidate is one proposed resolution for a ticket.
type Candidate struct {
	Solution string `json:"solution"`
	// Relevance is an optional advertised confidence from the source that
	// produced the candidate (e.g. knowledge-base match strength). Nil means
	// the source advertised nothing; an advertised zero is a real score.
	Relevance *int `json:"relevance,omitempty"`
}

// Scorer scores one candidate against the customer query. Scores are clamped
// to [0,100]; higher means higher confidence.
type Scorer interface {
	Score(query string, candidate Candidate) int
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(query string, candidate Candidate) int

// Score implements Scorer.
func (f ScorerFunc) Score(query string, candidate Candidate) int { return f(query, candidate) }

// DecisionResult is produced once per run by the DECIDE stage and is
// immutable afterwards.
type DecisionResult struct {
	BestScore int    `json:"best_score"`
	Solution  string `json:"solution"`
	Escalate  bool   `json:"escalate"`
	Rationale string `json:"rationale"`
}

// asMap renders the result for storage under stage_results["DECIDE"].
func (d DecisionResult) asMap() map[string]any {
	return map[string]any{
		"best_score": d.BestScore,
		"solution":   d.Solution,
		"escalate":   d.Escalate,
		"rationale":  d.Rationale,
	}
}

// DecisionEngine scores candidate resolutions and applies the escalation
// policy.
type DecisionEngine struct {
	scorer    Scorer
	threshold int
}

// DecisionOption configures a DecisionEngine.
type DecisionOption func(*DecisionEngine)

// WithScorer replaces the default scoring heuristic.
func WithScorer(s Scorer) DecisionOption {
	return func(d *DecisionEngine) { d.scorer = s }
}

// WithThreshold overrides the escalation threshold.
func WithThreshold(threshold int) DecisionOption {
	return func(d *DecisionEngine) { d.threshold = threshold }
}

// NewDecisionEngine creates an engine with the default scorer and threshold.
func NewDecisionEngine(opts ...DecisionOption) *DecisionEngine {
	d := &DecisionEngine{
		scorer:    ScorerFunc(defaultScore),
		threshold: EscalationThreshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decide scores every candidate, picks the maximum (ties broken by
// declaration order, first wins) and applies the escalation policy.
func (d *DecisionEngine) Decide(query string, candidates []Candidate) DecisionResult {
	if len(candidates) == 0 {
		return DecisionResult{
			Escalate:  true,
			Rationale: "no candidate solutions to evaluate",
		}
	}

	best := DecisionResult{BestScore: -1}
	for _, c := range candidates {
		score := clampScore(d.scorer.Score(query, c))
		if score > best.BestScore {
			best.BestScore = score
			best.Solution = c.Solution
		}
	}

	if best.BestScore < d.threshold {
		best.Escalate = true
		best.Rationale = fmt.Sprintf("best score %d below threshold %d", best.BestScore, d.threshold)
	} else {
		best.Rationale = fmt.Sprintf("best score %d meets threshold %d", best.BestScore, d.threshold)
	}
	return best
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// defaultScore uses the candidate's advertised relevance when present and
// falls back to keyword overlap between the query and the solution text.
func defaultScore(query string, c Candidate) int {
	if c.Relevance != nil {
		return *c.Relevance
	}
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return 0
	}
	solution := strings.ToLower(c.Solution)
	matched := 0
	for _, w := range words {
		if strings.Contains(solution, w) {
			matched++
		}
	}
	return matched * 100 / len(words)
}

// candidatesFrom extracts candidate resolutions from ability result values.
// It understands both knowledge-base results ("kb_results" with
// article/relevance) and solution lists ("solutions" with solution/score).
func candidatesFrom(value map[string]any) []Candidate {
	var out []Candidate
	appendItems := func(items []any, nameKey, scoreKey string) {
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			c := Candidate{}
			if s, ok := m[nameKey].(string); ok {
				c.Solution = s
			}
			if n, ok := intFrom(m[scoreKey]); ok {
				c.Relevance = &n
			}
			if c.Solution != "" {
				out = append(out, c)
			}
		}
	}
	if items, ok := value["solutions"].([]any); ok {
		appendItems(items, "solution", "score")
	}
	if items, ok := value["kb_results"].([]any); ok {
		appendItems(items, "article", "relevance")
	}
	return out
}

func intFrom(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
