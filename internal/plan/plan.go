package plan

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Query types understood by the execution engine. Anything else is carried
// through normalization untouched and surfaces as an unknown-step error at
// execution time, never as a silent skip.
const (
	QueryTypeSQLAnalysis    = "sql_analysis"
	QueryTypeSQLCount       = "sql_count"
	QueryTypeSQLCalculation = "sql_calculation"
	QueryTypeVectorSearch   = "vector_search"
	QueryTypeHybridSearch   = "hybrid_search"
)

// DefaultExecutionStage is applied once, at the normalization boundary.
const DefaultExecutionStage = 1

// ErrPlanMalformed indicates the top-level plan document is unusable
// (missing sub-questions, structurally invalid steps). The orchestrator
// answers it with its degraded fallback envelope.
var ErrPlanMalformed = errors.New("plan malformed")

// TimeRange bounds a query window. Either bound may be nil (open). Timezone
// is informational only; stored timestamps are always compared in UTC.
type TimeRange struct {
	Start    *time.Time `json:"start"`
	End      *time.Time `json:"end"`
	Timezone string     `json:"timezone,omitempty"`
}

// IsZero reports whether neither bound is set.
func (tr *TimeRange) IsZero() bool {
	return tr == nil || (tr.Start == nil && tr.End == nil)
}

// VectorSearchSpec configures a semantic search step.
type VectorSearchSpec struct {
	Query     string  `json:"query"`
	Threshold float64 `json:"threshold"`
	Limit     int     `json:"limit"`
}

// AnalysisStep is one unit of work inside a sub-question.
type AnalysisStep struct {
	QueryType    string            `json:"queryType"`
	SQLQuery     string            `json:"sqlQuery,omitempty"`
	VectorSearch *VectorSearchSpec `json:"vectorSearch,omitempty"`
	TimeRange    *TimeRange        `json:"timeRange,omitempty"`
}

// IsSQL reports whether the step carries a relational query.
func (s AnalysisStep) IsSQL() bool {
	switch s.QueryType {
	case QueryTypeSQLAnalysis, QueryTypeSQLCount, QueryTypeSQLCalculation:
		return true
	}
	return false
}

// SubQuestion is one decomposed facet of the user's question.
type SubQuestion struct {
	Question       string         `json:"question"`
	Purpose        string         `json:"purpose,omitempty"`
	ExecutionStage int            `json:"executionStage,omitempty"`
	Steps          []AnalysisStep `json:"analysisSteps"`
}

// QueryPlan is the structured decomposition emitted by the upstream planner.
// It is untrusted input: Normalize is the single place defaults are applied
// and structure is checked before the engine touches it.
type QueryPlan struct {
	SubQuestions []SubQuestion `json:"subQuestions"`
	Strategy     string        `json:"strategy,omitempty"`
	Reasoning    string        `json:"reasoning,omitempty"`
	TimeRange    *TimeRange    `json:"timeRange,omitempty"`
}

// Normalize validates the raw plan and applies defaults in place, returning
// the same plan ready for scheduling. All structural rejection happens here;
// the engine downstream assumes a well-formed plan.
func Normalize(p *QueryPlan) (*QueryPlan, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: no plan provided", ErrPlanMalformed)
	}
	if len(p.SubQuestions) == 0 {
		return nil, fmt.Errorf("%w: plan has no sub-questions", ErrPlanMalformed)
	}
	for i := range p.SubQuestions {
		sq := &p.SubQuestions[i]
		if sq.Question == "" {
			return nil, fmt.Errorf("%w: sub-question %d has no question text", ErrPlanMalformed, i)
		}
		if sq.ExecutionStage <= 0 {
			sq.ExecutionStage = DefaultExecutionStage
		}
		if len(sq.Steps) == 0 {
			return nil, fmt.Errorf("%w: sub-question %d has no analysis steps", ErrPlanMalformed, i)
		}
		for j := range sq.Steps {
			step := &sq.Steps[j]
			if vs := step.VectorSearch; vs != nil {
				if vs.Query == "" {
					return nil, fmt.Errorf("%w: sub-question %d step %d vector search has no query text", ErrPlanMalformed, i, j)
				}
				if vs.Threshold < 0 || vs.Threshold > 1 {
					return nil, fmt.Errorf("%w: sub-question %d step %d threshold %v outside [0,1]", ErrPlanMalformed, i, j, vs.Threshold)
				}
				if vs.Limit <= 0 {
					return nil, fmt.Errorf("%w: sub-question %d step %d limit must be positive", ErrPlanMalformed, i, j)
				}
			}
			if step.IsSQL() && step.SQLQuery == "" {
				return nil, fmt.Errorf("%w: sub-question %d step %d is %s but has no sqlQuery", ErrPlanMalformed, i, j, step.QueryType)
			}
		}
	}
	return p, nil
}

// Stages returns the sorted distinct execution stages of a normalized plan.
func (p *QueryPlan) Stages() []int {
	seen := make(map[int]bool)
	var stages []int
	for _, sq := range p.SubQuestions {
		if !seen[sq.ExecutionStage] {
			seen[sq.ExecutionStage] = true
			stages = append(stages, sq.ExecutionStage)
		}
	}
	sort.Ints(stages)
	return stages
}
