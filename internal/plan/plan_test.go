package plan

import (
	"errors"
	"reflect"
	"testing"
)

func validPlan() *QueryPlan {
	return &QueryPlan{SubQuestions: []SubQuestion{{
		Question: "How often did I exercise?",
		Steps: []AnalysisStep{{
			QueryType: QueryTypeSQLCount,
			SQLQuery:  "SELECT COUNT(*) FROM journal_entries WHERE user_id = :current_user_id",
		}},
	}}}
}

func TestNormalizeDefaultsExecutionStage(t *testing.T) {
	p, err := Normalize(validPlan())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.SubQuestions[0].ExecutionStage != DefaultExecutionStage {
		t.Fatalf("expected stage %d, got %d", DefaultExecutionStage, p.SubQuestions[0].ExecutionStage)
	}
}

func TestNormalizeRejections(t *testing.T) {
	cases := map[string]*QueryPlan{
		"nil plan":         nil,
		"no sub-questions": {},
		"no question text": {SubQuestions: []SubQuestion{{Steps: []AnalysisStep{{QueryType: QueryTypeVectorSearch, VectorSearch: &VectorSearchSpec{Query: "x", Threshold: 0.5, Limit: 5}}}}}},
		"no steps":         {SubQuestions: []SubQuestion{{Question: "q"}}},
		"sql without query": {SubQuestions: []SubQuestion{{Question: "q", Steps: []AnalysisStep{
			{QueryType: QueryTypeSQLAnalysis},
		}}}},
		"threshold above one": {SubQuestions: []SubQuestion{{Question: "q", Steps: []AnalysisStep{
			{QueryType: QueryTypeVectorSearch, VectorSearch: &VectorSearchSpec{Query: "x", Threshold: 1.5, Limit: 5}},
		}}}},
		"zero limit": {SubQuestions: []SubQuestion{{Question: "q", Steps: []AnalysisStep{
			{QueryType: QueryTypeVectorSearch, VectorSearch: &VectorSearchSpec{Query: "x", Threshold: 0.5}},
		}}}},
		"empty search text": {SubQuestions: []SubQuestion{{Question: "q", Steps: []AnalysisStep{
			{QueryType: QueryTypeVectorSearch, VectorSearch: &VectorSearchSpec{Threshold: 0.5, Limit: 5}},
		}}}},
	}
	for name, p := range cases {
		if _, err := Normalize(p); !errors.Is(err, ErrPlanMalformed) {
			t.Errorf("%s: expected ErrPlanMalformed, got %v", name, err)
		}
	}
}

func TestNormalizeKeepsUnknownQueryType(t *testing.T) {
	p := &QueryPlan{SubQuestions: []SubQuestion{{
		Question: "q",
		Steps:    []AnalysisStep{{QueryType: "graph_query"}},
	}}}
	if _, err := Normalize(p); err != nil {
		t.Fatalf("unknown query type must survive normalization: %v", err)
	}
}

func TestStagesSortedDistinct(t *testing.T) {
	p := &QueryPlan{SubQuestions: []SubQuestion{
		{ExecutionStage: 3},
		{ExecutionStage: 1},
		{ExecutionStage: 3},
		{ExecutionStage: 2},
	}}
	if got := p.Stages(); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Fatalf("expected [1 2 3], got %v", got)
	}
}

func TestTimeRangeIsZero(t *testing.T) {
	var tr *TimeRange
	if !tr.IsZero() {
		t.Fatalf("nil range must be zero")
	}
	if !(&TimeRange{Timezone: "UTC"}).IsZero() {
		t.Fatalf("range with only a timezone must be zero")
	}
}
