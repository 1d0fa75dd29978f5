package timerange

import (
	"testing"
	"time"

	"github.com/soulo-online/insight/internal/plan"
)

func ts(t *testing.T, lit string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, lit)
	if err != nil {
		t.Fatalf("parse %q: %v", lit, err)
	}
	return v.UTC()
}

func TestResolvePrecedence(t *testing.T) {
	a := ts(t, "2025-01-01T00:00:00Z")
	b := ts(t, "2025-02-01T00:00:00Z")
	c := ts(t, "2025-03-01T00:00:00Z")

	stepRange := &plan.TimeRange{Start: &a}
	derived := &plan.TimeRange{Start: &b}
	planRange := &plan.TimeRange{Start: &c}

	if got := Resolve(stepRange, derived, planRange); got != stepRange {
		t.Fatalf("step range must win, got %+v", got)
	}
	if got := Resolve(nil, derived, planRange); got != derived {
		t.Fatalf("derived range must beat plan range, got %+v", got)
	}
	if got := Resolve(nil, nil, planRange); got != planRange {
		t.Fatalf("plan range must be the last fallback, got %+v", got)
	}
	if got := Resolve(nil, nil, nil); got != nil {
		t.Fatalf("no candidates must resolve to unbounded, got %+v", got)
	}
	// A present-but-empty range does not shadow a later candidate.
	if got := Resolve(&plan.TimeRange{}, nil, planRange); got != planRange {
		t.Fatalf("empty step range must not win, got %+v", got)
	}
}

func TestFromSQLLowerBoundOnly(t *testing.T) {
	tr := FromSQL("SELECT content FROM journal_entries WHERE user_id = :current_user_id AND created_at >= '2025-08-01T00:00:00Z'")
	if tr == nil || tr.Start == nil {
		t.Fatalf("expected a lower bound, got %+v", tr)
	}
	if !tr.Start.Equal(ts(t, "2025-08-01T00:00:00Z")) {
		t.Fatalf("wrong start: %v", tr.Start)
	}
	if tr.End != nil {
		t.Fatalf("upper bound must stay open, got %v", tr.End)
	}
}

func TestFromSQLBetween(t *testing.T) {
	tr := FromSQL("SELECT 1 FROM journal_entries WHERE created_at BETWEEN '2025-08-01' AND '2025-08-31' AND user_id = :current_user_id")
	if tr == nil || tr.Start == nil || tr.End == nil {
		t.Fatalf("expected both bounds, got %+v", tr)
	}
	if tr.Start.Format("2006-01-02") != "2025-08-01" || tr.End.Format("2006-01-02") != "2025-08-31" {
		t.Fatalf("wrong bounds: %v .. %v", tr.Start, tr.End)
	}
}

func TestFromSQLUnparseableLiteralIsAbsent(t *testing.T) {
	if tr := FromSQL("SELECT 1 WHERE created_at >= 'last week'"); tr != nil {
		t.Fatalf("unparseable literal must yield no range, got %+v", tr)
	}
}

func TestFromSQLNoTemporalClause(t *testing.T) {
	if tr := FromSQL("SELECT content FROM journal_entries WHERE user_id = :current_user_id"); tr != nil {
		t.Fatalf("expected nil, got %+v", tr)
	}
}

func TestFromDirectiveLastWeek(t *testing.T) {
	// Saturday 2026-08-29; the preceding ISO week is Mon 2026-08-17 .. Mon 2026-08-24.
	now := ts(t, "2026-08-29T15:04:05Z")
	tr, ok := FromDirective("last_week", now)
	if !ok {
		t.Fatalf("directive not recognized")
	}
	if !tr.Start.Equal(ts(t, "2026-08-17T00:00:00Z")) {
		t.Fatalf("wrong start: %v", tr.Start)
	}
	if !tr.End.Equal(ts(t, "2026-08-24T00:00:00Z")) {
		t.Fatalf("wrong end: %v", tr.End)
	}
}

func TestFromDirectiveOnSundayStaysInCurrentISOWeek(t *testing.T) {
	// Sunday belongs to the week that started the preceding Monday.
	now := ts(t, "2026-08-30T08:00:00Z")
	tr, ok := FromDirective("this_week", now)
	if !ok {
		t.Fatalf("directive not recognized")
	}
	if !tr.Start.Equal(ts(t, "2026-08-24T00:00:00Z")) {
		t.Fatalf("wrong start: %v", tr.Start)
	}
}

func TestFromDirectiveSpellings(t *testing.T) {
	now := ts(t, "2026-08-29T00:00:00Z")
	for _, directive := range []string{"last_week", "Last Week", "last_calendar_week", "today", "last_month"} {
		if _, ok := FromDirective(directive, now); !ok {
			t.Errorf("%q not recognized", directive)
		}
	}
	if _, ok := FromDirective("fortnight", now); ok {
		t.Errorf("unknown directive must not resolve")
	}
}
