// Package timerange resolves the time window a single analysis step runs
// against. Candidate ranges come from several places with fixed precedence:
// the step's own range, a range inferred from literal timestamp comparisons
// in the step's SQL, the plan-level range, and finally unbounded.
package timerange

import (
	"regexp"
	"strings"
	"time"

	"github.com/soulo-online/insight/internal/plan"
)

// Resolve picks the effective range for a step. The first candidate with at
// least one bound wins; an absent winner means the step runs unbounded.
func Resolve(step *plan.TimeRange, sqlDerived *plan.TimeRange, planRange *plan.TimeRange) *plan.TimeRange {
	for _, candidate := range []*plan.TimeRange{step, sqlDerived, planRange} {
		if !candidate.IsZero() {
			return candidate
		}
	}
	return nil
}

var (
	betweenRe = regexp.MustCompile(`(?i)created_at\s+BETWEEN\s+'([^']+)'\s+AND\s+'([^']+)'`)
	lowerRe   = regexp.MustCompile(`(?i)created_at\s*>=\s*'([^']+)'`)
	upperRe   = regexp.MustCompile(`(?i)created_at\s*<=\s*'([^']+)'`)
)

// FromSQL infers a range from literal comparisons against the creation-time
// column. Literals that do not parse as timestamps are treated as absent;
// inference never fails.
func FromSQL(sql string) *plan.TimeRange {
	if m := betweenRe.FindStringSubmatch(sql); m != nil {
		start := parseLiteral(m[1])
		end := parseLiteral(m[2])
		if start != nil || end != nil {
			return &plan.TimeRange{Start: start, End: end}
		}
	}
	var tr plan.TimeRange
	if m := lowerRe.FindStringSubmatch(sql); m != nil {
		tr.Start = parseLiteral(m[1])
	}
	if m := upperRe.FindStringSubmatch(sql); m != nil {
		tr.End = parseLiteral(m[1])
	}
	if tr.IsZero() {
		return nil
	}
	return &tr
}

var literalLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseLiteral(lit string) *time.Time {
	lit = strings.TrimSpace(lit)
	for _, layout := range literalLayouts {
		if t, err := time.Parse(layout, lit); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// FromDirective resolves shorthand period names used by callers and the
// digest scheduler. Week arithmetic is ISO: weeks start on Monday, anchored
// to UTC.
func FromDirective(directive string, now time.Time) (*plan.TimeRange, bool) {
	now = now.UTC()
	switch normalizeDirective(directive) {
	case "last_week", "last_calendar_week":
		start := startOfISOWeek(now).AddDate(0, 0, -7)
		end := start.AddDate(0, 0, 7)
		return &plan.TimeRange{Start: &start, End: &end, Timezone: "UTC"}, true
	case "this_week":
		start := startOfISOWeek(now)
		end := start.AddDate(0, 0, 7)
		return &plan.TimeRange{Start: &start, End: &end, Timezone: "UTC"}, true
	case "today":
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 0, 1)
		return &plan.TimeRange{Start: &start, End: &end, Timezone: "UTC"}, true
	case "last_month":
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		start := first.AddDate(0, -1, 0)
		return &plan.TimeRange{Start: &start, End: &first, Timezone: "UTC"}, true
	}
	return nil, false
}

func normalizeDirective(directive string) string {
	d := strings.ToLower(strings.TrimSpace(directive))
	return strings.ReplaceAll(d, " ", "_")
}

func startOfISOWeek(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return day.AddDate(0, 0, -(weekday - 1))
}
