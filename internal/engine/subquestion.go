package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/soulo-online/insight/internal/plan"
)

// Keys the store uses when it computes aggregates itself. When a result row
// carries one of these, the store's value wins over engine derivation.
const (
	storePercentageKey = "percentage"
	storeCountKey      = "count"
)

// runSubQuestion executes all steps of one sub-question concurrently, merges
// their outputs, and derives combined metrics. A failing step records its
// error and is otherwise ignored; partial results are retained.
func (e *Engine) runSubQuestion(ctx context.Context, sq plan.SubQuestion, planRange *plan.TimeRange, identity string) SubQuestionResult {
	outcomes := make([]stepOutcome, len(sq.Steps))
	var wg sync.WaitGroup
	for i, step := range sq.Steps {
		wg.Add(1)
		go func(i int, step plan.AnalysisStep) {
			defer wg.Done()
			outcomes[i] = e.runStep(ctx, step, planRange, identity)
		}(i, step)
	}
	wg.Wait()

	result := SubQuestionResult{
		Question:       sq.Question,
		Purpose:        sq.Purpose,
		ExecutionStage: sq.ExecutionStage,
		Rows:           []Row{},
		Entries:        []VectorEntry{},
	}
	for _, out := range outcomes {
		if out.err != nil {
			result.Errors = append(result.Errors, out.err.Error())
		}
		if !out.ok {
			continue
		}
		result.Rows = append(result.Rows, out.rows...)
		result.Entries = append(result.Entries, out.entries...)
	}

	result.Metrics = e.deriveMetrics(ctx, result, planRange, identity)
	return result
}

// deriveMetrics prefers store-computed percentage/count values found in any
// SQL row; engine derivation against a separate scoped count is the fallback.
func (e *Engine) deriveMetrics(ctx context.Context, res SubQuestionResult, planRange *plan.TimeRange, identity string) CombinedMetrics {
	m := CombinedMetrics{
		SQLCount:    len(res.Rows),
		VectorCount: len(res.Entries),
	}

	storePct, havePct := storeFloat(res.Rows, storePercentageKey)
	storeCount, haveCount := storeInt(res.Rows, storeCountKey)

	distinct := distinctEntryCount(res.Entries)
	if haveCount {
		m.CombinedCount = storeCount
	} else {
		m.CombinedCount = distinct
	}

	start, end := rangeBounds(planRange)
	total, err := e.store.CountEntries(ctx, identity, start, end)
	if err != nil {
		e.logger.Printf("count entries for %q: %v", identity, err)
		total = 0
	}
	m.TotalCount = total

	switch {
	case havePct:
		m.CombinedPercentage = storePct
	case total == 0:
		m.CombinedPercentage = 0
	default:
		m.CombinedPercentage = math.Round(float64(distinct)/float64(total)*1000) / 10
	}
	return m
}

func rangeBounds(tr *plan.TimeRange) (start, end *time.Time) {
	if tr == nil {
		return nil, nil
	}
	return tr.Start, tr.End
}

func distinctEntryCount(entries []VectorEntry) int {
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		seen[entry.ID] = true
	}
	return len(seen)
}

func storeFloat(rows []Row, key string) (float64, bool) {
	for _, row := range rows {
		if v, ok := row[key]; ok {
			switch n := v.(type) {
			case float64:
				return n, true
			case int:
				return float64(n), true
			case int64:
				return float64(n), true
			}
		}
	}
	return 0, false
}

func storeInt(rows []Row, key string) (int, bool) {
	if f, ok := storeFloat(rows, key); ok {
		return int(f), true
	}
	return 0, false
}
