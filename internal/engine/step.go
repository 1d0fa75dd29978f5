package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soulo-online/insight/internal/plan"
	"github.com/soulo-online/insight/internal/sqlguard"
	"github.com/soulo-online/insight/internal/timerange"
)

// stepOutcome is the normalized result of one analysis step.
type stepOutcome struct {
	kind    string
	ok      bool
	rows    []Row
	entries []VectorEntry
	err     error
}

// runStep resolves the step's time range and dispatches to the SQL executor,
// the vector executor, or both for hybrid steps. Errors stay inside the
// outcome; runStep itself never fails.
func (e *Engine) runStep(ctx context.Context, step plan.AnalysisStep, planRange *plan.TimeRange, identity string) stepOutcome {
	var derived *plan.TimeRange
	if step.SQLQuery != "" {
		derived = timerange.FromSQL(step.SQLQuery)
	}
	tr := timerange.Resolve(step.TimeRange, derived, planRange)

	started := time.Now()
	out := e.dispatch(ctx, step, tr, identity)
	if e.metrics != nil {
		outcome := "ok"
		if !out.ok {
			outcome = "error"
		}
		e.metrics.ObserveStep(out.kind, outcome, time.Since(started))
	}
	return out
}

func (e *Engine) dispatch(ctx context.Context, step plan.AnalysisStep, tr *plan.TimeRange, identity string) stepOutcome {
	switch {
	case step.IsSQL():
		rows, err := e.runSQL(ctx, step.SQLQuery, identity, tr)
		return stepOutcome{kind: "sql", ok: err == nil, rows: rows, err: err}
	case step.QueryType == plan.QueryTypeVectorSearch:
		entries, err := e.runVector(ctx, step, tr, identity)
		return stepOutcome{kind: "vector", ok: err == nil, entries: entries, err: err}
	case step.QueryType == plan.QueryTypeHybridSearch:
		return e.runHybrid(ctx, step, tr, identity)
	default:
		return stepOutcome{
			kind: "unknown",
			err:  fmt.Errorf("%w: %q", ErrUnknownStepType, step.QueryType),
		}
	}
}

// runHybrid executes the SQL and vector halves concurrently and merges their
// outputs. Either half failing degrades the step to the surviving half; both
// failing fails the step.
func (e *Engine) runHybrid(ctx context.Context, step plan.AnalysisStep, tr *plan.TimeRange, identity string) stepOutcome {
	var (
		wg      sync.WaitGroup
		rows    []Row
		entries []VectorEntry
		sqlErr  error
		vecErr  error
	)

	if step.SQLQuery != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows, sqlErr = e.runSQL(ctx, step.SQLQuery, identity, tr)
		}()
	}
	if step.VectorSearch != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, vecErr = e.runVector(ctx, step, tr, identity)
		}()
	}
	wg.Wait()

	out := stepOutcome{kind: "hybrid", rows: rows, entries: entries}
	switch {
	case sqlErr != nil && vecErr != nil:
		out.err = fmt.Errorf("sql: %v; vector: %v", sqlErr, vecErr)
	case sqlErr != nil:
		out.ok = true
		out.err = sqlErr
	case vecErr != nil:
		out.ok = true
		out.err = vecErr
	default:
		out.ok = true
	}
	return out
}

// runSQL sanitizes, binds, and executes one relational query. A logical
// failure reported by the store (success flag false) is an error here too.
func (e *Engine) runSQL(ctx context.Context, sql string, identity string, tr *plan.TimeRange) ([]Row, error) {
	sanitized, err := sqlguard.Sanitize(sql)
	if err != nil {
		return nil, err
	}
	bound := sqlguard.Bind(sanitized, identity, tr)

	callCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()
	result, err := e.store.ExecuteQuery(callCtx, bound)
	if err != nil {
		return nil, classify(fmt.Errorf("%w: %v", ErrStore, err))
	}
	if !result.Success {
		return nil, fmt.Errorf("%w: %s", ErrStore, result.Error)
	}
	return result.Data, nil
}

// runVector embeds the step's search text and dispatches to the correct
// named search procedure.
func (e *Engine) runVector(ctx context.Context, step plan.AnalysisStep, tr *plan.TimeRange, identity string) ([]VectorEntry, error) {
	if step.VectorSearch == nil {
		return nil, fmt.Errorf("%w: %s step has no vector search spec", ErrUnknownStepType, step.QueryType)
	}
	return e.vectorSearch(ctx, *step.VectorSearch, tr, identity)
}

// vectorSearch selects the time-bounded procedure whenever the resolved
// range has at least one bound; the choice depends only on range presence,
// never on step type. Threshold and limit pass through unmodified.
func (e *Engine) vectorSearch(ctx context.Context, spec plan.VectorSearchSpec, tr *plan.TimeRange, identity string) ([]VectorEntry, error) {
	embedCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()
	vectors, err := e.embedder.CreateEmbedding(embedCtx, []string{spec.Query})
	if err != nil {
		return nil, classify(fmt.Errorf("%w: %v", ErrEmbedding, err))
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: provider returned no vectors", ErrEmbedding)
	}

	searchCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()
	var entries []VectorEntry
	if tr.IsZero() {
		entries, err = e.store.SearchEntries(searchCtx, vectors[0], spec.Threshold, spec.Limit, identity)
	} else {
		entries, err = e.store.SearchEntriesWithDate(searchCtx, vectors[0], spec.Threshold, spec.Limit, identity, tr.Start, tr.End)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("%w: %v", ErrStore, err))
	}
	return entries, nil
}
