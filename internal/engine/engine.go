// Package engine executes validated query plans against the journal store.
// A plan fans out into sub-questions grouped by execution stage; stages run
// strictly in order, sub-questions within a stage concurrently, and each
// sub-question's analysis steps concurrently again. Failures are captured at
// the narrowest scope: a bad step records its error and the rest of the
// sub-question carries on.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/soulo-online/insight/internal/plan"
	"github.com/soulo-online/insight/internal/telemetry"
	"github.com/soulo-online/insight/internal/timerange"
)

// Row is one generic record returned by the store's read-query capability.
type Row = map[string]interface{}

// QueryResult is the store's envelope for a generic read query.
type QueryResult struct {
	Success bool   `json:"success"`
	Data    []Row  `json:"data"`
	Error   string `json:"error,omitempty"`
}

// VectorEntry is one semantic search hit.
type VectorEntry struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Similarity float64   `json:"similarity"`
	CreatedAt  time.Time `json:"createdAt,omitempty"`
}

// Store is the journal store surface the engine depends on. Only SELECT is
// ever issued through ExecuteQuery.
type Store interface {
	ExecuteQuery(ctx context.Context, sql string) (QueryResult, error)
	SearchEntries(ctx context.Context, embedding []float32, threshold float64, limit int, owner string) ([]VectorEntry, error)
	SearchEntriesWithDate(ctx context.Context, embedding []float32, threshold float64, limit int, owner string, start, end *time.Time) ([]VectorEntry, error)
	CountEntries(ctx context.Context, owner string, start, end *time.Time) (int, error)
}

// Embedder turns search text into a fixed-length vector.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// CombinedMetrics summarises one sub-question's hybrid results. Store-computed
// percentage/count values take precedence over engine-derived ones.
type CombinedMetrics struct {
	SQLCount           int     `json:"sqlCount"`
	VectorCount        int     `json:"vectorCount"`
	CombinedCount      int     `json:"combinedCount"`
	TotalCount         int     `json:"totalCount"`
	CombinedPercentage float64 `json:"combinedPercentage"`
}

// SubQuestionResult carries everything one sub-question produced.
type SubQuestionResult struct {
	Question       string          `json:"question"`
	Purpose        string          `json:"purpose,omitempty"`
	ExecutionStage int             `json:"executionStage"`
	Rows           []Row           `json:"rows"`
	Entries        []VectorEntry   `json:"entries"`
	Metrics        CombinedMetrics `json:"metrics"`
	Errors         []string        `json:"errors,omitempty"`
}

// Result is the envelope handed to the synthesis collaborator. Callers always
// receive a well-formed Result, even under total degradation.
type Result struct {
	Results    []SubQuestionResult `json:"results"`
	RequestID  string              `json:"requestId"`
	TimeRange  *plan.TimeRange     `json:"timeRange,omitempty"`
	Confidence float64             `json:"confidence"`
	Degraded   bool                `json:"degraded,omitempty"`
}

// Request is one plan execution on behalf of an authenticated user. Identity
// is injected by the caller from the session, never read from the plan.
type Request struct {
	Plan      *plan.QueryPlan
	Identity  string
	TimeRange *plan.TimeRange
	Period    string
}

const (
	defaultStepTimeout      = 15 * time.Second
	fallbackConfidence      = 0.3
	fallbackSearchThreshold = 0.3
	fallbackSearchLimit     = 10
	defaultFallbackQuestion = "What has been on my mind recently?"
)

// Engine drives plan execution. All collaborators are injected.
type Engine struct {
	store       Store
	embedder    Embedder
	logger      *log.Logger
	metrics     *telemetry.Metrics
	stepTimeout time.Duration
}

// Option configures engine behaviour.
type Option func(*Engine)

// WithStepTimeout overrides the per-step call timeout. A timed-out call is
// recorded as that step's failure, it never hangs the stage.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.stepTimeout = d
		}
	}
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine.
func New(store Store, embedder Embedder, logger *log.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	e := &Engine{
		store:       store,
		embedder:    embedder,
		logger:      logger,
		stepTimeout: defaultStepTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute validates and runs one plan, returning the result envelope. It
// never returns an error to the caller: malformed plans and unexpected
// failures from deeper layers both collapse into the degraded fallback.
func (e *Engine) Execute(ctx context.Context, req Request) (res Result) {
	started := time.Now()
	requestID := uuid.New().String()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("request %s: recovered from panic: %v", requestID, r)
			res = e.fallback(ctx, req, requestID, fmt.Errorf("internal failure: %v", r))
		}
		if e.metrics != nil {
			outcome := "ok"
			if res.Degraded {
				outcome = "degraded"
			}
			e.metrics.ObservePlan(outcome, time.Since(started))
		}
	}()

	normalized, err := plan.Normalize(req.Plan)
	if err != nil {
		e.logger.Printf("request %s: %v", requestID, err)
		return e.fallback(ctx, req, requestID, err)
	}

	planRange := e.resolvePlanRange(normalized, req)
	results := e.runStages(ctx, normalized, req.Identity, planRange)

	return Result{
		Results:    results,
		RequestID:  requestID,
		TimeRange:  planRange,
		Confidence: 1.0,
	}
}

// resolvePlanRange merges the caller's explicit range or shorthand period
// with the plan-level range. Explicit caller input wins.
func (e *Engine) resolvePlanRange(p *plan.QueryPlan, req Request) *plan.TimeRange {
	if !req.TimeRange.IsZero() {
		return req.TimeRange
	}
	if req.Period != "" {
		if tr, ok := timerange.FromDirective(req.Period, time.Now()); ok {
			return tr
		}
	}
	return p.TimeRange
}

// fallback builds the degraded envelope: one generic, unbounded vector search
// over the user's entries with an explicitly low confidence.
func (e *Engine) fallback(ctx context.Context, req Request, requestID string, cause error) Result {
	question := defaultFallbackQuestion
	if req.Plan != nil && len(req.Plan.SubQuestions) > 0 && req.Plan.SubQuestions[0].Question != "" {
		question = req.Plan.SubQuestions[0].Question
	}
	sub := SubQuestionResult{
		Question:       question,
		Purpose:        "degraded fallback search",
		ExecutionStage: plan.DefaultExecutionStage,
		Rows:           []Row{},
		Entries:        []VectorEntry{},
		Errors:         []string{cause.Error()},
	}

	entries, err := e.vectorSearch(ctx, plan.VectorSearchSpec{
		Query:     question,
		Threshold: fallbackSearchThreshold,
		Limit:     fallbackSearchLimit,
	}, nil, req.Identity)
	if err != nil {
		sub.Errors = append(sub.Errors, err.Error())
	} else {
		sub.Entries = entries
	}
	sub.Metrics = CombinedMetrics{VectorCount: len(sub.Entries), CombinedCount: distinctEntryCount(sub.Entries)}

	return Result{
		Results:    []SubQuestionResult{sub},
		RequestID:  requestID,
		Confidence: fallbackConfidence,
		Degraded:   true,
	}
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
	default:
		return err
	}
}
