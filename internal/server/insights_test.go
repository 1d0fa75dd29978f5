package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/soulo-online/insight/internal/engine"
	"github.com/soulo-online/insight/internal/idempotency"
	"github.com/soulo-online/insight/internal/runtime"
)

var testSecret = []byte("test-secret")

type stubExecutor struct {
	lastReq engine.Request
}

func (s *stubExecutor) Execute(ctx context.Context, req engine.Request) engine.Result {
	s.lastReq = req
	return engine.Result{
		Results:    []engine.SubQuestionResult{{Question: "stub"}},
		RequestID:  "req-1",
		Confidence: 1.0,
	}
}

type deniedLocker struct{}

func (deniedLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, nil
}
func (deniedLocker) Release(ctx context.Context, key string) error { return nil }

func newInsightsServer(t *testing.T, exec Executor, locks idempotency.Locker) *echo.Echo {
	t.Helper()
	e := echo.New()
	h := &InsightsHandler{Engine: exec, Locks: locks, Secret: testSecret}
	h.Register(e.Group("/api/insights"))
	return e
}

func bearerToken(t *testing.T, subject string) string {
	t.Helper()
	tok, err := runtime.SignJWT(subject, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + tok
}

func postQuery(t *testing.T, e *echo.Echo, body string, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/insights/query", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const queryBody = `{"plan":{"subQuestions":[{"question":"How did I sleep?","analysisSteps":[{"queryType":"vector_search","vectorSearch":{"query":"sleep","threshold":0.5,"limit":5}}]}]}}`

func TestQueryRequiresToken(t *testing.T) {
	e := newInsightsServer(t, &stubExecutor{}, idempotency.NewMemoryLocker())
	rec := postQuery(t, e, queryBody, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestQueryRejectsMissingPlan(t *testing.T) {
	e := newInsightsServer(t, &stubExecutor{}, idempotency.NewMemoryLocker())
	rec := postQuery(t, e, `{}`, bearerToken(t, "user-1"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestQueryRunsPlanForAuthenticatedUser(t *testing.T) {
	exec := &stubExecutor{}
	e := newInsightsServer(t, exec, idempotency.NewMemoryLocker())

	rec := postQuery(t, e, queryBody, bearerToken(t, "user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if exec.lastReq.Identity != "user-1" {
		t.Fatalf("identity must come from the token, got %q", exec.lastReq.Identity)
	}

	var result engine.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.RequestID != "req-1" || len(result.Results) != 1 {
		t.Fatalf("unexpected envelope: %+v", result)
	}
}

func TestQueryDecodesRawPlannerText(t *testing.T) {
	exec := &stubExecutor{}
	e := newInsightsServer(t, exec, idempotency.NewMemoryLocker())

	body := `{"planText":"Here you go:\n` + "```json" + `\n{\"subQuestions\":[{\"question\":\"q\",\"analysisSteps\":[{\"queryType\":\"vector_search\",\"vectorSearch\":{\"query\":\"x\",\"threshold\":0.5,\"limit\":3}}]}]}\n` + "```" + `"}`
	rec := postQuery(t, e, body, bearerToken(t, "user-2"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if exec.lastReq.Plan == nil || len(exec.lastReq.Plan.SubQuestions) != 1 {
		t.Fatalf("planner text not decoded: %+v", exec.lastReq.Plan)
	}
}

func TestQueryDuplicateInFlightConflicts(t *testing.T) {
	e := newInsightsServer(t, &stubExecutor{}, deniedLocker{})
	rec := postQuery(t, e, queryBody, bearerToken(t, "user-1"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubjectFlowsIntoRequestContext(t *testing.T) {
	var subject string
	exec := executorFunc(func(ctx context.Context, req engine.Request) engine.Result {
		subject, _ = runtime.SubjectFromContext(ctx)
		return engine.Result{Confidence: 1.0}
	})
	e := newInsightsServer(t, exec, nil)

	rec := postQuery(t, e, queryBody, bearerToken(t, "user-3"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if subject != "user-3" {
		t.Fatalf("subject missing from request context, got %q", subject)
	}
}

type executorFunc func(ctx context.Context, req engine.Request) engine.Result

func (f executorFunc) Execute(ctx context.Context, req engine.Request) engine.Result {
	return f(ctx, req)
}
