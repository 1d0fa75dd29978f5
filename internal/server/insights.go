package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/soulo-online/insight/internal/engine"
	"github.com/soulo-online/insight/internal/idempotency"
	"github.com/soulo-online/insight/internal/plan"
	"github.com/soulo-online/insight/internal/runtime"
)

// Executor runs one validated plan. Satisfied by *engine.Engine.
type Executor interface {
	Execute(ctx context.Context, req engine.Request) engine.Result
}

// lockTTL bounds how long an in-flight request suppresses its duplicates.
const lockTTL = 2 * time.Minute

type InsightsHandler struct {
	Engine Executor
	Locks  idempotency.Locker
	Secret []byte
}

func (h *InsightsHandler) Register(g *echo.Group) {
	g.Use(runtime.EchoAuthMiddleware(h.Secret))
	g.POST("/query", h.query)
}

func (h *InsightsHandler) query(c echo.Context) error {
	var req InsightQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID, _ := c.Get("user_id").(string)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	// A plan may arrive pre-decoded or as raw planner text.
	queryPlan := req.Plan
	if queryPlan == nil && req.PlanText != "" {
		decoded, err := plan.Decode(req.PlanText)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		queryPlan = decoded
	}
	if queryPlan == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no plan provided")
	}

	ctx := c.Request().Context()
	if h.Locks != nil {
		raw, _ := json.Marshal(queryPlan)
		key := idempotency.Key(userID, string(raw), req.Period)
		ok, err := h.Locks.Acquire(ctx, key, lockTTL)
		if err == nil && !ok {
			return echo.NewHTTPError(http.StatusConflict, "identical request already in progress")
		}
		if err == nil {
			defer func() { _ = h.Locks.Release(ctx, key) }()
		}
	}

	result := h.Engine.Execute(ctx, engine.Request{
		Plan:      queryPlan,
		Identity:  userID,
		TimeRange: req.TimeRange,
		Period:    req.Period,
	})
	return c.JSON(http.StatusOK, result)
}
