package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/soulo-online/insight/internal/engine"
	"github.com/soulo-online/insight/internal/idempotency"
	"github.com/soulo-online/insight/internal/plan"
	"github.com/soulo-online/insight/internal/store"
)

// Scheduler periodically runs a canned "last calendar week" digest plan for
// every user. Locks keep replicas from producing duplicate digests.
type Scheduler struct {
	Store    *store.Store
	Engine   Executor
	Locks    idempotency.Locker
	CronSpec string
	Interval time.Duration
	Stop     chan struct{}
	Logger   *log.Logger

	mu      sync.Mutex
	lastRun map[string]time.Time
}

func (s *Scheduler) Start() {
	if s.Interval <= 0 {
		s.Interval = time.Hour
	}
	if s.lastRun == nil {
		s.lastRun = make(map[string]time.Time)
	}
	ticker := time.NewTicker(s.Interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	userIDs, err := s.Store.ListUserIDs(ctx)
	if err != nil {
		s.Logger.Printf("list users: %v", err)
		return
	}
	for _, userID := range userIDs {
		s.mu.Lock()
		last, seen := s.lastRun[userID]
		s.mu.Unlock()
		var lastPtr *time.Time
		if seen {
			lastPtr = &last
		}
		if !isDue(s.CronSpec, lastPtr) {
			continue
		}

		if s.Locks != nil {
			key := idempotency.Key("digest", userID)
			ok, err := s.Locks.Acquire(ctx, key, 2*time.Minute)
			if err != nil || !ok {
				continue
			}
		}

		result := s.Engine.Execute(ctx, engine.Request{
			Plan:     digestPlan(),
			Identity: userID,
			Period:   "last_week",
		})
		s.Logger.Printf("digest for %s: request %s, %d sub-questions, confidence %.2f",
			userID, result.RequestID, len(result.Results), result.Confidence)

		s.mu.Lock()
		s.lastRun[userID] = time.Now()
		s.mu.Unlock()
	}
}

// digestPlan is the canned weekly reflection plan.
func digestPlan() *plan.QueryPlan {
	return &plan.QueryPlan{
		Strategy: "weekly digest",
		SubQuestions: []plan.SubQuestion{
			{
				Question: "What themes came up in my journal last week?",
				Purpose:  "weekly digest",
				Steps: []plan.AnalysisStep{
					{
						QueryType: plan.QueryTypeVectorSearch,
						VectorSearch: &plan.VectorSearchSpec{
							Query:     "recurring themes, moods, and concerns from recent journal entries",
							Threshold: 0.35,
							Limit:     20,
						},
					},
				},
			},
		},
	}
}

// isDue determines whether a digest should run now given the cron spec and
// the last run time. Supports "@daily", "@hourly", "@weekly", and standard
// 5-field cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@weekly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 7*24*time.Hour
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		return !expr.Next(*last).After(now)
	}
}
