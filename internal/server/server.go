package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/soulo-online/insight/config"
	"github.com/soulo-online/insight/internal/engine"
	"github.com/soulo-online/insight/internal/idempotency"
	"github.com/soulo-online/insight/internal/store"
	"github.com/soulo-online/insight/internal/telemetry"
	"github.com/soulo-online/insight/provider"
)

// Run wires the service together and serves HTTP until the process exits.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if cfg.General.JWTSecret == "" {
		return fmt.Errorf("jwt secret not configured (general.jwt_secret)")
	}
	secret := []byte(cfg.General.JWTSecret)

	ctx := context.Background()
	dsn, err := cfg.Databases.Postgres.DSN()
	if err != nil {
		return err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	embedder, err := provider.NewProvider(provider.Client(cfg.Provider.Name),
		cfg.Provider.APIKey, cfg.Provider.EmbeddingModel, cfg.Provider.Timeout)
	if err != nil {
		return err
	}

	engineLogger := log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	eng := engine.New(st, embedder, engineLogger,
		engine.WithStepTimeout(cfg.Engine.StepTimeout),
		engine.WithMetrics(telemetry.New(nil)),
	)

	var locks idempotency.Locker = idempotency.NewMemoryLocker()
	var rdb *redis.Client
	if cfg.Databases.Redis.Host != "" && cfg.Databases.Redis.Port != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Databases.Redis.Host, cfg.Databases.Redis.Port),
			Password: cfg.Databases.Redis.Password,
			DB:       cfg.Databases.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w",
				cfg.Databases.Redis.Host, cfg.Databases.Redis.Port, err)
		}
		locks = idempotency.NewRedisLocker(rdb)
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	ih := &InsightsHandler{Engine: eng, Locks: locks, Secret: secret}
	ih.Register(api.Group("/insights"))

	if cfg.Scheduler.Enabled {
		sched := &Scheduler{
			Store:    st,
			Engine:   eng,
			Locks:    locks,
			CronSpec: cfg.Scheduler.CronSpec,
			Interval: time.Hour,
			Stop:     make(chan struct{}),
			Logger:   log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
		}
		sched.Start()
	}

	addr := cfg.General.Listen
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
