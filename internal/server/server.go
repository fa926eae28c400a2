package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/orca-live/orcad/config"
	"github.com/orca-live/orcad/internal/orchestrator"
	"github.com/orca-live/orcad/internal/planner"
	"github.com/orca-live/orcad/internal/registry"
	"github.com/orca-live/orcad/internal/store"
	"github.com/orca-live/orcad/provider"
)

// Run wires the store, directory, orchestrator and repair loop, then serves
// the HTTP API until the process exits.
func Run(cfg *appconfig.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging
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
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Storage.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
	}

	directory := registry.NewDirectory(st, rdb, cfg.Orchestrator.RegistryCacheTTL, nil)

	var confirmer planner.Confirmer
	if cfg.Confirm.APIKey != "" {
		pv, err := provider.NewProvider(provider.Client(cfg.Confirm.Provider), cfg.Confirm.APIKey, cfg.Confirm.Model, cfg.Confirm.Timeout)
		if err != nil {
			return fmt.Errorf("confirm provider: %w", err)
		}
		confirmer = &planner.LLMConfirmer{Provider: pv}
	}

	orchLogger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	client := orchestrator.NewAgentClient(cfg.Orchestrator.ExecuteTimeout)
	orch := orchestrator.New(st, cfg.Orchestrator.AgentDomain, client, orchLogger)

	if cfg.Orchestrator.RepairEnabled {
		repairer := orchestrator.NewRepairer(st, rdb, cfg.Orchestrator.RepairInterval, nil)
		repairer.Start()
	}

	api := e.Group("/api")
	(&RegistryHandler{Directory: directory}).Register(api.Group("/agents"))
	(&PlansHandler{Directory: directory, Confirmer: confirmer, Logger: orchLogger}).Register(api.Group("/plans"))
	(&WorkflowsHandler{Orch: orch}).Register(api.Group("/workflows"))
	(&JobsHandler{Store: st, Orch: orch}).Register(api.Group("/jobs"))

	addr := cfg.Server.Listen
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
