// Troll Court orchestration server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/agent"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/api"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/config"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/eventbus"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/identity"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/llm"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/maintenance"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/metrics"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/middleware"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/ratelimit"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/store"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/stream"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/tasks"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		slog.Warn("Unknown LOG_LEVEL, keeping info", "value", cfg.LogLevel)
	}

	if err := run(cfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "agents", cfg.CompletionEnabled())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return err
	}
	slog.Info("Database connected")

	m := metrics.New()
	bus := eventbus.New(eventbus.Options{
		Capacity: cfg.EventBus.Capacity,
		Window:   cfg.EventBus.Window,
		Metrics:  m,
	})
	limiter := ratelimit.New(repo, ratelimit.DefaultConfig(), m)

	// A typed nil *HTTPClient must not reach the orchestrator as a non-nil
	// interface.
	var completion llm.Client
	if c := llm.NewHTTPClient(llm.Config{
		BaseURLs:    cfg.LLM.BaseURLs,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		Timeout:     cfg.LLM.Timeout,
		MaxFailures: cfg.LLM.MaxFailures,
		Cooldown:    cfg.LLM.Cooldown,
	}); c != nil {
		completion = c
	} else {
		slog.Info("Agents disabled (LLM_BASE_URLS not set)")
	}

	agentCfg := agent.DefaultConfig()
	agentCfg.ContextMessages = cfg.Agent.ContextMessages
	agentCfg.HighActivityThreshold = cfg.Agent.HighActivityThreshold
	agentCfg.Model = cfg.LLM.Model
	orch := agent.New(repo, limiter, bus, completion, agentCfg, m)

	var cycles tasks.CycleResolver = tasks.StoreCycleResolver{Store: repo}
	if cfg.Tasks.CycleMode == config.CycleModeWeekly {
		cycles = tasks.WeeklyCycleResolver{}
	}
	engine := tasks.NewEngine(repo, cycles, m)
	engine.RegisterDefaultHandlers()

	hub := stream.NewHub(stream.DefaultBuffer, m)

	// The hub and orchestrator return without I/O; the engine writes to the
	// store inside delivery, so it is subscribed last.
	bus.Subscribe(hub.Listener())
	bus.Subscribe(orch.Listener())
	bus.Subscribe(engine.Listener())

	origins := middleware.AllowedOrigins(cfg.FrontendURL, cfg.IsDevelopment())
	throttle := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	base := api.NewHandler(repo, bus, throttle)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(origins))
	r.Use(identity.Middleware)

	api.NewHealthHandler(repo, completion != nil).RegisterHealth(r)
	r.Handle("/metrics", m.Handler())
	api.NewEventHandler(base, cfg.HostServiceIDs).RegisterRoutes(r)
	api.NewCaseHandler(base, orch, limiter).RegisterRoutes(r)
	api.NewTaskHandler(base, engine).RegisterRoutes(r)
	stream.NewHandler(hub, origins, cfg.IsDevelopment()).RegisterRoutes(r)

	// WebSocket streams are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return maintenance.StartSweeper(gctx, repo, cfg.Maintenance.Interval, limiter.Window())
	})
	g.Go(func() error {
		throttle.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	orch.Wait()
	return err
}
