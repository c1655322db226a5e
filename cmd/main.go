package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-mesh/internal/breaker"
	"agent-mesh/internal/config"
	"agent-mesh/internal/handlers"
	"agent-mesh/internal/ledger"
	"agent-mesh/internal/llm"
	"agent-mesh/internal/logging"
	"agent-mesh/internal/metrics"
	"agent-mesh/internal/middleware"
	"agent-mesh/internal/orchestrator"
	"agent-mesh/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			// No .env is fine in containerized deployments.
		}
	}

	logging.Init()
	defer logging.Sync()
	log := logging.S()

	cfg := config.Load()
	log.Infow("starting agent mesh", "environment", cfg.Environment, "port", cfg.Port)

	st := buildStore(cfg)
	defer st.Close()

	costLedger := ledger.New(st)
	circuitBreaker := breaker.NewWithConfig(st, costLedger, breaker.Config{
		BudgetLimitUSD:      cfg.BudgetLimitUSD,
		ResetTimeoutSeconds: cfg.ResetTimeoutSeconds,
		FallbackModel:       cfg.OllamaModel,
	})

	groq := llm.NewGroqClient(cfg.GroqAPIKey, cfg.GroqModel, cfg.GroqRatePerMinute)
	ollama := llm.NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel)
	router := llm.NewRouter(groq, ollama, circuitBreaker, costLedger)
	orch := orchestrator.New(router)

	h := handlers.New(st, costLedger, circuitBreaker, router, orch)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.CORS(cfg.AllowedOrigins))
	engine.Use(middleware.RateLimit(middleware.NewIPRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)))
	engine.Use(middleware.Timeout(20 * time.Minute))
	engine.Use(metrics.GinMiddleware())

	h.RegisterRoutes(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Infow("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatalw("http server failed", "error", err)
	case sig := <-quit:
		log.Infow("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorw("graceful shutdown failed", "error", err)
	}
	log.Infow("server stopped")
}

// buildStore connects to Redis when REDIS_URL is set, otherwise falls back to
// the in-process store so the service can run without infrastructure in
// development.
func buildStore(cfg *config.Config) store.Store {
	log := logging.S()

	if cfg.RedisURL == "" {
		log.Warnw("REDIS_URL not set, using in-memory store; state will not survive restarts")
		return store.NewMemoryStore()
	}

	redisCfg := store.RedisConfigFromEnv()
	st, err := store.NewRedisStore(redisCfg)
	if err != nil {
		if cfg.Environment == "production" {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		log.Warnw("redis unavailable, using in-memory store", "error", err)
		return store.NewMemoryStore()
	}

	log.Infow("connected to redis")
	return st
}
