package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vibelearn/gengate/config"
	"github.com/vibelearn/gengate/internal/auth"
	"github.com/vibelearn/gengate/internal/billing"
	"github.com/vibelearn/gengate/internal/gateway"
	"github.com/vibelearn/gengate/internal/httpapi"
	"github.com/vibelearn/gengate/internal/ledger"
	"github.com/vibelearn/gengate/internal/notify"
	"github.com/vibelearn/gengate/internal/provider/gemini"
	"github.com/vibelearn/gengate/internal/safety"
	"github.com/vibelearn/gengate/internal/seeder"
	"github.com/vibelearn/gengate/internal/telemetry"
	"github.com/vibelearn/gengate/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("gengate", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init auth
	authStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(authStore, rdb)

	// 6. Init credit ledger
	accountStore := ledger.NewPostgresStore(pool)
	creditLedger := ledger.New(accountStore, cfg.StartingBalance, cfg.LowBalanceThreshold)

	// 7. Init usage log
	usageStore := billing.NewPostgresStore(pool)

	// 8. Init rate limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitRPM)

	// 9. Init notifications
	events := notify.NewBroadcaster()

	// 10. Init gateway
	tracer := otel.GetTracerProvider().Tracer("gengate")
	gw := gateway.New(
		gemini.New(cfg.GeminiAPIKey),
		creditLedger,
		gateway.NewModelRouter(cfg.TextModel, cfg.MultimodalModel),
		safety.Default(),
		events,
		usageStore,
		tracer,
		cfg.CostPerCall,
		cfg.ProviderTimeout,
	)

	handler := httpapi.NewHandler(gw, creditLedger, usageStore, limiter, events)

	// 11. Seed test account if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAccount(ctx, authStore, accountStore, cfg.StartingBalance, cfg.LowBalanceThreshold)
	}

	// 12. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"gengate"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/generate", handler.HandleGenerate)
		r.Get("/v1/balance", handler.HandleBalance)
		r.Get("/v1/usage", handler.HandleUsage)
		r.Get("/v1/events", handler.HandleEvents)
	})

	// 13. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Generation gateway starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
