// Taleweaver - narrative language-practice server
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
	"github.com/taleweaver/taleweaver/internal/api"
	"github.com/taleweaver/taleweaver/internal/config"
	"github.com/taleweaver/taleweaver/internal/domain"
	"github.com/taleweaver/taleweaver/internal/engine"
	"github.com/taleweaver/taleweaver/internal/identity"
	"github.com/taleweaver/taleweaver/internal/middleware"
	"github.com/taleweaver/taleweaver/internal/prompt"
	"github.com/taleweaver/taleweaver/internal/provider"
	"github.com/taleweaver/taleweaver/internal/store"
	"github.com/taleweaver/taleweaver/internal/worker"
	"github.com/taleweaver/taleweaver/internal/ws"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	prompts, err := prompt.Load()
	if err != nil {
		slog.Error("Failed to load prompt templates", "error", err)
		os.Exit(1)
	}
	slog.Info("Prompt templates loaded", "version", prompts.Version())

	if err := seedScenarios(context.Background(), repo); err != nil {
		slog.Error("Failed to seed scenario catalog", "error", err)
		os.Exit(1)
	}

	gen, err := provider.NewOpenAI(provider.Config{
		BaseURL:     cfg.Provider.BaseURL,
		APIKey:      cfg.Provider.APIKey,
		Model:       cfg.Provider.Model,
		MaxAttempts: cfg.Provider.MaxAttempts,
		Channels: map[domain.Channel]provider.ChannelParams{
			domain.ChannelMain: {
				Timeout:     cfg.Provider.MainTimeout,
				MaxTokens:   500,
				Temperature: 0.8,
			},
			domain.ChannelHelper: {
				Timeout:     cfg.Provider.HelperTimeout,
				MaxTokens:   300,
				Temperature: 0.3,
			},
		},
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize provider client", "error", err)
		os.Exit(1)
	}
	slog.Info("Provider client initialized", "model", cfg.Provider.Model)

	// Initialize services.
	hub := ws.NewHub()
	eng := engine.New(repo, gen, prompts, engine.Config{
		HistoryWindow: cfg.HistoryWindow,
		HardCeiling:   cfg.HardCeiling,
	}, hub, logger)

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, eng)
	wsHandler := ws.NewHandler(repo, hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	corsOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		corsOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(corsOrigins))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint for live session events.
	r.Get("/ws/session", wsHandler.ServeHTTP)

	// Create server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout; exchanges wait on the provider
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker.StartStaleSweeper(ctx, repo, eng, cfg.StaleSessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// seedScenarios loads the embedded scenario catalog into the store.
func seedScenarios(ctx context.Context, repo store.Repository) error {
	scenarios, err := prompt.Scenarios()
	if err != nil {
		return err
	}
	for _, sc := range scenarios {
		if err := repo.UpsertScenario(ctx, sc); err != nil {
			return err
		}
	}
	slog.Info("Scenario catalog seeded", "count", len(scenarios))
	return nil
}
