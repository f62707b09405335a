package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ambotlabs/ambot/internal/admin"
	"github.com/ambotlabs/ambot/internal/admission"
	"github.com/ambotlabs/ambot/internal/config"
	"github.com/ambotlabs/ambot/internal/metrics"
	"github.com/ambotlabs/ambot/internal/ops"
	"github.com/ambotlabs/ambot/internal/pipeline"
	"github.com/ambotlabs/ambot/internal/queue"
	"github.com/ambotlabs/ambot/internal/ratelimit"
	"github.com/ambotlabs/ambot/internal/reward"
	"github.com/ambotlabs/ambot/internal/storage"
	"github.com/ambotlabs/ambot/internal/telegram"
)

func main() {
	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	// Load config
	cfg := config.Load()

	if cfg.BotToken == "" {
		log.Error("BOT_TOKEN is required")
		os.Exit(1)
	}
	if cfg.AdminTelegramID == 0 {
		log.Warn("ADMIN_TELEGRAM_ID not set, admin commands disabled")
	}

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	// Rate limiter, worker pool, metrics
	limiter := ratelimit.New(cfg.DailyLimit, cfg.CooldownSeconds)
	pool := queue.New(cfg.GlobalConcurrency, 64)
	defer pool.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	// Admin ledger gate
	ledger := admin.New(store, cfg.AdminTelegramID, log)

	// Initialize telegram bot
	tgBot, err := telegram.New(cfg, store, ledger, limiter, log)
	if err != nil {
		log.Error("init telegram bot", "error", err)
		os.Exit(1)
	}
	log.Info("telegram bot initialized")

	// Conversion pipeline delivers through the bot
	pipe := pipeline.New(cfg.YtdlpPath, tgBot, log)

	// Admission controller ties it all together
	ctrl := admission.New(store, limiter, pool, pipe, tgBot, m, log)
	tgBot.SetController(ctrl)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start ops server
	opsServer := ops.NewServer(store, pool, registry, log)
	go func() {
		if err := opsServer.Start(ctx, cfg.OpsPort); err != nil && err != http.ErrServerClosed {
			log.Error("ops server", "error", err)
		}
	}()

	// Start daily rewarder
	rewarder := reward.New(cfg, store, tgBot, log)
	go rewarder.Start(ctx, 10*time.Minute)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	// Start bot polling
	log.Info("starting bot polling...")
	tgBot.Start(ctx)
}
