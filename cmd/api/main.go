package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"retroloop/api/internal/app"
	"retroloop/api/internal/config"
	"retroloop/api/internal/realtime"
	"retroloop/api/internal/session"
	"retroloop/api/internal/store"
	"retroloop/api/internal/tracker"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	ctx := context.Background()

	var dataStore store.Store
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := store.Migrate(ctx, db); err != nil {
			logger.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		logger.Info("using postgres board store")
		dataStore = store.NewPostgres(db)
	} else {
		logger.Info("using in-memory board store; boards do not survive restarts")
		dataStore = store.NewMemory()
	}

	hub := realtime.NewHub(logger)

	var sessions session.Store
	var backplane *realtime.Backplane
	var backplaneClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		sessions = redisStore

		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		backplaneClient = redis.NewClient(opts)
		defer backplaneClient.Close()
		backplane = realtime.NewBackplane(backplaneClient, cfg.EventsChannel, logger)
		logger.Info("using redis sessions and event backplane", "channel", cfg.EventsChannel)
	} else {
		sessions = session.NewMemoryStore()
		logger.Info("using in-memory sessions; running single-process")
	}

	trackerSvc := tracker.New(tracker.Config{
		BaseURL:    cfg.JiraBaseURL,
		ProjectKey: cfg.JiraProjectKey,
		EpicLink:   cfg.JiraEpicLink,
		Key:        cfg.JiraKey,
		Timeout:    cfg.JiraTimeout,
		ClearAfter: cfg.TicketClearWait,
	}, logger)
	defer trackerSvc.Close()
	if trackerSvc.Enabled() {
		logger.Info("jira tickets enabled", "project", cfg.JiraProjectKey)
	}

	service := app.New(cfg, dataStore, sessions, hub, backplane, trackerSvc, logger)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	if backplane != nil {
		go backplane.Run(runCtx, hub.Broadcast)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("retroloop api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancelRun()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	hub.Close()
}
