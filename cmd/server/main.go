package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"parcelchat/internal/blob"
	"parcelchat/internal/config"
	"parcelchat/internal/domain"
	"parcelchat/internal/httpserver"
	"parcelchat/internal/queue"
	"parcelchat/internal/security"
	"parcelchat/internal/service"
	"parcelchat/internal/store/postgres"
	"parcelchat/internal/store/rediscache"
	"parcelchat/internal/store/sqlite"
	"parcelchat/internal/ws"
)

const jobQueueName = "chat"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Durable store
	var (
		db            *sql.DB
		users         domain.UserRepository
		conversations domain.ConversationRepository
		messages      domain.MessageRepository
		notifications domain.NotificationRepository
	)
	switch cfg.DatabaseDriver {
	case "sqlite":
		db, err = sqlite.Open(cfg.SQLitePath)
		if err != nil {
			logger.Fatal("open sqlite failed", zap.Error(err))
		}
		if err := sqlite.Migrate(db); err != nil {
			logger.Fatal("migrate sqlite failed", zap.Error(err))
		}
		users = sqlite.NewUserRepo(db)
		conversations = sqlite.NewConversationRepo(db)
		messages = sqlite.NewMessageRepo(db)
		notifications = sqlite.NewNotificationRepo(db)
	default:
		db, err = postgres.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("open postgres failed", zap.Error(err))
		}
		if err := postgres.Migrate(db); err != nil {
			logger.Fatal("migrate postgres failed", zap.Error(err))
		}
		users = postgres.NewUserRepo(db)
		conversations = postgres.NewConversationRepo(db)
		messages = postgres.NewMessageRepo(db)
		notifications = postgres.NewNotificationRepo(db)
	}
	defer db.Close()

	// Fast tier
	rdb, err := rediscache.Open(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal("connect redis failed", zap.Error(err))
	}
	defer rdb.Close()
	cache := rediscache.New(rdb)

	// Background jobs
	jobs := queue.New(rdb, jobQueueName)
	worker := queue.NewWorker(jobs, logger)
	migrator := service.NewMigrator(cache, cache, conversations, messages, notifications, logger)
	migrator.Register(worker)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go worker.Run(workerCtx)

	// Services
	tokens := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	profiles := service.NewProfileResolver(cache, users)
	hub := ws.NewHub()
	convSvc := service.NewConversationService(conversations, messages, cache, profiles, jobs, logger, cfg.JobMaxAttempts)
	msgSvc := service.NewMessageService(
		cache, cache, messages, profiles, hub, jobs, logger,
		cfg.FastTierThreshold, cfg.DirectoryFlushWindow, cfg.PreviewTTL, cfg.JobMaxAttempts,
	)
	gateway := ws.NewGateway(
		hub, tokens, users, cache, cache, convSvc, msgSvc, logger,
		cfg.KeepAliveInterval, cfg.LocationTTL, cfg.ConversationPageSize,
	)

	storage, err := blob.NewLocalStorage(cfg.UploadDir)
	if err != nil {
		logger.Fatal("init upload storage failed", zap.Error(err))
	}

	// Build HTTP router
	router := httpserver.NewRouter(cfg, logger, tokens, users, convSvc, msgSvc, gateway, storage)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTPAddr()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopWorker()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
