package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mytireplan/tire-plan-sub001/internal/cache"
	"github.com/mytireplan/tire-plan-sub001/internal/config"
	"github.com/mytireplan/tire-plan-sub001/internal/httpapi"
	applog "github.com/mytireplan/tire-plan-sub001/internal/logger"
	"github.com/mytireplan/tire-plan-sub001/internal/service"
	"github.com/mytireplan/tire-plan-sub001/internal/store"
	"github.com/mytireplan/tire-plan-sub001/internal/store/memory"
	pgstore "github.com/mytireplan/tire-plan-sub001/internal/store/postgres"
	"github.com/mytireplan/tire-plan-sub001/internal/store/sqlite"
	"github.com/mytireplan/tire-plan-sub001/internal/writeback"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	startCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 3)

	docs, err := openStore(startCtx, runCtx, cfg, logger)
	if err != nil {
		logger.Fatal("document store unavailable", zap.Error(err))
	}
	closers = append(closers, docs.Close)

	var (
		queue    writeback.Queue        = writeback.NewMemoryQueue()
		statuses cache.WriteStatusCache = cache.NewMemoryWriteStatusCache()
	)
	if cfg.RedisAddr != "" {
		rdb := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisStatuses := cache.NewRedisWriteStatusCache(rdb)
		if err := redisStatuses.Ping(startCtx); err != nil {
			logger.Warn("redis unavailable, write queue kept in memory", zap.Error(err))
			_ = rdb.Close()
		} else {
			queue = writeback.NewRedisQueue(rdb, "writes:intents:"+cfg.TerminalID)
			statuses = redisStatuses
			closers = append(closers, redisStatuses.Close)
			logger.Info("write queue: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logger.Info("write queue: memory")
	}

	writerCfg := writeback.DefaultConfig()
	writerCfg.Workers = cfg.WritebackWorkers
	writerCfg.MaxAttempts = cfg.WritebackMaxAttempts
	writerCfg.StatusTTL = time.Duration(cfg.WriteStatusTTLSeconds) * time.Second
	writer := writeback.NewWriter(queue, docs, statuses, writerCfg, logger)

	svc := service.New(docs, writer, cfg.OwnerID, logger)
	if err := svc.Start(startCtx); err != nil {
		logger.Fatal("initial sync failed", zap.Error(err))
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writer.Run(runCtx)
	}()

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("tire-plan terminal listening", zap.String("addr", cfg.Address()), zap.String("owner_id", cfg.OwnerID))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	svc.Stop()
	stop()
	<-writerDone
	// commit what is still queued before the store goes away
	if err := writer.Drain(shutdownCtx); err != nil {
		logger.Warn("pending writes left in queue", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.LogFormat == "" {
		return applog.NewForEnvironment(cfg.AppEnv, cfg.LogLevel, cfg.TerminalID)
	}
	logCfg := applog.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Format = cfg.LogFormat
	return applog.New(logCfg, cfg.TerminalID)
}

// openStore picks postgres, then sqlite, then the seeded in-memory store.
// The postgres listener runs on runCtx so it outlives startup.
func openStore(startCtx, runCtx context.Context, cfg config.Config, logger *zap.Logger) (store.DocumentStore, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		go func() {
			if err := pg.Listen(runCtx, cfg.DatabaseURL); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("document listener stopped", zap.Error(err))
			}
		}()
		logger.Info("document store: postgres")
		return pg, nil
	case cfg.SQLitePath != "":
		db, err := sqlite.Open(startCtx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		logger.Info("document store: sqlite", zap.String("path", cfg.SQLitePath))
		return db, nil
	default:
		logger.Info("document store: in-memory")
		return memory.NewSeeded(logger, cfg.OwnerID), nil
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects repeated-digit, sequential and well-known PINs.
func validatePINStrength(pin string) error {
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return fmt.Errorf("PIN must contain digits only")
		}
	}
	weak := map[string]bool{
		"121212": true, "112233": true, "123123": true, "696969": true, "101010": true,
	}
	if weak[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	repeated := true
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			repeated = false
		}
		switch int(pin[i]) - int(pin[i-1]) {
		case 1:
			descending = false
		case -1:
			ascending = false
		default:
			ascending, descending = false, false
		}
	}
	if repeated {
		return fmt.Errorf("repeated-digit PIN not allowed")
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
