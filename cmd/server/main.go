package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"bodega/backend/internal/backup"
	"bodega/backend/internal/cache"
	"bodega/backend/internal/checkout"
	"bodega/backend/internal/config"
	"bodega/backend/internal/httpapi"
	"bodega/backend/internal/logging"
	"bodega/backend/internal/metrics"
	"bodega/backend/internal/pos"
	"bodega/backend/internal/service"
	"bodega/backend/internal/settings"
	"bodega/backend/internal/store"
	"bodega/backend/internal/store/memory"
	"bodega/backend/internal/store/sqlstore"
	"bodega/backend/internal/worker"
)

func main() {
	cfg := config.Load()
	log, logCloser := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	defer logCloser.Close()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	if cfg.ManagerPIN == "" {
		log.Warn("MANAGER_PIN is not set; backup restore is disabled")
	}
	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 6)

	var (
		repo store.Repository
		db   backup.Database
	)
	switch cfg.DBDriver {
	case config.DriverMemory:
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	case config.DriverPostgres:
		pg, err := sqlstore.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DB_DRIVER is postgres; refusing to start", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	default:
		lite, err := sqlstore.OpenSQLite(ctx, cfg.DatabasePath)
		if err != nil {
			log.Fatalf("open sqlite %s: %v", cfg.DatabasePath, err)
		}
		repo, db = lite, lite
		closers = append(closers, lite.Close)
		log.WithField("path", lite.Path()).Info("repository: sqlite")
	}

	reportCache := cache.ReportCache(cache.NoopReportCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis unavailable, using noop report cache")
		} else {
			reportCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("report cache: redis")
		}
	}

	prefs, err := settings.Open(cfg.SettingsPath)
	if err != nil {
		log.Fatalf("open settings %s: %v", cfg.SettingsPath, err)
	}
	closers = append(closers, prefs.Close)

	var backups service.BackupManager
	if db != nil {
		manager := backup.NewManager(db, backup.Options{Dir: cfg.BackupDir, Retain: cfg.BackupRetain, Logger: log})
		backups = manager
		if cfg.BackupSchedule != "" {
			scheduler, err := backup.NewScheduler(manager, cfg.BackupSchedule, log)
			if err != nil {
				log.Fatalf("invalid BACKUP_SCHEDULE: %v", err)
			}
			scheduler.Start()
			closers = append(closers, scheduler.Close)
			log.WithField("next", scheduler.Next()).Info("backup schedule armed")
		}
	} else {
		log.Info("backups disabled for this driver")
	}

	pool, err := worker.NewPool(cfg.WorkerPoolSize)
	if err != nil {
		log.Fatalf("worker pool: %v", err)
	}
	closers = append(closers, pool.Close)

	m := metrics.New()
	svc := service.New(repo, service.Dependencies{
		Cache:          reportCache,
		ReportCacheTTL: time.Duration(cfg.ReportCacheTTLSeconds) * time.Second,
		Pool:           pool,
		Settings:       prefs,
		Backups:        backups,
		Metrics:        m,
		Logger:         log,
		Checkout: checkout.Options{
			AllowNegativeStock: cfg.AllowNegativeStock,
			MaxTries:           uint(cfg.CommitMaxTries),
		},
		LowStockThreshold: &cfg.LowStockThreshold,
		ExpiryWindowDays:  cfg.ExpiryWindowDays,
	})

	api, err := httpapi.New(svc, pos.NewSession(svc, svc, pool), httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		ManagerPIN:    cfg.ManagerPIN,
		Metrics:       m,
		Logger:        log,
	})
	if err != nil {
		log.Fatalf("http api: %v", err)
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No write deadline: SSE feeds stay open for as long as the client.
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Infof("bodega backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}

	// Close in reverse so the scheduler and pool stop before the database.
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			log.WithError(err).Warn("close error")
		}
	}

	log.Info("server stopped")
}

// validateSecurityConfig only checks the PIN when one is set. Without it the
// restore route answers 403.
func validateSecurityConfig(cfg config.Config) error {
	if cfg.ManagerPIN == "" {
		return nil
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"121212": true, "112233": true, "123123": true, "101010": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
