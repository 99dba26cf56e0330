package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"solemate/backend/internal/cache"
	"solemate/backend/internal/classify"
	"solemate/backend/internal/config"
	"solemate/backend/internal/httpapi"
	"solemate/backend/internal/service"
	"solemate/backend/internal/store"
	"solemate/backend/internal/store/memory"
	pgstore "solemate/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		logrus.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	var persistStatus func() error
	closers := make([]func() error, 0, 2)

	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logrus.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logrus.Info("repository: postgres")

	case cfg.SnapshotPath != "":
		persister, err := memory.NewFilePersister(cfg.SnapshotPath, cfg.SnapshotMaxBytes)
		if err != nil {
			logrus.Fatalf("snapshot directory unusable: %v", err)
		}
		mem := memory.NewPersistent(ctx, persister)
		repo = mem
		persistStatus = mem.PersistStatus
		logrus.Infof("repository: in-memory with snapshots at %s", cfg.SnapshotPath)

	default:
		repo = memory.NewSeeded()
		logrus.Info("repository: in-memory (seeded, volatile)")
	}

	dashCache := cache.DashboardCache(cache.NoopDashboardCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisDashboardCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logrus.Warnf("redis unavailable (%v), using noop cache", err)
		} else {
			dashCache = redisCache
			closers = append(closers, redisCache.Close)
			logrus.Info("cache: redis")
		}
	} else {
		logrus.Info("cache: noop")
	}

	var classifier classify.Classifier = classify.Noop{}
	if cfg.ClassifierURL != "" {
		classifier = classify.NewHTTPClassifier(cfg.ClassifierURL)
		logrus.Infof("classifier: %s", cfg.ClassifierURL)
	}

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		logrus.Warnf("unknown TIME_ZONE %q, using local time", cfg.TimeZone)
		loc = time.Local
	}

	svc := service.New(repo, dashCache, classifier, loc, time.Duration(cfg.DashboardTTLSeconds)*time.Second)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.OwnerPIN, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, persistStatus)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logrus.Infof("inventory backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Warnf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logrus.Warnf("close error: %v", err)
		}
	}

	logrus.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.OwnerPIN) < 6 {
		return fmt.Errorf("OWNER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.OwnerPIN); err != nil {
		return fmt.Errorf("OWNER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit, sequential
// (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
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
