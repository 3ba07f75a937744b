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

	"go.uber.org/zap"

	"stationpos/backend/internal/cache"
	"stationpos/backend/internal/config"
	"stationpos/backend/internal/domain"
	"stationpos/backend/internal/events"
	"stationpos/backend/internal/httpapi"
	"stationpos/backend/internal/logger"
	"stationpos/backend/internal/loyalty"
	"stationpos/backend/internal/service"
	"stationpos/backend/internal/store"
	"stationpos/backend/internal/store/memory"
	pgstore "stationpos/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		pg.SetRetryLimit(cfg.SerializationRetryLimit)
		if err := pg.Migrate(log); err != nil {
			log.Fatal("schema migration failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		if err := validateSeedPasswords(cfg); err != nil {
			log.Fatal("in-memory mode needs seed accounts", zap.Error(err))
		}
		mem, err := memory.NewSeeded(cfg.DefaultOrganizationID, cfg.SeedAdminPassword, cfg.SeedCashierPassword)
		if err != nil {
			log.Fatal("seed in-memory store", zap.Error(err))
		}
		repo = mem
		log.Info("repository: in-memory", zap.String("organization_id", cfg.DefaultOrganizationID))
	}

	programCache := cache.ProgramCache(cache.NoopProgramCache{})
	publisher := events.Publisher(events.NoopPublisher{})
	if cfg.RedisAddr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn("redis unavailable, using noop cache and events", zap.Error(err))
		} else {
			programCache = cache.NewRedisProgramCache(client)
			publisher = events.NewRedisPublisher(client, cfg.EventsChannel)
			closers = append(closers, client.Close)
			log.Info("cache: redis", zap.String("events_channel", cfg.EventsChannel))
		}
	} else {
		log.Info("cache: noop")
	}

	programs := loyalty.NewPrograms(repo, programCache, time.Duration(cfg.ProgramCacheTTLSeconds)*time.Second, log)
	svc := service.New(repo, programs, publisher, log)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, log)
	if cfg.DatabaseURL != "" {
		if err := seedAccounts(ctx, auth, cfg); err != nil {
			log.Fatal("seed accounts", zap.Error(err))
		}
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("station POS backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "" {
		return fmt.Errorf("ALLOWED_ORIGIN must be set")
	}
	return nil
}

func validateSeedPasswords(cfg config.Config) error {
	if len(cfg.SeedAdminPassword) < 8 || len(cfg.SeedCashierPassword) < 8 {
		return fmt.Errorf("SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD must be at least 8 characters")
	}
	if cfg.SeedAdminPassword == cfg.SeedCashierPassword {
		return fmt.Errorf("seed passwords must differ")
	}
	return nil
}

// seedAccounts bootstraps the first admin and cashier of the default
// organization. Accounts that already exist are left untouched.
func seedAccounts(ctx context.Context, auth *httpapi.AuthManager, cfg config.Config) error {
	if cfg.SeedAdminPassword == "" && cfg.SeedCashierPassword == "" {
		return nil
	}
	if err := validateSeedPasswords(cfg); err != nil {
		return err
	}
	if err := auth.EnsureUser(ctx, "admin", cfg.SeedAdminPassword, domain.RoleAdmin, cfg.DefaultOrganizationID); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	if err := auth.EnsureUser(ctx, "cashier", cfg.SeedCashierPassword, domain.RoleCashier, cfg.DefaultOrganizationID); err != nil {
		return fmt.Errorf("cashier: %w", err)
	}
	return nil
}
