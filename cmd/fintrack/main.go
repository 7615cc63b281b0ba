package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"fintrack/internal/backend"
	"fintrack/internal/cache"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	apphttp "fintrack/internal/http"
	"fintrack/internal/log"
	"fintrack/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig(log.ComponentApp, (*config.Config).Validate)

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("Invalid timezone", log.FieldError, err)
		os.Exit(1)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	be, err := backend.NewFactory(logger.Logger).CreateBackend(initCtx, backendCfg)
	cancelInit()
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	// A nil *amqp.Client must not become a non-nil interface.
	var events services.EventPublisher
	if be.Events != nil {
		events = be.Events
	}

	ledger := services.NewLedgerService(be.Store, events, loc)
	accounts := services.NewAccountService(be.Store, events)
	sessions := cache.NewSessionStore(cfg.SessionMaxEntries, cfg.SessionTTL)

	srv, err := apphttp.NewServer(":"+cfg.Port, apphttp.Dependencies{
		Ledger:   ledger,
		Accounts: accounts,
		Sessions: sessions,
		Logger:   logger,
		Options: apphttp.Options{
			RateLimitPerMinute: cfg.RateLimitPerMinute,
			Cookie: apphttp.CookieOptions{
				Name:   cfg.SessionCookieName,
				Secure: cfg.SessionCookieSecure,
				TTL:    cfg.SessionTTL,
			},
			TrustedProxies: cfg.TrustedProxies,
		},
	})
	if err != nil {
		logger.Error("Failed to configure HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	caches := cache.NewManager(logger.WithComponent(log.ComponentCache).Logger)
	caches.Register("sessions", sessions.Cleaner())
	caches.StartCleanup(5 * time.Minute)

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		caches.Stop()
		if err := be.Cleanup(); err != nil {
			logger.Warn("Backend cleanup failed", log.FieldError, err)
		}
	})

	go func() {
		logger.Info("Starting fintrack server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"events", be.Events != nil,
			"timezone", loc.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
