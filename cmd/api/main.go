package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wenwu/saas-platform/panel-service/internal/client"
	"github.com/wenwu/saas-platform/panel-service/internal/config"
	"github.com/wenwu/saas-platform/panel-service/internal/db"
	"github.com/wenwu/saas-platform/panel-service/internal/http"
	"github.com/wenwu/saas-platform/panel-service/internal/repository"
	"github.com/wenwu/saas-platform/panel-service/internal/service"
	"github.com/wenwu/saas-platform/panel-service/internal/settings"
	"github.com/wenwu/saas-platform/panel-service/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	makeAdmin := flag.String("make-admin", "", "grant admin rights to this user id or username and exit")
	flag.Parse()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}

	if err := run(*configPath, *makeAdmin); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run(configPath, makeAdmin string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	// Initialize database
	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close()

	// Initialize repositories
	orderRepo := repository.NewOrderRepository(database.DB)
	planRepo := repository.NewPlanRepository(database.DB)
	userRepo := repository.NewUserRepository(database.DB)
	logRepo := repository.NewLogRepository(database.DB)

	tokens := service.NewTokenManager(cfg.SigningKey(), cfg.JWT.Expire, cfg.JWT.Issuer)
	accounts := service.NewAccountService(userRepo, tokens)

	if makeAdmin != "" {
		if err := accounts.MakeAdmin(ctx, makeAdmin); err != nil {
			return fmt.Errorf("make admin %q: %w", makeAdmin, err)
		}
		logger.Info("user promoted to admin", "user", makeAdmin)
		return nil
	}

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	tel, err := telemetry.Setup(ctx, cfg.Otel, cfg.App)
	if err != nil {
		logger.Warn("failed to initialize telemetry", "error", err)
	}

	// Initialize remote panel client and settings
	store := settings.NewStore(cfg.Settings.Path)
	panel := client.NewPanelClient(cfg.Provision.DiscoveryTimeout, cfg.Provision.MutationTimeout)
	if _, ok := store.Get().Integration(); !ok {
		logger.Warn("remote panel is not configured; orders will be recorded locally only")
	}

	// Initialize services
	provisionService := service.NewProvisionService(
		cfg.Provision,
		orderRepo,
		planRepo,
		userRepo,
		logRepo,
		panel,
		store,
		service.NewKeyedMutex(),
	)

	if _, err := provisionService.RecoverInterrupted(ctx); err != nil {
		logger.Error("order recovery failed", "error", err)
	}

	sweeper := service.NewExpirySweeper(provisionService, cfg.Sweep.Interval)
	sweepDone := make(chan struct{})
	if cfg.Sweep.Enabled {
		go func() {
			defer close(sweepDone)
			sweeper.Run(ctx)
		}()
	} else {
		close(sweepDone)
	}

	server := http.NewServer(cfg, database, http.Services{
		Accounts:  accounts,
		Plans:     service.NewPlanService(planRepo),
		Provision: provisionService,
		Panel:     service.NewPanelService(store, panel),
		Sweeper:   sweeper,
	})

	httpServer := &nethttp.Server{
		Addr:         cfg.Server.Address(),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		stop()
		<-sweepDone
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	<-sweepDone

	if tel != nil {
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}

	logger.Info("application stopped")
	return nil
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
