// Package main запускает HTTP-сервер сервиса учёта взносов жителей.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/avolkhin/dues-system/internal/config"
	"github.com/avolkhin/dues-system/internal/delinquency"
	"github.com/avolkhin/dues-system/internal/gateway"
	"github.com/avolkhin/dues-system/internal/handler"
	"github.com/avolkhin/dues-system/internal/identity"
	"github.com/avolkhin/dues-system/internal/middleware"
	"github.com/avolkhin/dues-system/internal/repository"
	"github.com/avolkhin/dues-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	schedule, err := delinquency.ParseSchedule(cfg.PenaltySchedule)
	if err != nil {
		sugar.Fatalw("penalty schedule error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var identityClient *identity.Client
	if cfg.IdentityAddress != "" {
		identityClient = identity.NewClient(cfg.IdentityAddress)
	}

	var gatewayClient *gateway.Client
	if cfg.GatewayAddress != "" {
		gatewayClient = gateway.NewClient(cfg.GatewayAddress)
	}

	calc := delinquency.NewCalculator(schedule, cfg.DelinquencyThresholdDays)

	svc := service.NewService(repo, identityClient, gatewayClient, calc, service.Params{
		Currency:         cfg.Currency,
		ResidentRole:     cfg.ResidentRole,
		DueDay:           cfg.DueDay,
		GraceDays:        cfg.GraceDays,
		SweepInterval:    cfg.SweepInterval,
		OperatorLogin:    cfg.OperatorLogin,
		OperatorPassword: cfg.OperatorPassword,
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового пересчёта просрочек
	g.Go(func() error {
		svc.StartDelinquencySweep(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting dues server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
