// Package main запускает HTTP-сервер сервиса barpay.
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

	"github.com/mmeshcher/barpay-system/internal/config"
	"github.com/mmeshcher/barpay-system/internal/gateway"
	"github.com/mmeshcher/barpay-system/internal/handler"
	"github.com/mmeshcher/barpay-system/internal/order"
	"github.com/mmeshcher/barpay-system/internal/redemption"
	"github.com/mmeshcher/barpay-system/internal/storage"
	"github.com/mmeshcher/barpay-system/internal/user"
	"github.com/mmeshcher/barpay-system/internal/wallet"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var store storage.Store
	if cfg.DatabaseURI != "" {
		store, err = storage.NewPostgresStore(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
	} else {
		sugar.Infow("no database configured, using in-memory store")
		store = storage.NewMemoryStore()
	}
	defer store.Close()

	var gatewayClient *gateway.Client
	if cfg.GatewayAddress != "" {
		gatewayClient = gateway.NewClient(cfg.GatewayAddress)
	}

	walletSvc := wallet.NewService(store)
	userSvc := user.NewService(store)
	orderSvc := order.NewService(store, walletSvc, gatewayClient)
	validator := redemption.NewValidator(store)

	h := handler.NewHandler(userSvc, walletSvc, orderSvc, validator, logger)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового опроса платёжного шлюза
	g.Go(func() error {
		orderSvc.StartPaymentUpdates(ctx, logger)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting barpay server", "addr", cfg.RunAddress)
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
