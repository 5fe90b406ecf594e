// Package main запускает локальный сервис клиента заказов LocalHub.
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

	"github.com/mmeshcher/localhub-client/internal/cart"
	"github.com/mmeshcher/localhub-client/internal/config"
	"github.com/mmeshcher/localhub-client/internal/handler"
	"github.com/mmeshcher/localhub-client/internal/orderlist"
	"github.com/mmeshcher/localhub-client/internal/placement"
	"github.com/mmeshcher/localhub-client/internal/pricing"
	"github.com/mmeshcher/localhub-client/internal/repository"
	"github.com/mmeshcher/localhub-client/internal/tracking"
	"github.com/mmeshcher/localhub-client/internal/upstream"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	clientOpts := upstream.DefaultOptions()
	clientOpts.Timeout = cfg.UpstreamTimeout
	clientOpts.RetryMax = cfg.UpstreamRetryMax
	api := upstream.NewClient(cfg.UpstreamAddress, clientOpts, logger)

	var backend cart.Backend = api
	if cfg.RedisAddress != "" {
		rdb := cart.NewRedisClient(cfg.RedisAddress, "", 0)
		defer rdb.Close()
		backend = cart.NewRedisBackend(rdb, cfg.CartTTL)
		sugar.Infow("cart storage: redis", "addr", cfg.RedisAddress)
	}

	priceOpts := pricing.DefaultOptions()
	priceOpts.AgentFee = cfg.AgentDeliveryFee
	carts := cart.NewStore(backend, api, priceOpts, logger)

	var journal placement.Journal
	if cfg.DatabaseURI != "" {
		pj, err := repository.NewPostgresJournal(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		defer pj.Close()
		journal = pj
	}

	tracker := tracking.NewTracker(api, tracking.Intervals{
		Detail: cfg.DetailPollInterval,
		List:   cfg.ListPollInterval,
	}, logger)

	orders := orderlist.NewSynchronizer(api, cfg.ListPollInterval, logger)
	placer := placement.NewService(carts, api, journal, tracker, logger)

	h := handler.NewHandler(carts, placer, tracker, orders, logger, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновое обновление списка заказов
	g.Go(func() error {
		return orders.Run(ctx)
	})

	g.Go(func() error {
		sugar.Infow("starting localhub client", "addr", cfg.RunAddress, "upstream", cfg.UpstreamAddress)
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
		tracker.Close()
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("application terminated with error", "error", err)
	}
}
