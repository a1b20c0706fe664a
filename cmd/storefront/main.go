package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/safar/go-storefront/internal/backend"
	"github.com/safar/go-storefront/internal/cart"
	"github.com/safar/go-storefront/internal/checkout"
	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/httpx"
	"github.com/safar/go-storefront/internal/logging"
	"github.com/safar/go-storefront/internal/orders"
	"github.com/safar/go-storefront/internal/session"
	"github.com/safar/go-storefront/internal/storage"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, closeStorage, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("open snapshot storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}
	defer func() {
		if err := closeStorage(); err != nil {
			logger.Warn("close snapshot storage", zap.Error(err))
		}
	}()

	key := cfg.Cart.StorageKey
	if cfg.Cart.ScopeByUser {
		key = cart.StorageKey(key, session.UserIDFromToken(cfg.Backend.Token))
	}

	store := cart.NewStore(ctx, kv, key, logger.Named("cart"), cart.WithWriteTimeout(cfg.Cart.WriteTimeout))
	defer store.Close()

	client := backend.New(cfg.Backend, logger.Named("backend"))
	controller := orders.NewController(client, logger.Named("orders"))

	handler := &httpx.Handler{
		Cart:     store,
		Catalog:  client,
		Orders:   controller,
		Checkout: checkout.NewService(store, client, controller, logger.Named("checkout")),
		Log:      logger.Named("http"),
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpx.NewRouter(handler, logger.Named("http"), cfg.Server.WriteTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("storefront listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("storage", cfg.Storage.Driver),
			zap.String("cart_key", key),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	if err := store.Flush(shutdownCtx); err != nil {
		logger.Warn("flush cart", zap.Error(err))
	}
}
