package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian-pos/meridian/internal/app"
	"github.com/meridian-pos/meridian/internal/catalog"
	"github.com/meridian-pos/meridian/internal/observability"
	"github.com/meridian-pos/meridian/internal/platform/cache"
	"github.com/meridian-pos/meridian/internal/platform/db"
	"github.com/meridian-pos/meridian/internal/purchasing"
	"github.com/meridian-pos/meridian/internal/sales"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stock"
	"github.com/meridian-pos/meridian/internal/stocktake"
	"github.com/meridian-pos/meridian/internal/transfers"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, level cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	stockRepo := stock.NewRepository(pool, cfg.StockLockTimeout)
	levelCache := stock.NewLevelCache(redisClient, cfg.StockCacheTTL)
	ledger := stock.NewLedger(stockRepo, levelCache, metrics, logger, stock.LedgerConfig{
		AllowNegativeAdjustment: cfg.StockAllowNegativeAdjustment,
	})
	stockHandler := stock.NewHandler(logger, ledger)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	salesRepo := sales.NewRepository(pool, cfg.StockLockTimeout)
	salesService := sales.NewService(salesRepo, ledger, catalogService, auditLogger, logger)
	salesHandler := sales.NewHandler(logger, salesService)

	purchasingRepo := purchasing.NewRepository(pool, cfg.StockLockTimeout)
	purchasingService := purchasing.NewService(purchasingRepo, ledger, catalogService, auditLogger, idempotencyStore, logger)
	purchasingHandler := purchasing.NewHandler(logger, purchasingService)

	transfersRepo := transfers.NewRepository(pool, cfg.StockLockTimeout)
	transfersService := transfers.NewService(transfersRepo, ledger, catalogService, auditLogger, logger)
	transfersHandler := transfers.NewHandler(logger, transfersService)

	stocktakeRepo := stocktake.NewRepository(pool, cfg.StockLockTimeout)
	stocktakeService := stocktake.NewService(stocktakeRepo, ledger, catalogService, auditLogger, logger)
	stocktakeHandler := stocktake.NewHandler(logger, stocktakeService)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		CatalogHandler:    catalogHandler,
		StockHandler:      stockHandler,
		SalesHandler:      salesHandler,
		PurchasingHandler: purchasingHandler,
		TransfersHandler:  transfersHandler,
		StocktakeHandler:  stocktakeHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
