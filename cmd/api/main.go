package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stitchline/storefront-backend/api/routes"
	"github.com/stitchline/storefront-backend/internal/catalog"
	"github.com/stitchline/storefront-backend/internal/checkout"
	"github.com/stitchline/storefront-backend/internal/inventory"
	"github.com/stitchline/storefront-backend/internal/orders"
	"github.com/stitchline/storefront-backend/internal/payments"
	"github.com/stitchline/storefront-backend/internal/pricing"
	"github.com/stitchline/storefront-backend/internal/reconciliation"
	"github.com/stitchline/storefront-backend/pkg/config"
	"github.com/stitchline/storefront-backend/pkg/db"
	"github.com/stitchline/storefront-backend/pkg/enums"
	"github.com/stitchline/storefront-backend/pkg/instance"
	"github.com/stitchline/storefront-backend/pkg/logger"
	"github.com/stitchline/storefront-backend/pkg/metrics"
	"github.com/stitchline/storefront-backend/pkg/migrate"
	"github.com/stitchline/storefront-backend/pkg/outbox"
	"github.com/stitchline/storefront-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()
	if poolStats, err := dbClient.StatsCollector("storefront"); err == nil {
		prometheus.MustRegister(poolStats)
	}

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	currency, err := enums.ParseCurrency(cfg.Pricing.Currency)
	requireResource(logg, "currency", err)

	engine, err := pricing.NewEngine(pricing.Config{
		Currency:                   currency,
		ShippingFees:               cfg.Pricing.ShippingFees,
		FreeShippingThresholdMinor: cfg.Pricing.FreeShippingThreshold,
		TaxRatePercent:             cfg.Pricing.TaxRate(),
		TaxIncludesShipping:        cfg.Pricing.TaxIncludesShipping,
	})
	requireResource(logg, "pricing engine", err)

	catalogService, err := catalog.NewService(catalog.NewRepository(dbClient.DB()))
	requireResource(logg, "catalog service", err)

	ledger, err := inventory.NewLedger(dbClient.DB())
	requireResource(logg, "inventory ledger", err)

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repository: orders.NewRepository(dbClient.DB()),
		TxRunner:   dbClient,
		Outbox:     outboxService,
		Inventory:  orders.NewInventoryLedger(ledger),
		Logger:     logg,
	})
	requireResource(logg, "orders service", err)

	gateways, err := payments.NewRegistryFromConfig(context.Background(), cfg, logg)
	requireResource(logg, "payment gateways", err)

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		TxRunner:  dbClient,
		Catalog:   catalogService,
		Pricing:   engine,
		Inventory: checkout.NewLedgerReserver(ledger),
		Orders:    ordersService,
		Gateways:  gateways,
		Checkout:  cfg.Checkout,
		Payments:  cfg.Payments,
		PublicURL: cfg.App.PublicBaseURL,
		Logger:    logg,
		Metrics:   metrics.NewCheckoutMetrics(prometheus.DefaultRegisterer),
	})
	requireResource(logg, "checkout service", err)

	reconciler, err := reconciliation.NewService(reconciliation.ServiceParams{
		TxRunner:   dbClient,
		Repository: reconciliation.NewRepository(dbClient.DB()),
		Orders:     ordersService,
		Gateways:   gateways,
		Outbox:     outboxService,
		Logger:     logg,
		Metrics:    metrics.NewReconciliationMetrics(prometheus.DefaultRegisterer),
	})
	requireResource(logg, "reconciliation service", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
		"provider": cfg.Payments.ProviderName(),
	})

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			checkoutService,
			ordersService,
			reconciler,
			outbox.NewDLQRepository(dbClient.DB()),
			promhttp.Handler(),
		),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}

func requireResource(logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to create "+name, err)
	os.Exit(1)
}
