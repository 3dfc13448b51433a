package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/application/checkout"
	appinventory "github.com/Zhima-Mochi/minishop-checkout/internal/application/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/application/ledger"
	apppayment "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/config"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/gateway"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/kafka"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"
	infraobs "github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/postgres"
	rediscache "github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/redis"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/minishop-checkout/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/minishop-checkout/internal/presentation/worker"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// relayedEvents are forwarded to Kafka when brokers are configured.
var relayedEvents = []string{
	domorder.OrderCreatedEvent{}.EventName(),
	domorder.OrderStatusChangedEvent{}.EventName(),
	domorder.OrderCancelledEvent{}.EventName(),
	domorder.OrderReturnedEvent{}.EventName(),
	dompay.IntentCreatedEvent{}.EventName(),
	"payment." + string(dompay.StatusCompleted),
	"payment." + string(dompay.StatusFailed),
	"payment." + string(dompay.StatusRefunded),
	dompay.StrandedEvent{}.EventName(),
	dominv.StockChangedEvent{}.EventName(),
	dominv.LowStockEvent{}.EventName(),
}

type stores struct {
	orders       domorder.Repository
	inventory    dominv.Repository
	transactions dompay.Repository
	seed         func(ctx context.Context, products ...*dominv.Product) error
	close        func()
}

func main() {
	cfg := config.MustLoad()

	baseLogger := logging.MustNewLogger(logging.Options{
		Service: cfg.App.Name,
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		File:    cfg.App.LogFile,
	})
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	logger := zaplogger.New(baseLogger)
	systemLogger := zaplogger.New(logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := oteltrace.Setup(ctx, oteltrace.Options{
		ServiceName: cfg.App.Name,
		Env:         cfg.App.Env,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		systemLogger.Error("tracing_setup_failed", observability.F("error", err))
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	counters, histograms := prometrics.New(registry, "").Register(observability.CounterSpecs, observability.HistogramSpecs)
	tel := infraobs.New(oteltrace.New(cfg.App.Name), logger, counters, histograms)

	st, err := openStores(ctx, cfg, systemLogger)
	if err != nil {
		systemLogger.Error("store_init_failed", observability.F("error", err))
		os.Exit(1)
	}
	defer st.close()

	var catalog dominv.Repository = st.inventory
	var dedup apppayment.Deduplicator = memory.NewDeduplicator()
	if cfg.Redis.Addr != "" {
		rdb, rerr := rediscache.Connect(ctx, cfg.Redis.Addr)
		if rerr != nil {
			systemLogger.Error("redis_init_failed", observability.F("error", rerr))
			os.Exit(1)
		}
		defer func() { _ = rdb.Close() }()
		catalog = rediscache.NewCachedCatalog(st.inventory, rdb, cfg.Redis.ProductTTL, logger)
		dedup = rediscache.NewWebhookDedup(rdb, cfg.Redis.DedupTTL)
		systemLogger.Info("redis_enabled", observability.F("addr", cfg.Redis.Addr))
	}

	if cfg.App.SeedDemo {
		if serr := st.seed(ctx, demoCatalog()...); serr != nil {
			systemLogger.Warn("demo_seed_failed", observability.F("error", serr))
		}
	}

	// In-process event bus; domain events fan out to workers and the Kafka relay.
	bus := outbox.NewBus(logger)

	lowStock := appinventory.NewLowStockAlertUseCase(bus, tel)
	workerpresentation.SubscribeAll(bus, logger, "inventory_worker", appinventory.NewWorker(lowStock).Handlers())

	if len(cfg.Kafka.Brokers) > 0 {
		producer, kerr := kafka.NewProducer(cfg.Kafka.Brokers, cfg.App.Name)
		if kerr != nil {
			systemLogger.Error("kafka_init_failed", observability.F("error", kerr))
			os.Exit(1)
		}
		defer func() { _ = producer.Close() }()
		relay := kafka.NewRelay(producer, cfg.Kafka.TopicPrefix, tel)
		workerpresentation.SubscribeAll(bus, logger, "kafka_relay", relay.Handlers(relayedEvents...))
		systemLogger.Info("kafka_relay_enabled", observability.F("brokers", cfg.Kafka.Brokers))
	}
	bus.Start(ctx)

	paymentGateway, err := newGateway(cfg)
	if err != nil {
		systemLogger.Error("gateway_init_failed", observability.F("error", err))
		os.Exit(1)
	}

	shipping, _ := cfg.Checkout.ShippingAmount()
	ids := id.NewUUIDGenerator()
	orders := ledger.New(st.orders, ids, id.NewOrderNumbers(), tel)
	lifecycle := appcheckout.NewLifecycle(orders, catalog, bus, tel)

	confirmTries := cfg.Reconciler.ConfirmTries
	paymentDeps := apppayment.Deps{
		Transactions: st.transactions,
		Orders:       orders,
		Lifecycle:    lifecycle,
		Gateway:      paymentGateway,
		Verifier:     gateway.NewHMACVerifier(cfg.Gateway.WebhookSecret),
		Dedup:        dedup,
		IDs:          ids,
		Publisher:    bus,
		ConfirmBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return backoff.WithMaxRetries(b, confirmTries)
		},
	}

	sweep := apppayment.NewSweepWorker(
		apppayment.NewSweepUseCase(paymentDeps, tel),
		cfg.Reconciler.SweepInterval,
		apppayment.SweepInput{
			Lookback:   cfg.Reconciler.Lookback,
			Grace:      cfg.Reconciler.Grace,
			StaleAfter: cfg.Reconciler.StaleAfter,
			Limit:      cfg.Reconciler.BatchSize,
		},
		tel,
	)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweep.Run(ctx)
	}()

	handler := httppresentation.NewHandler(httppresentation.UseCases{
		CreateOrder: appcheckout.NewCreateOrderUseCase(orders, catalog, catalog,
			appcheckout.FlatRate{Amount: shipping}, appcheckout.NoDiscount{}, bus, cfg.Checkout.Currency, tel),
		GetOrder:       appcheckout.NewGetOrderUseCase(orders, tel),
		ListOrders:     appcheckout.NewListOrdersUseCase(orders, tel),
		UpdateStatus:   appcheckout.NewUpdateStatusUseCase(orders, lifecycle, tel),
		CancelOrder:    appcheckout.NewCancelOrderUseCase(orders, lifecycle, tel),
		ReturnOrder:    appcheckout.NewReturnOrderUseCase(orders, lifecycle, tel),
		CreateIntent:   apppayment.NewCreateIntentUseCase(paymentDeps, tel),
		ConfirmPayment: apppayment.NewConfirmPaymentUseCase(paymentDeps, tel),
		Refund:         apppayment.NewRefundPaymentUseCase(paymentDeps, tel),
		Webhook:        apppayment.NewHandleWebhookUseCase(paymentDeps, tel),
	}, tel,
		httppresentation.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})),
		httppresentation.WithTimeout(cfg.HTTP.RequestTimeout),
	)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Router(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	go func() {
		systemLogger.Info("http_server_start",
			observability.F("addr", server.Addr),
			observability.F("gateway_mode", cfg.Gateway.Mode),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error", observability.F("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error", observability.F("error", err))
	} else {
		systemLogger.Info("http_server_stopped")
	}
	<-sweepDone
	bus.Stop(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		systemLogger.Warn("tracing_shutdown_error", observability.F("error", err))
	}
}

// openStores selects Postgres when a URL is configured and in-memory stores otherwise.
func openStores(ctx context.Context, cfg *config.Config, log observability.Logger) (*stores, error) {
	if cfg.Postgres.URL == "" {
		inv := memory.NewInventoryRepository()
		log.Info("store_selected", observability.F("store", "memory"))
		return &stores{
			orders:       memory.NewOrderRepository(),
			inventory:    inv,
			transactions: memory.NewTransactionRepository(),
			seed: func(_ context.Context, products ...*dominv.Product) error {
				inv.Seed(products...)
				return nil
			},
			close: func() {},
		}, nil
	}

	if cfg.Postgres.Migrate {
		if err := postgres.Migrate(cfg.Postgres.URL); err != nil {
			return nil, err
		}
	}
	pool, err := postgres.Connect(ctx, postgres.Options{
		URL:      cfg.Postgres.URL,
		MaxConns: cfg.Postgres.MaxConns,
		MinConns: cfg.Postgres.MinConns,
	})
	if err != nil {
		return nil, err
	}
	inv := postgres.NewInventoryRepository(pool)
	log.Info("store_selected", observability.F("store", "postgres"))
	return &stores{
		orders:       postgres.NewOrderRepository(pool),
		inventory:    inv,
		transactions: postgres.NewTransactionRepository(pool),
		seed: func(ctx context.Context, products ...*dominv.Product) error {
			for _, p := range products {
				if err := inv.Upsert(ctx, p); err != nil {
					return err
				}
			}
			return nil
		},
		close: pool.Close,
	}, nil
}

func newGateway(cfg *config.Config) (dompay.Gateway, error) {
	if cfg.Gateway.Mode != "http" {
		return gateway.NewSandbox(), nil
	}
	client, err := gateway.NewClient(gateway.Options{
		BaseURL:     cfg.Gateway.BaseURL,
		SecretKey:   cfg.Gateway.SecretKey,
		CallbackURL: cfg.Gateway.CallbackURL,
		Timeout:     cfg.Gateway.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func demoCatalog() []*dominv.Product {
	specs := []struct {
		id, name, price string
		qty, low        int
	}{
		{"prod-dates-1kg", "Sukkari dates 1kg", "45.00", 120, 10},
		{"prod-coffee-250g", "Saudi coffee 250g", "32.50", 60, 5},
		{"prod-oud-50ml", "Oud oil 50ml", "210.00", 8, 2},
	}
	out := make([]*dominv.Product, 0, len(specs))
	for _, s := range specs {
		p, err := dominv.NewProduct(s.id, "seller-demo", s.name, decimal.RequireFromString(s.price), s.qty, s.low)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}
