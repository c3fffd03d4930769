// Command server runs the payment orchestration service. Every dependency
// is constructed exactly once at startup and shared by reference; a
// configuration problem aborts the process before the listener opens.
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

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/nyuchitech/payments-core/internal/adapter"
	"github.com/nyuchitech/payments-core/internal/adapter/paynow"
	"github.com/nyuchitech/payments-core/internal/adapter/stripe"
	"github.com/nyuchitech/payments-core/internal/checkout"
	"github.com/nyuchitech/payments-core/internal/config"
	"github.com/nyuchitech/payments-core/internal/events"
	"github.com/nyuchitech/payments-core/internal/logging"
	"github.com/nyuchitech/payments-core/internal/monitor"
	"github.com/nyuchitech/payments-core/internal/orchestrator"
	"github.com/nyuchitech/payments-core/internal/payment"
	"github.com/nyuchitech/payments-core/internal/policy"
	"github.com/nyuchitech/payments-core/internal/reconciler"
	"github.com/nyuchitech/payments-core/internal/reporting"
	"github.com/nyuchitech/payments-core/internal/store"
)

const shutdownGrace = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(".")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logs.LokiURL)
	slog.SetDefault(logger)

	shutdownTracing, err := initTracing()
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	paymentStore, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize payment store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize provider adapters", "error", err)
		os.Exit(1)
	}

	enforcer, err := policy.NewEnforcer(cfg.Policy)
	if err != nil {
		logger.Error("failed to compile payment policy", "error", err)
		os.Exit(1)
	}

	orch, err := orchestrator.New(registry, cfg.Primary(), cfg.Fallback(),
		orchestrator.WithPolicy(enforcer),
		orchestrator.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to initialize orchestrator", "error", err)
		os.Exit(1)
	}

	contracts, err := monitor.NewContractMonitor()
	if err != nil {
		logger.Error("failed to compile request schemas", "error", err)
		os.Exit(1)
	}

	reconcilerOpts := []reconciler.Option{
		reconciler.WithLogger(logger),
		reconciler.WithActivation(func(ctx context.Context, record *store.PaymentRecord) error {
			logger.Info("payment activated",
				"reference", record.Reference,
				"provider", record.Provider,
				"amount", record.Amount,
				"currency", record.Currency)
			return nil
		}),
	}
	if cfg.Kafka.BrokerURL != "" {
		publisher := events.NewPublisher(cfg.Kafka.BrokerURL, cfg.Kafka.Topic)
		defer publisher.Close()
		reconcilerOpts = append(reconcilerOpts, reconciler.WithPublisher(publisher))
	}
	rec := reconciler.New(paymentStore, reconcilerOpts...)

	srv := &server{
		orch:      orch,
		builder:   checkout.NewBuilder("USD"),
		contracts: contracts,
		store:     paymentStore,
		rec:       rec,
		registry:  registry,
		reporter:  reporting.NewRetrospectiveReporter(),
		logger:    logger,
	}

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: srv.routes(),
	}

	go func() {
		logger.Info("payment service listening", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", "error", err)
	}
}

// initTracing installs a stdout trace exporter and returns its shutdown.
func initTracing() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// buildStore selects Postgres when a DSN is configured, running pending
// migrations first, and an in-memory store otherwise.
func buildStore(ctx context.Context, cfg *config.Config) (store.PaymentStore, func(), error) {
	if cfg.Database.DSN == "" {
		return store.NewMemoryStore(), func() {}, nil
	}
	if err := store.Migrate(cfg.Database.DSN); err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}

// buildRegistry constructs one adapter per enabled provider. Incomplete
// credentials for an enabled provider abort startup.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (adapter.Registry, error) {
	registry := adapter.Registry{}
	if cfg.Providers.Paynow.Enabled {
		a, err := paynow.New(paynow.Config{
			IntegrationID:  cfg.Providers.Paynow.IntegrationID,
			IntegrationKey: cfg.Providers.Paynow.IntegrationKey,
			ResultURL:      cfg.Providers.Paynow.ResultURL,
			ReturnURL:      cfg.Providers.Paynow.ReturnURL,
		}, nil, logger)
		if err != nil {
			return nil, err
		}
		registry[payment.ProviderPaynow] = a
	}
	if cfg.Providers.Stripe.Enabled {
		a, err := stripe.New(stripe.Config{
			SecretKey:     cfg.Providers.Stripe.SecretKey,
			WebhookSecret: cfg.Providers.Stripe.WebhookSecret,
			SuccessURL:    cfg.Providers.Stripe.SuccessURL,
			CancelURL:     cfg.Providers.Stripe.CancelURL,
		}, nil, logger)
		if err != nil {
			return nil, err
		}
		registry[payment.ProviderStripe] = a
	}
	return registry, nil
}

// routes wires the HTTP surface: payment actions, derived queries,
// per-provider webhooks and the operational endpoints.
func (s *server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("payments-core"))
	router.Use(callerMiddleware())

	api := router.Group("/api")
	{
		api.POST("/payments", s.createPayment)
		api.POST("/payments/mobile", s.createMobilePayment)
		api.GET("/payments/methods", s.paymentMethods)
		api.GET("/payments/currencies", s.currencies)
		api.GET("/payments/fees", s.fees)
		api.GET("/payments/reference", s.reference)
		api.GET("/payments/report", s.report)
		api.GET("/payments/:handle/status", s.paymentStatus)
		api.POST("/payments/:handle/refund", s.refund)
		api.GET("/providers/status", s.providerStatus)
	}

	router.POST("/webhooks/paynow", s.paynowWebhook)
	router.POST("/webhooks/stripe", s.stripeWebhook)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
