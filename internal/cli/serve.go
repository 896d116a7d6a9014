/**
 * @description
 * The serve command wires and runs the settlement service: the webhook receiver, the
 * settlement worker and the scheduled invoice and reconciliation jobs.
 */
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/transfa/settlement-service/internal/api"
	"github.com/transfa/settlement-service/internal/app"
	"github.com/transfa/settlement-service/internal/config"
	"github.com/transfa/settlement-service/internal/identity"
	"github.com/transfa/settlement-service/internal/metrics"
	"github.com/transfa/settlement-service/internal/queue"
	"github.com/transfa/settlement-service/internal/signature"
	"github.com/transfa/settlement-service/internal/store"
	"github.com/transfa/settlement-service/pkg/logging"
	"github.com/transfa/settlement-service/pkg/rabbitmq"
	"github.com/transfa/settlement-service/pkg/starkclient"
)

const (
	shutdownTimeout = 30 * time.Second
	drainTimeout    = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook receiver, settlement worker and scheduled jobs",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	startedAt := time.Now()
	ctx := context.Background()

	privateKey, err := cfg.PrivateKey()
	if err != nil {
		return err
	}
	client := starkclient.NewClient(cfg.ProviderBaseURL(), cfg.StarkBankProjectID, privateKey)
	client.Logger = logger.With("component", "stark_client")
	if cfg.MockMode {
		logger.Warn("mock mode enabled, provider traffic goes to the local stub", "provider_url", client.BaseURL)
	}

	ledger, err := store.Open(ctx, cfg.DatabaseURL, logger.With("component", "ledger"))
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer ledger.Close()
	logger.Info("ledger ready")

	q := queue.New()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry, q.Len)

	var publisher app.EventPublisher
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger.With("component", "rabbitmq"))
		if err != nil {
			logger.Warn("failed to connect to RabbitMQ, settlement events disabled", "error", err)
		} else {
			defer producer.Close()
			publisher = producer
			logger.Info("settlement events enabled", "exchange", cfg.SettlementExchange)
		}
	}

	deduper, closeDeduper := newDeduper(ctx, cfg.RedisURL, logger)
	defer closeDeduper()

	forwarder := app.NewSettlementForwarder(client, cfg.Destination(), app.FeeSchedule{
		PlatformFeeCents: cfg.PlatformFeeCents,
		TransferFeeCents: cfg.TransferFeeCents,
	}, publisher, cfg.SettlementExchange, logger.With("component", "forwarder"), m)
	settler := app.NewSettler(ledger, forwarder, logger.With("component", "settler"))
	monitor := app.NewWebhookMonitor()

	verifiers := signature.Selector{
		Provider: signature.NewProviderVerifier(client, logger.With("component", "verifier")),
		Mock:     signature.NewMockVerifier(client),
	}
	worker := app.NewWorker(q, verifiers, settler, monitor, deduper, logger.With("component", "worker"), m)
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	workerDone := make(chan struct{})
	go func() {
		worker.Run(workerCtx)
		close(workerDone)
	}()

	issuer := app.NewIssuer(client, ledger, identity.NewGenerator(nil), cfg.InvoiceMinBatch, cfg.InvoiceMaxBatch, logger.With("component", "issuer"), m)
	reconciler := app.NewReconciler(client, settler, cfg.ReconcileLimit, logger.With("component", "reconciler"), m)

	deps := api.Dependencies{
		Queue:      q,
		Monitor:    monitor,
		Telemetry:  api.NewSystemTelemetry(startedAt),
		Ledger:     ledger,
		Reconciler: reconciler,
		Batches:    issuer,
		MockMode:   cfg.MockMode,
		Logger:     logger.With("component", "api"),
		Metrics:    m,
	}

	var scheduler *app.Scheduler
	if cfg.SchedulerEnabled {
		scheduler = app.NewScheduler(issuer, reconciler, logger.With("component", "scheduler"), app.SchedulerConfig{
			IssueInterval:     cfg.IssueInterval(),
			IssueDuration:     cfg.IssueDuration(),
			ReconcileInterval: cfg.ReconcileInterval(),
		})
		scheduler.Start()
		deps.Scheduler = scheduler
		logger.Info("scheduler started")
	} else {
		logger.Warn("scheduler disabled, no invoices will be issued and no reconciliation will run")
	}

	if cfg.AdminJWTSecret == "" {
		logger.Info("ADMIN_JWT_SECRET not set, admin API disabled")
	}
	router := api.NewRouter(api.NewHandler(deps), api.RouterOptions{
		AdminSecret:    cfg.AdminJWTSecret,
		AllowedOrigins: cfg.AllowedOrigins(),
		Gatherer:       registry,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	if scheduler != nil {
		<-scheduler.Stop().Done()
		logger.Info("scheduler stopped")
	}

	q.Close()
	select {
	case <-workerDone:
	case <-time.After(drainTimeout):
		logger.Warn("queue not drained in time, abandoning remaining items", "remaining", q.Len())
		cancelWorker()
		<-workerDone
	}

	logger.Info("server exiting")
	return nil
}

// newDeduper returns a Redis backed deduper when redisURL is set and reachable, and an
// in-memory one otherwise.
func newDeduper(ctx context.Context, redisURL string, logger *slog.Logger) (app.Deduper, func()) {
	noop := func() {}
	if redisURL == "" {
		return app.NewMemoryDeduper(app.DefaultDedupeTTL), noop
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid REDIS_URL, using in-memory event dedupe", "error", err)
		return app.NewMemoryDeduper(app.DefaultDedupeTTL), noop
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, using in-memory event dedupe", "error", err)
		client.Close()
		return app.NewMemoryDeduper(app.DefaultDedupeTTL), noop
	}

	logger.Info("event dedupe backed by redis")
	return app.NewRedisDeduper(client, "settlement:event", app.DefaultDedupeTTL), func() { client.Close() }
}
