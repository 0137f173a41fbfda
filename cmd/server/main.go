package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/smtp"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Priya8975/webhook-ingest-service/internal/api"
	"github.com/Priya8975/webhook-ingest-service/internal/config"
	"github.com/Priya8975/webhook-ingest-service/internal/engine"
	"github.com/Priya8975/webhook-ingest-service/internal/handlers"
	"github.com/Priya8975/webhook-ingest-service/internal/idempotency"
	"github.com/Priya8975/webhook-ingest-service/internal/notify"
	"github.com/Priya8975/webhook-ingest-service/internal/router"
	"github.com/Priya8975/webhook-ingest-service/internal/store"
	"github.com/Priya8975/webhook-ingest-service/internal/websocket"
	"github.com/Priya8975/webhook-ingest-service/internal/worker"
)

// mailCircuit names the circuit guarding the mail relay.
const mailCircuit = "smtp"

func main() {
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if cfg.WebhookSecret == "" {
		logger.Error("WEBHOOK_SECRET is not set, every webhook will be rejected with 401")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		rs, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rs.Close()
		redisStore = rs
		logger.Info("connected to Redis")
	}

	var pgStore *store.PostgresStore
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pg.Close()
		if err := pg.RunMigrations(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		pgStore = pg
		logger.Info("connected to PostgreSQL, migrations applied")
	}

	// Idempotency store
	opts := idempotency.Options{
		Retention:  cfg.IdempotencyRetention,
		MaxEntries: cfg.IdempotencyMaxEntries,
	}
	var idem idempotency.Store
	var lister api.ProcessedLister
	switch cfg.IdempotencyBackend {
	case config.BackendRedis:
		idem = idempotency.NewRedisStore(redisStore.Client(), opts)
	case config.BackendPostgres:
		pes := store.NewProcessedEventStore(pgStore, cfg.IdempotencyRetention)
		idem, lister = pes, pes
		go idempotency.RunSweeper(ctx, pes, cfg.SweepInterval, logger)
	default:
		mem := idempotency.NewMemoryStore(opts)
		idem = mem
		go idempotency.RunSweeper(ctx, mem, cfg.SweepInterval, logger)
	}
	logger.Info("idempotency store ready",
		"backend", cfg.IdempotencyBackend,
		"retention", cfg.IdempotencyRetention.String(),
	)

	// Collaborators
	var ledger interface {
		handlers.Ledger
		api.LedgerReader
	} = store.NewMemoryLedger()
	if pgStore != nil {
		ledger = pgStore
	}

	var mailer notify.Mailer = notify.NewLogMailer(logger)
	if cfg.SMTPAddr != "" {
		var auth smtp.Auth
		if cfg.SMTPUsername != "" {
			host, _, _ := net.SplitHostPort(cfg.SMTPAddr)
			auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, host)
		}
		mailer = notify.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPFrom, auth)
	}

	var breaker *engine.CircuitBreaker
	var limiter engine.Limiter
	if redisStore != nil {
		breaker = engine.NewCircuitBreaker(redisStore.Client(), 0, 0, logger)
		mailer = notify.WithBreaker(mailer, breaker, mailCircuit)
	}
	if cfg.RateLimitPerSecond > 0 {
		if redisStore != nil {
			limiter = engine.NewRateLimiter(redisStore.Client(), cfg.RateLimitPerSecond, logger)
		} else {
			limiter = engine.NewLocalRateLimiter(cfg.RateLimitPerSecond)
		}
	}

	// Dispatch
	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	h := handlers.New(handlers.Deps{
		Orders:     ledger,
		Clients:    ledger,
		Processing: ledger,
		Mailer:     mailer,
		Logger:     logger,
	})
	routes, err := router.New(h.Routes())
	if err != nil {
		return fmt.Errorf("building event router: %w", err)
	}

	dispatcher := worker.NewDispatcher(idem, routes, hub, logger, worker.Options{
		NumWorkers:     cfg.NumWorkers,
		QueueSize:      cfg.QueueSize,
		HandlerTimeout: cfg.HandlerTimeout,
		Lease:          cfg.IdempotencyLease,
	})
	// Workers outlive the signal context so queued envelopes drain on shutdown.
	dispatcher.Start(context.Background())

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.NewRouter(api.Deps{
			Secret:       cfg.WebhookSecret,
			Dispatcher:   dispatcher,
			Store:        idem,
			Limiter:      limiter,
			Hub:          hub,
			Lister:       lister,
			Ledger:       ledger,
			Breaker:      breaker,
			BreakerName:  mailCircuit,
			MaxBodyBytes: cfg.MaxBodyBytes,
			Logger:       logger,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Error("dispatcher did not drain before the deadline", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
