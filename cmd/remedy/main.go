// REMEDY orchestrator server — exposes the ingest and admin HTTP API,
// runs the worker pipeline on the event bus and sweeps the tenant
// alert rules.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/remedy/pkg/api"
	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/database"
	"github.com/codeready-toolchain/remedy/pkg/embedding"
	"github.com/codeready-toolchain/remedy/pkg/metrics"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/notify"
	"github.com/codeready-toolchain/remedy/pkg/pack"
	"github.com/codeready-toolchain/remedy/pkg/playbook"
	"github.com/codeready-toolchain/remedy/pkg/safety"
	"github.com/codeready-toolchain/remedy/pkg/store"
	"github.com/codeready-toolchain/remedy/pkg/toolexec"
	"github.com/codeready-toolchain/remedy/pkg/version"
	"github.com/codeready-toolchain/remedy/pkg/worker"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("REMEDY_CONFIG", "remedy.yaml"),
		"Path to the configuration file")
	flag.Parse()

	// Secrets and deployment wiring come from the environment; .env is a
	// convenience for local runs.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	slog.Info("Starting REMEDY", "version", version.Full(), "config", *configPath)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(*configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Stores: PostgreSQL by default, in-memory for single-node trials
	var (
		stores   *store.Stores
		dbClient *database.Client
	)
	switch backend := getEnv("REMEDY_STORE", "postgres"); backend {
	case "memory":
		stores = store.NewMemory()
		slog.Info("Using in-memory stores")
	case "postgres":
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		stores = store.NewPostgres(dbClient)
		slog.Info("Connected to PostgreSQL database")
	default:
		slog.Error("Unknown REMEDY_STORE backend", "backend", backend)
		os.Exit(1)
	}

	// 3. Broker
	poison := worker.NewPoisonFunc(stores.DeadLetter)
	var broker bus.Broker
	switch kind, redisAddr := config.BrokerFromEnv(); kind {
	case config.BrokerRedis:
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis", "addr", redisAddr, "error", err)
			os.Exit(1)
		}
		broker = bus.NewRedisBroker(rdb, bus.RedisOptions{OnPoison: poison})
		slog.Info("Connected to Redis broker", "addr", redisAddr)
	case config.BrokerMemory:
		broker = bus.NewMemoryBroker(bus.WithPoisonHandler(poison))
		slog.Info("Using in-process broker")
	default:
		slog.Error("Unknown REMEDY_BROKER backend", "backend", kind)
		os.Exit(1)
	}
	defer func() {
		if err := broker.Close(); err != nil {
			slog.Error("Error closing broker", "error", err)
		}
	}()

	// 4. Metrics and the shared event sink
	reg := metrics.NewRegistry()
	sink := worker.NewSink(stores.Events, broker, reg)

	// 5. Packs
	registry := pack.NewRegistry()
	installer := pack.NewInstaller(registry, stores)
	if _, err := os.Stat(cfg.Packs.Dir); err != nil {
		slog.Warn("Pack directory not found, starting without packs", "dir", cfg.Packs.Dir)
	} else if err := installer.InstallAll(ctx, pack.NewLoader(cfg.Packs.Dir), models.SystemActor("startup")); err != nil {
		slog.Error("Failed to install packs", "dir", cfg.Packs.Dir, "error", err)
		os.Exit(1)
	}

	// 6. Embedding provider behind the cache, feeding the recurrence index
	var provider embedding.Provider
	switch cfg.Embedding.Provider {
	case "openai":
		provider, err = embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			Endpoint:   cfg.Embedding.Endpoint,
			Model:      cfg.Embedding.Model,
			APIKeyEnv:  cfg.Embedding.APIKeyEnv,
			Dimensions: cfg.Embedding.Dimensions,
		}, nil)
		if err != nil {
			slog.Error("Failed to build embedding provider", "error", err)
			os.Exit(1)
		}
	default:
		provider = embedding.NewHashProvider(cfg.Embedding.Dimensions)
	}
	cache, err := embedding.NewCache(provider, embedding.CacheConfig{
		Model: cfg.Embedding.Model,
		Size:  cfg.Embedding.CacheSize,
		Dir:   cfg.Embedding.CacheDir,
	}, reg)
	if err != nil {
		slog.Error("Failed to build embedding cache", "error", err)
		os.Exit(1)
	}
	index := embedding.NewIndex(cache, cfg.Embedding.SimilarityThreshold)
	slog.Info("Embedding index initialized",
		"provider", provider.Name(), "dimensions", provider.Dimensions())

	// 7. Safety: violation log plus incident promotion
	violations, err := safety.NewJSONLStore(cfg.Safety.ViolationsDir)
	if err != nil {
		slog.Error("Failed to open violation store", "dir", cfg.Safety.ViolationsDir, "error", err)
		os.Exit(1)
	}
	incidents := safety.NewIncidentManager(violations, safety.IncidentConfig{
		Threshold: cfg.Safety.IncidentThreshold,
		Window:    cfg.Safety.IncidentWindow,
	})

	// 8. Notifications
	notifier := notify.NewService(registry, nil, reg, cfg.Notifications.DashboardURL)

	// 9. Tool execution engine
	breakers := toolexec.NewBreakerRegistry()
	providers := toolexec.NewProviderSet(
		toolexec.NewHTTPProvider(toolexec.NewURLCheckerFromEnv()),
		toolexec.NewDummyProvider())
	engine := toolexec.NewEngine(toolexec.NewValidator(stores.Tools), providers,
		breakers, stores.Executions, sink)

	// 10. Playbook executor
	executor := playbook.NewExecutor(stores.Exceptions, stores.Playbooks, stores.Events,
		engine, sink)

	// 11. Worker pipeline
	workerCfg := worker.Config{
		Lease:       cfg.Workers.Lease,
		MaxAttempts: cfg.Workers.MaxAttempts,
		Metrics:     reg,
	}
	pool := worker.NewPool(broker,
		worker.NewReaper(stores.Ledger, cfg.Workers.ReapInterval),
		worker.NewIntakeWorker(stores, sink, workerCfg),
		worker.NewTriageWorker(stores, registry, index, sink, workerCfg),
		worker.NewPolicyWorker(stores, registry, incidents, sink, workerCfg),
		worker.NewResolutionWorker(stores, registry, executor, sink, workerCfg),
		worker.NewPlaybookWorker(stores, executor, notifier, workerCfg),
		worker.NewToolWorker(stores, engine, sink, workerCfg),
		worker.NewSupervisorWorker(stores, registry, incidents, sink, workerCfg),
	)
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 12. Alert monitor
	alertCfg := safety.AlertConfig{
		VolumeThreshold:     cfg.Alerts.VolumeThreshold,
		VolumeWindow:        cfg.Alerts.VolumeWindow,
		RecurrenceThreshold: cfg.Alerts.RecurrenceThreshold,
		RecurrenceWindow:    cfg.Alerts.RecurrenceWindow,
		ApprovalMaxAge:      cfg.Alerts.ApprovalMaxAge,
	}
	monitor := safety.NewMonitor(
		safety.NewSnapshotter(stores.Exceptions, stores.Playbooks, breakers, alertCfg),
		safety.NewAlertEvaluator(stores.Alerts, notifier, alertCfg),
		cfg.Tenants, cfg.Alerts.EvalInterval)
	monitor.Start(ctx)
	defer monitor.Stop()

	// 13. HTTP server
	httpServer := api.NewServer(stores, sink, executor, broker, dbClient, reg)
	errCh := make(chan error, 1)
	go func() {
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("REMEDY started", "tenants", len(cfg.Tenants))

	// 14. Wait for a shutdown signal or a server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 15. Graceful shutdown: stop intake first, drain the pipeline last
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	pool.Stop()

	slog.Info("Shutdown complete")
}
