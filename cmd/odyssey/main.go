package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-books/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-books/internal/app"
	"github.com/odyssey-erp/odyssey-books/internal/documents"
	"github.com/odyssey-erp/odyssey-books/internal/fx"
	"github.com/odyssey-erp/odyssey-books/internal/inventory"
	"github.com/odyssey-erp/odyssey-books/internal/manufacturing"
	"github.com/odyssey-erp/odyssey-books/internal/numbering"
	"github.com/odyssey-erp/odyssey-books/internal/observability"
	"github.com/odyssey-erp/odyssey-books/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-books/internal/platform/db"
	"github.com/odyssey-erp/odyssey-books/jobs"
)

const usage = `usage: odyssey [command]

commands:
  serve                      run the HTTP API (default)
  fx quote [--json] CODE...  resolve exchange rates against the base currency
  jobs trigger NAME          enqueue fx:refresh or idempotency:cleanup
  jobs stats                 print default queue statistics
`

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

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		err = serve(ctx, stop, cfg, logger)
	case "fx":
		os.Exit(runFX(ctx, cfg, logger, args))
	case "jobs":
		err = runJobs(ctx, cfg, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		if cfg.NumberingLock == app.BackendRedis || cfg.FXCache == app.BackendRedis {
			return fmt.Errorf("connect redis: %w", err)
		}
		logger.Warn("redis unavailable, using in-process backends", slog.Any("error", err))
		redisClient = nil
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	domainMetrics := observability.NewDomain(metrics.Registerer())

	allocator := numbering.NewAllocator(
		numbering.NewRepository(dbpool),
		app.NewNumberLocker(cfg, redisClient, logger),
		domainMetrics,
		logger,
		numbering.Config{Capacity: cfg.NumberingBookCapacity},
	)
	resolver := app.NewFXResolver(cfg, redisClient, domainMetrics, logger)

	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), inventory.ServiceConfig{
		BatchSize:   cfg.InventoryBatchSize,
		Concurrency: cfg.InventoryConcurrency,
	})

	documentService := documents.NewService(documents.NewRepository(dbpool), allocator, resolver, logger)
	manufacturingService := manufacturing.NewService(manufacturing.NewRepository(dbpool), inventoryService, allocator, domainMetrics, logger)

	readiness := map[string]app.Pinger{"postgres": dbpool}
	var jobHandler *jobs.Handler
	if redisClient != nil {
		rdb := redisClient
		readiness["redis"] = app.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })

		inspector := asynq.NewInspector(cfg.AsynqRedisOpt())
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		Metrics:              metrics,
		DocumentsHandler:     documents.NewHandler(logger, documentService),
		FXHandler:            fx.NewHandler(resolver),
		ManufacturingHandler: manufacturing.NewHandler(logger, manufacturingService),
		JobHandler:           jobHandler,
		Readiness:            readiness,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func runFX(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) == 0 || args[0] != "quote" {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	fs := flag.NewFlagSet("fx quote", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	var rdb *redis.Client
	if cfg.FXCache == app.BackendRedis {
		client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			logger.Warn("redis unavailable, quoting without shared cache", slog.Any("error", err))
		} else {
			rdb = client
			defer rdb.Close()
		}
	}
	ops, err := cli.NewFXOpsCLI(app.NewFXResolver(cfg, rdb, nil, logger))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return ops.QuoteCommand(ctx, cli.FXQuoteOptions{Currencies: fs.Args(), JSONOutput: *jsonOut})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return nil
	}
	ops, err := cli.NewJobsCLI(cfg.AsynqRedisOpt())
	if err != nil {
		return err
	}
	defer ops.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return fmt.Errorf("jobs trigger: job name required")
		}
		info, err := ops.Trigger(ctx, args[1])
		if errors.Is(err, asynq.ErrDuplicateTask) {
			fmt.Printf("%s already queued\n", args[1])
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return nil
	case "stats":
		stats, err := ops.InspectQueue(ctx)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(stats)
	default:
		return fmt.Errorf("jobs: unknown subcommand %q", args[0])
	}
}
