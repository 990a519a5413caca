package main

import (
	"context"
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

	"github.com/odyssey-erp/odyssey-stock/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-stock/internal/audit/http"
	"github.com/odyssey-erp/odyssey-stock/internal/auth"
	"github.com/odyssey-erp/odyssey-stock/internal/documents"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/posting"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/reports"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobs(os.Args[2:]))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if cfg.DBMigrate {
		applied, err := db.Migrate(cfg.DatabaseURL)
		if err != nil {
			logger.Error("migrate database", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("database migrations checked", slog.Bool("applied", applied))
	}

	dbpool, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// Caches degrade to direct reads without redis.
		logger.Warn("redis unavailable, caching disabled", slog.Any("error", err))
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

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	metrics := observability.NewMetrics()
	rbacMiddleware := rbac.Middleware{Logger: logger}
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	var auditSink audit.Sink = audit.NewService(audit.NewStore(dbpool))
	var jobClient *jobs.Client
	if cfg.AuditAsync {
		jobClient, err = jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		auditSink = jobs.NewAuditQueue(jobClient)
	}
	auditEmitter := audit.NewEmitter(auditSink, logger, cfg.AuditTimeout)

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL())
	authService := auth.NewService(auth.NewRepository(dbpool), tokens)
	authHandler := auth.NewHandler(logger, authService, func(roles ...auth.Role) func(http.Handler) http.Handler {
		return rbacMiddleware.RequireAny(roles...)
	})

	masterService := masterdata.NewService(masterdata.NewRepository(dbpool))
	masterChecker := masterdata.NewCachedChecker(masterService, redisClient, cfg.MasterDataCacheTTL, logger)
	masterHandler := masterdata.NewHandler(logger, masterService, rbacMiddleware)

	inventoryService := inventory.NewService(inventory.NewRepository(dbpool, cfg.PostingLockTimeout), inventory.ServiceConfig{
		MasterData:  masterChecker,
		Audit:       auditEmitter,
		Idempotency: idempotencyStore,
		Logger:      logger,
	})
	inventoryHandler := inventory.NewHandler(logger, inventoryService, rbacMiddleware)

	documentService := documents.NewService(documents.NewRepository(dbpool, cfg.PostingLockTimeout), documents.ServiceConfig{
		MasterData:  masterChecker,
		Audit:       auditEmitter,
		Idempotency: idempotencyStore,
		Logger:      logger,
	})
	documentHandler := documents.NewHandler(logger, documentService, rbacMiddleware)

	reportCache := reports.NewCache(redisClient, cfg.ReportsCacheTTL)
	reportService := reports.NewService(reports.NewRepository(dbpool), reportCache, logger)
	reportHandler := reports.NewHandler(logger, reportService, rbacMiddleware)

	postingService := posting.NewService(posting.NewPGUnitOfWork(dbpool, cfg.PostingLockTimeout), posting.ServiceConfig{
		Audit:       auditEmitter,
		Metrics:     metrics.Postings(),
		Invalidator: reportCache,
		Logger:      logger,
	})
	postingHandler := posting.NewHandler(logger, postingService, rbacMiddleware)

	auditHandler := audithttp.NewHandler(logger, audit.NewService(audit.NewStore(dbpool)), rbacMiddleware)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Verifier:           authService,
		AuthHandler:        authHandler,
		PermissionsHandler: rbac.NewPermissionsHandler(),
		MasterDataHandler:  masterHandler,
		InventoryHandler:   inventoryHandler,
		DocumentsHandler:   documentHandler,
		PostingHandler:     postingHandler,
		AuditHandler:       auditHandler,
		ReportsHandler:     reportHandler,
		JobHandler:         jobHandler,
		Database:           dbpool,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
}

// runJobs handles "odyssey jobs <trigger|stats> [flags]".
func runJobs(args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "usage: odyssey jobs <trigger|stats> [--job name] [--json] [--redis addr]")
		return 2
	}
	fs := flag.NewFlagSet("jobs "+args[0], flag.ContinueOnError)
	job := fs.String("job", "", "task type to enqueue")
	jsonOut := fs.Bool("json", false, "print JSON")
	redisAddr := fs.String("redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "redis address")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	jobsCLI, err := cli.NewJobsCLI(*redisAddr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer jobsCLI.Close()
	return jobsCLI.JobsCommand(context.Background(), cli.JobsOptions{Action: args[0], Job: *job, JSONOutput: *jsonOut})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
