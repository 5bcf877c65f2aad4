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

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-authz/internal/app"
	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-authz/internal/audit/http"
	"github.com/odyssey-erp/odyssey-authz/internal/departments"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	rbachttp "github.com/odyssey-erp/odyssey-authz/internal/rbac/http"
	"github.com/odyssey-erp/odyssey-authz/internal/users"
	"github.com/odyssey-erp/odyssey-authz/jobs"
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

	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("open runtime", slog.Any("error", err))
		os.Exit(1)
	}
	defer rt.Close()

	if err := rt.Store.Migrate(ctx); err != nil {
		logger.Error("migrate schema", slog.Any("error", err))
		os.Exit(1)
	}

	queue := jobs.NewClient(cfg.AsynqRedis())
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	notifier := rbac.NewAsyncNotifier(queue.Decisions(), cfg.RBACAuditBuffer, logger, rt.RBACMetrics)
	authz := rt.Authorizer(notifier)
	guard := rbac.Middleware{Service: authz, Logger: logger}

	inspector := asynq.NewInspector(cfg.AsynqRedis())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		RBACHandler:        rbachttp.NewHandler(logger, authz),
		AuditHandler:       audithttp.NewHandler(logger, audit.NewService(audit.NewPgRepository(rt.Pool)), authz),
		DepartmentsHandler: departments.NewHandler(logger, rt.Departments, guard),
		UsersHandler:       users.NewHandler(logger, rt.Users, guard),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            rt.Metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return notifier.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		notifier.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
