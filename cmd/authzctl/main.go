package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/odyssey-authz/cmd/authzctl/cli"
	"github.com/odyssey-erp/odyssey-authz/internal/app"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	open := func(ctx context.Context) (*app.Runtime, error) {
		return app.Open(ctx, cfg, logger)
	}
	deps := cli.Deps{
		Authz: func(ctx context.Context) (*rbac.Service, func(), error) {
			rt, err := open(ctx)
			if err != nil {
				return nil, nil, err
			}
			return rt.Authorizer(nil), rt.Close, nil
		},
		Jobs: func() (*cli.JobsCLI, error) {
			return cli.NewJobsCLI(cfg.AsynqRedis()), nil
		},
		Migrate: func(ctx context.Context) error {
			rt, err := open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.Store.Migrate(ctx)
		},
	}

	if err := cli.NewRootCommand(deps, version).ExecuteContext(ctx); err != nil {
		logger.Error("authzctl", slog.Any("error", err))
		os.Exit(1)
	}
}
