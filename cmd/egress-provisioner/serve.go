package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/open-sspm/egress-provisioner/internal/auth"
	"github.com/open-sspm/egress-provisioner/internal/config"
	httpapp "github.com/open-sspm/egress-provisioner/internal/http"
	"github.com/open-sspm/egress-provisioner/internal/metrics"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Run the provisioning HTTP API and the metrics listener.",
	Args:        cobra.NoArgs,
	Annotations: structuredLog(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	authenticator, err := auth.NewTokenAuthenticator(cfg.APITokenHash)
	if err != nil {
		return err
	}
	logger := slog.Default()
	if !authenticator.Configured() {
		logger.Warn("API_TOKEN_HASH is not set; all API requests will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := httpapp.Options{
		Provisioner:   rt.provisioner,
		Secrets:       rt.secrets,
		Authenticator: authenticator,
		Timeout:       cfg.ProvisionTimeout,
		Logger:        logger,
	}
	if rt.runs != nil {
		opts.Runs = rt.runs
	}
	srv, err := httpapp.NewEchoServer(opts)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, cfg.HTTPAddr)
	})
	g.Go(func() error {
		return metrics.Serve(gctx, cfg.MetricsAddr, logger)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}
