package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vincentbai/heatmap-agent/internal/analytics"
	"github.com/vincentbai/heatmap-agent/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent HTTP server and the sync loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := analytics.NewMetrics(reg)
	if err != nil {
		return err
	}

	ag, err := openAgent(a.cfg, a.logger, metrics)
	if err != nil {
		return err
	}
	defer ag.Close()

	if a.cfg.Funnels.File != "" {
		n, err := importFunnels(ctx, ag.analytics.Funnels(), a.cfg.Funnels.File)
		if err != nil {
			return err
		}
		a.logger.Info("funnels imported", "file", a.cfg.Funnels.File, "count", n)
	}

	if err := ag.analytics.Init(ctx); err != nil {
		return err
	}
	defer ag.analytics.Destroy(context.Background())

	srv := server.NewServer(ag.analytics, a.cfg.HTTPServer(),
		server.WithLogger(a.logger),
		server.WithGatherer(reg))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return ag.analytics.RunSync(gctx) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
