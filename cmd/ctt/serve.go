package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ctt-hpc/ctt/pkg/api"
	"github.com/ctt-hpc/ctt/pkg/log"
	"github.com/ctt-hpc/ctt/pkg/metrics"
	"github.com/ctt-hpc/ctt/pkg/reconciler"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciliation loop and the operator API",
	Long: `Run the reconciliation loop and serve the operator API, health checks
and Prometheus metrics on server.addr. On SIGINT or SIGTERM the API stops
accepting requests and any in-flight reconciliation pass is allowed to finish.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		metrics.SetVersion(Version)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := api.NewServer(api.Options{
			ReadOnly:        cfg.Server.ReadOnly,
			DefaultOperator: cfg.Operator,
		}, a.tracker, reconciler.NewResolver(a.store, a.topo), a.lock, a.sink)

		logger := log.WithComponent("serve")
		logger.Info().
			Str("version", Version).
			Str("storage", cfg.Storage.Driver).
			Str("scheduler", cfg.Scheduler.Backend).
			Dur("interval", cfg.PollInterval).
			Msg("starting ctt")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.ListenAndServe(cfg.Server.Addr)
		})
		g.Go(func() error {
			a.reconciler.Start(gctx)
			<-gctx.Done()
			logger.Info().Msg("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := srv.Shutdown(shutdownCtx)
			a.reconciler.Stop()
			return err
		})

		if err := g.Wait(); err != nil {
			return err
		}
		log.Info("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
}
