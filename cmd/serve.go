// cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aceteam-ai/paygrid/internal/api"
	"github.com/aceteam-ai/paygrid/internal/janitor"
	"github.com/aceteam-ai/paygrid/internal/ledger"
	"github.com/aceteam-ai/paygrid/internal/observability"
	"github.com/aceteam-ai/paygrid/internal/worker"
)

var (
	serveAddr     string
	serveNoWorker bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API together with a worker, the janitor and ledger sync",
	Long: `Starts the HTTP API and, in the same process, a task worker, the janitor
sweep, the cache invalidation subscriber and the ledger publisher.

Use --no-worker to run API-only replicas next to dedicated "paygrid worker"
processes.`,
	PreRun: func(cmd *cobra.Command, args []string) { setupLogger(true) },
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return withApp(ctx, !serveNoWorker, func(a *app) error {
			return runServe(ctx, a)
		})
	},
}

func runServe(ctx context.Context, a *app) error {
	shutdownTracer, err := observability.InitTracer(a.cfg.Telemetry.Exporter, "paygrid", a.cfg.Telemetry.Endpoint)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.WithoutCancel(ctx))

	addr := a.cfg.HTTP.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := api.New(addr, a.jobs, a.normalizer, a.queries, a.store, a.log.With("component", "api"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.cache.Run(ctx, nil) })

	j := janitor.New(a.store, a.blobs, janitor.Config{Schedule: a.cfg.Janitor.Schedule, Grace: a.cfg.Janitor.Grace},
		janitor.WithLogger(a.log.With("component", "janitor")))
	g.Go(func() error { return j.Run(ctx) })

	if a.cfg.Ledger.Stream != "" {
		syncer := ledger.NewSyncer(ledger.SyncerConfig{
			Store:     a.ledger,
			PublishFn: ledger.StreamPublisher(a.rdb, a.cfg.Ledger.Stream, 10000),
			Interval:  a.cfg.Ledger.SyncInterval,
			LogFn:     worker.SlogActivity(a.log.With("component", "ledger")),
		})
		g.Go(func() error {
			if err := syncer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if !serveNoWorker {
		g.Go(func() error { return runWorker(ctx, a) })
	}

	return g.Wait()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: http.addr)")
	serveCmd.Flags().BoolVar(&serveNoWorker, "no-worker", false, "Do not consume tasks in this process")
}
