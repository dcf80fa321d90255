// cmd/worker.go
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/paygrid/internal/jobs"
	"github.com/aceteam-ai/paygrid/internal/queue"
	"github.com/aceteam-ai/paygrid/internal/worker"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume extraction and normalization tasks",
	Long: `Runs a Redis Streams worker that processes extraction tasks (reading
uploaded contracts into staged schedule rows) and normalization runs.

Workers join a consumer group, so any number can run side by side. Deliveries
left unacknowledged by a crashed worker are claimed after queue.claim_idle,
and tasks that fail queue.max_attempts times move to the dead-letter stream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return withApp(ctx, true, func(a *app) error {
			return runWorker(ctx, a)
		})
	},
}

// runWorker blocks until ctx is canceled.
func runWorker(ctx context.Context, a *app) error {
	activity := worker.SlogActivity(a.log.With("component", "worker"))
	source := worker.NewRedisSource(a.queue, worker.RedisSourceConfig{
		URL:          a.cfg.Redis.URL,
		Streams:      []string{queue.ExtractStream, queue.NormalizeStream},
		OnDeadLetter: a.jobs.DeadLetterFunc(),
		LogFn:        activity,
	})

	concurrency := a.cfg.Queue.Concurrency
	if workerConcurrency > 0 {
		concurrency = workerConcurrency
	}
	runner := worker.NewRunner(source, []worker.JobHandler{
		a.jobs.ExtractionHandler(),
		a.normalizer.Handler(),
	}, worker.RunnerConfig{
		WorkerID:    a.queue.WorkerID(),
		Concurrency: concurrency,
		ActivityFn:  activity,
		JobRecordFn: jobs.LedgerRecordFunc(a.ledger, a.log),
	})
	return runner.Run(ctx)
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "Processing loops (default: queue.concurrency)")
	workerCmd.PreRun = func(cmd *cobra.Command, args []string) { setupLogger(true) }
}
