// cmd/admin.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/paygrid/internal/janitor"
	"github.com/aceteam-ai/paygrid/internal/queue"
)

var (
	dlqStream   string
	dlqLimit    int64
	janitorOnce bool
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect dead-lettered tasks",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks that exhausted their deliveries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			letters, err := a.queue.ListDLQ(cmd.Context(), dlqStream, dlqLimit)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(letters)
			}
			if len(letters) == 0 {
				goodColor.Printf("✓ %s is empty\n", queue.DLQName(dlqStream))
				return nil
			}
			for _, d := range letters {
				fmt.Printf("%s  %s  %s\n", d.MovedAt.Local().Format("2006-01-02 15:04"), d.JobID, badColor.Sprint(d.Reason))
			}
			return nil
		})
	},
}

var districtCmd = &cobra.Command{
	Use:   "district",
	Short: "Manage the district registry",
}

var districtAddCmd = &cobra.Command{
	Use:   "add <id>...",
	Short: "Register districts so uploads for them are accepted",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			if err := a.store.RegisterDistricts(cmd.Context(), args...); err != nil {
				return err
			}
			goodColor.Printf("✓ Registered %d district(s)\n", len(args))
			return nil
		})
	},
}

var districtListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered districts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			ids, err := a.store.Districts(cmd.Context())
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(ids)
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		})
	},
}

var janitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Remove orphaned blobs and stale district locks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			j := janitor.New(a.store, a.blobs, janitor.Config{Schedule: a.cfg.Janitor.Schedule, Grace: a.cfg.Janitor.Grace},
				janitor.WithLogger(a.log))
			if !janitorOnce {
				return j.Run(cmd.Context())
			}
			rep, err := j.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(rep)
			}
			goodColor.Printf("✓ Removed %d orphan blob(s), released %d lock(s)\n", rep.OrphanBlobs, rep.ReleasedLocks)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(dlqCmd, districtCmd, janitorCmd)
	dlqCmd.AddCommand(dlqListCmd)
	dlqListCmd.Flags().StringVar(&dlqStream, "stream", queue.ExtractStream, "Task stream whose dead letters to list")
	dlqListCmd.Flags().Int64Var(&dlqLimit, "limit", 50, "Maximum entries")

	districtCmd.AddCommand(districtAddCmd, districtListCmd)

	janitorCmd.Flags().BoolVar(&janitorOnce, "once", false, "Run a single sweep and exit")
}
