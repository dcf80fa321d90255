// cmd/history.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/paygrid/internal/ledger"
)

var (
	historyDistrict string
	historyLimit    int
	historyBackups  bool
	rollbackBackup  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded applies, rejects, rollbacks and normalization runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			entries, err := a.ledger.List(ledger.Filter{
				DistrictID: historyDistrict,
				WithBackup: historyBackups,
				Limit:      historyLimit,
			})
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(entries)
			}
			if len(entries) == 0 {
				warnColor.Println("No history recorded")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %-11s %-8s %-12s %s",
					e.CompletedAt.Local().Format("2006-01-02 15:04"),
					e.Kind,
					e.DistrictID,
					statusColor(e.Status).Sprint(e.Status),
					e.JobID)
				if e.Count > 0 {
					fmt.Printf("  (%d)", e.Count)
				}
				if e.BackupKey != "" {
					fmt.Printf("\n%19s backup %s", "", e.BackupKey)
				}
				if e.ErrorMessage != "" {
					fmt.Printf("\n%19s %s", "", badColor.Sprint(e.ErrorMessage))
				}
				fmt.Println()
			}
			return nil
		})
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <district>",
	Short: "Restore a district's cells from an apply backup",
	Long: `Restores the cells saved when a job was applied. Without --backup the
district's backups are listed, newest first. The restore goes through the same
atomic replace as an apply, so it is itself backed up and can be undone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			if rollbackBackup == "" {
				backups, err := a.jobs.Backups(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if outputJSON {
					return printJSON(backups)
				}
				if len(backups) == 0 {
					warnColor.Printf("No backups for %s\n", args[0])
					return nil
				}
				for _, b := range backups {
					fmt.Printf("%s  %8d  %s\n", b.ModTime.Local().Format("2006-01-02 15:04"), b.Size, b.Key)
				}
				return nil
			}

			res, err := a.jobs.Rollback(cmd.Context(), args[0], rollbackBackup)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(res)
			}
			goodColor.Printf("✓ Restored %d cells to %s\n", res.CommittedCount, args[0])
			if res.BackupKey != "" {
				printField("Undo with", "--backup "+res.BackupKey)
			}
			if res.NeedsGlobalNormalization {
				warnColor.Println("  Dataset bounds grew; run: paygrid normalize")
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(historyCmd, rollbackCmd)
	historyCmd.Flags().StringVar(&historyDistrict, "district", "", "Only this district")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum entries")
	historyCmd.Flags().BoolVar(&historyBackups, "backups", false, "Only entries that saved a backup")
	rollbackCmd.Flags().StringVar(&rollbackBackup, "backup", "", "Backup key to restore")
}
