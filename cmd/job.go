// cmd/job.go
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/paygrid/internal/jobs"
	"github.com/aceteam-ai/paygrid/internal/schedule"
)

var (
	uploadDistrict   string
	uploadSchoolYear string
	jobPreview       int
)

var uploadCmd = &cobra.Command{
	Use:   "upload <contract.pdf>",
	Short: "Upload a contract PDF and queue its extraction",
	Example: `  paygrid upload --district D1 contract-2024.pdf
  paygrid upload --district D1 --school-year 2024-2025 scanned.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), false, func(a *app) error {
			job, err := a.jobs.CreateJob(cmd.Context(), jobs.CreateRequest{
				DistrictID:     uploadDistrict,
				Filename:       filepath.Base(args[0]),
				Data:           data,
				SchoolYearHint: uploadSchoolYear,
			})
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(job)
			}
			goodColor.Printf("✓ Job %s queued for district %s\n", job.JobID, job.DistrictID)
			fmt.Printf("  Check progress with: paygrid job get %s\n", job.JobID)
			return nil
		})
	},
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect, apply or reject extraction jobs",
}

var jobGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show a job and a preview of its staged rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			view, err := a.jobs.GetJob(cmd.Context(), args[0], jobPreview)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(view)
			}
			printJob(view)
			return nil
		})
	},
}

var jobApplyCmd = &cobra.Command{
	Use:   "apply <job-id>",
	Short: "Commit a completed job's staged rows to its district",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			res, err := a.jobs.ApplyJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(res)
			}
			goodColor.Printf("✓ Committed %d cells\n", res.CommittedCount)
			if res.BackupKey != "" {
				printField("Backup", res.BackupKey)
			}
			if res.NeedsGlobalNormalization {
				warnColor.Println("  Dataset bounds grew; run: paygrid normalize")
			}
			return nil
		})
	},
}

var jobRejectCmd = &cobra.Command{
	Use:     "reject <job-id>",
	Aliases: []string{"delete"},
	Short:   "Discard a job and its staged rows",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			if err := a.jobs.RejectJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			goodColor.Printf("✓ Job %s rejected\n", args[0])
			return nil
		})
	},
}

func printJob(v *jobs.View) {
	headerColor.Printf("Job %s\n", v.JobID)
	printField("District", v.DistrictID)
	printField("Status", statusColor(string(v.Status)).Sprint(v.Status))
	printField("File", v.Filename)
	if v.MethodUsed != "" {
		printField("Method", v.MethodUsed)
	}
	if v.Status == schedule.JobCompleted {
		printField("Rows", v.RecordCount)
		printField("Years", strings.Join(v.YearsFound, ", "))
	}
	if v.ErrorMessage != "" {
		printField("Error", badColor.Sprint(v.ErrorMessage))
	}
	printField("Expires", v.ExpiresAt.Local().Format("2006-01-02 15:04"))
	if len(v.Preview) == 0 {
		return
	}
	fmt.Println()
	headerColor.Printf("Preview (%d of %d rows)\n", len(v.Preview), v.RecordCount)
	for _, c := range v.Preview {
		fmt.Printf("  %s %-10s %-16s step %2d  %12.2f\n", c.SchoolYear, c.Period, c.Lane(), c.Step, c.Amount)
	}
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().StringVar(&uploadDistrict, "district", "", "District id (required)")
	uploadCmd.Flags().StringVar(&uploadSchoolYear, "school-year", "", "School year for rows whose year is not printed, e.g. 2024-2025")
	uploadCmd.MarkFlagRequired("district")

	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobGetCmd, jobApplyCmd, jobRejectCmd)
	jobGetCmd.Flags().IntVar(&jobPreview, "preview", 0, "Number of staged rows to show (default: jobs.preview_limit)")
}
