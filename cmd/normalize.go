// cmd/normalize.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/paygrid/internal/schedule"
)

var normalizeInline bool

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Fill missing steps and lanes across every district",
	Long: `Starts a normalization run. Missing steps inside each lane are interpolated
(fill-down), then lanes a district lacks but the dataset knows are copied from
the district's nearest lane (fill-right). Document values are never changed.

By default the run is queued for a worker; --inline runs it in this process.
Only one run may be in flight at a time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			var job *schedule.NormalizationJob
			var err error
			if normalizeInline {
				job, err = a.normalizer.Normalize(cmd.Context())
			} else {
				job, err = a.normalizer.StartNormalization(cmd.Context())
			}
			if job != nil && outputJSON {
				if perr := printJSON(job); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			if outputJSON {
				return nil
			}
			if !normalizeInline {
				goodColor.Printf("✓ Normalization %s queued\n", job.JobID)
				return nil
			}
			printNormalization(job)
			return nil
		})
	},
}

var normalizeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether normalization is owed and recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			st, err := a.normalizer.GetNormalizationStatus(cmd.Context(), 5)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(st)
			}
			headerColor.Println("Normalization")
			if st.NeedsNormalization {
				printField("Needed", warnColor.Sprint("yes"))
			} else {
				printField("Needed", goodColor.Sprint("no"))
			}
			if !st.LastNormalizedAt.IsZero() {
				printField("Last run", st.LastNormalizedAt.Local().Format("2006-01-02 15:04"))
			}
			printField("Max step", st.MaxValues.MaxStep)
			printField("Lanes", len(st.MaxValues.EduCreditCombos))
			if st.Running != nil {
				printField("Running", fmt.Sprintf("%s since %s", st.Running.JobID, st.Running.StartedAt.Local().Format("15:04:05")))
			}
			for _, j := range st.Recent {
				fmt.Println()
				printNormalization(&j)
			}
			return nil
		})
	},
}

func printNormalization(j *schedule.NormalizationJob) {
	headerColor.Printf("Run %s\n", j.JobID)
	printField("Status", statusColor(string(j.Status)).Sprint(j.Status))
	printField("Created", fmt.Sprintf("%d (%d down, %d right)", j.RecordsCreated, j.FilledDown, j.FilledRight))
	if j.ErrorMessage != "" {
		printField("Error", badColor.Sprint(j.ErrorMessage))
	}
}

func init() {
	rootCmd.AddCommand(normalizeCmd)
	normalizeCmd.AddCommand(normalizeStatusCmd)
	normalizeCmd.Flags().BoolVar(&normalizeInline, "inline", false, "Run in this process and wait for the result")
}
