// cmd/export.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/paygrid/internal/export"
	"github.com/aceteam-ai/paygrid/internal/query"
)

var (
	exportOut          string
	exportYear         string
	exportCompareFlags laneFlags
	exportCompareLimit int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write schedules or comparisons to an XLSX workbook",
}

var exportScheduleCmd = &cobra.Command{
	Use:   "schedule <district>",
	Short: "Export a district schedule, one sheet per year and period",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := exportOut
		if out == "" {
			out = args[0] + ".xlsx"
		}
		return withApp(cmd.Context(), false, func(a *app) error {
			data, err := export.NewService(a.queries, a.log).ScheduleXLSX(cmd.Context(), args[0], exportYear)
			if err != nil {
				return err
			}
			return writeExport(out, data)
		})
	},
}

var exportCompareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Export a ranked comparison",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := exportOut
		if out == "" {
			out = fmt.Sprintf("compare-%s-%d-step%d.xlsx", exportCompareFlags.education, exportCompareFlags.credits, exportCompareFlags.step)
		}
		return withApp(cmd.Context(), false, func(a *app) error {
			data, err := export.NewService(a.queries, a.log).CompareXLSX(cmd.Context(), query.CompareRequest{
				Education: exportCompareFlags.education,
				Credits:   exportCompareFlags.credits,
				Step:      exportCompareFlags.step,
				Year:      exportCompareFlags.year,
				Period:    exportCompareFlags.period,
				Limit:     exportCompareLimit,
			})
			if err != nil {
				return err
			}
			return writeExport(out, data)
		})
	},
}

func writeExport(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	goodColor.Printf("✓ Wrote %s (%d bytes)\n", path, len(data))
	return nil
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportScheduleCmd, exportCompareCmd)
	exportCmd.PersistentFlags().StringVarP(&exportOut, "out", "o", "", "Output file")

	exportScheduleCmd.Flags().StringVar(&exportYear, "year", "", "Only this school year")

	exportCompareFlags.register(exportCompareCmd)
	exportCompareCmd.Flags().IntVar(&exportCompareLimit, "limit", 100, "Number of districts (max 100)")
}
