// cmd/query.go
package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/paygrid/internal/query"
	"github.com/aceteam-ai/paygrid/internal/schedule"
)

// laneFlags are shared by compare, lookup and export compare.
type laneFlags struct {
	education string
	credits   int
	step      int
	year      string
	period    string
}

func (f *laneFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.education, "education", "", "Education level: BA, MA or PhD (required)")
	cmd.Flags().IntVar(&f.credits, "credits", 0, "Credits beyond the degree")
	cmd.Flags().IntVar(&f.step, "step", 0, "Step (required)")
	cmd.Flags().StringVar(&f.year, "year", "", "School year, e.g. 2024-2025")
	cmd.Flags().StringVar(&f.period, "period", "", "Period (default: full-year)")
	cmd.MarkFlagRequired("education")
	cmd.MarkFlagRequired("step")
}

var (
	compareFlags   laneFlags
	compareLimit   int
	lookupFlags    laneFlags
	lookupDistrict string
	scheduleYear   string
	schedulePeriod string
)

var compareCmd = &cobra.Command{
	Use:     "compare",
	Short:   "Rank districts by salary at one lane and step",
	Example: `  paygrid compare --education MA --credits 30 --step 5 --limit 10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			cmp, err := a.queries.CompareAcrossDistricts(cmd.Context(), query.CompareRequest{
				Education: compareFlags.education,
				Credits:   compareFlags.credits,
				Step:      compareFlags.step,
				Year:      compareFlags.year,
				Period:    compareFlags.period,
				Limit:     compareLimit,
			})
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(cmp)
			}
			headerColor.Printf("%s step %d, %s %s\n", cmp.Lane, cmp.Step, cmp.Scope.SchoolYear, cmp.Scope.Period)
			if len(cmp.Results) == 0 {
				warnColor.Println("  No districts have a value here")
				return nil
			}
			for i, r := range cmp.Results {
				mark := ""
				if r.IsCalculated {
					mark = warnColor.Sprint(" (calculated)")
				}
				fmt.Printf("  %3d. %-20s %12.2f%s\n", i+1, r.DistrictID, r.Amount, mark)
			}
			return nil
		})
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Look up one district value, falling back to the nearest lane",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			res, err := a.queries.LookupDistrictValue(cmd.Context(), query.LookupRequest{
				DistrictID: lookupDistrict,
				Year:       lookupFlags.year,
				Period:     lookupFlags.period,
				Education:  lookupFlags.education,
				Credits:    lookupFlags.credits,
				Step:       lookupFlags.step,
			})
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(res)
			}
			fmt.Printf("%s %s step %d: %.2f\n", res.DistrictID, res.Lane, res.Step, res.Amount)
			if res.Fallback && res.SourceLane != nil {
				warnColor.Printf("  fallback from %s\n", res.SourceLane)
			}
			return nil
		})
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule <district>",
	Short: "Print a district's salary schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			cells, err := a.queries.GetDistrictSchedule(cmd.Context(), args[0], scheduleYear, schedulePeriod)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(cells)
			}
			if len(cells) == 0 {
				warnColor.Printf("No schedule stored for %s\n", args[0])
				return nil
			}
			printGrid(cells)
			return nil
		})
	},
}

// printGrid prints one steps-by-lanes table per scope. Calculated values
// are shown in yellow.
func printGrid(cells []schedule.Cell) {
	byScope := map[schedule.Scope][]schedule.Cell{}
	var scopes []schedule.Scope
	for _, c := range cells {
		s := c.Scope()
		if _, ok := byScope[s]; !ok {
			scopes = append(scopes, s)
		}
		byScope[s] = append(byScope[s], c)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].String() < scopes[j].String() })

	for _, s := range scopes {
		group := byScope[s]
		var lanes []schedule.Lane
		values := map[schedule.Lane]map[int]schedule.Cell{}
		maxStep := 0
		for _, c := range group {
			if values[c.Lane()] == nil {
				values[c.Lane()] = map[int]schedule.Cell{}
				lanes = append(lanes, c.Lane())
			}
			values[c.Lane()][c.Step] = c
			maxStep = max(maxStep, c.Step)
		}
		schedule.SortLanes(lanes)

		headerColor.Printf("\n%s %s\n", s.SchoolYear, s.Period)
		fmt.Printf("%-5s", "Step")
		for _, l := range lanes {
			fmt.Printf(" %14s", l)
		}
		fmt.Println()
		for step := 1; step <= maxStep; step++ {
			fmt.Printf("%-5d", step)
			for _, l := range lanes {
				c, ok := values[l][step]
				switch {
				case !ok:
					fmt.Printf(" %14s", "-")
				case c.IsCalculated:
					warnColor.Printf(" %14.2f", c.Amount)
				default:
					fmt.Printf(" %14.2f", c.Amount)
				}
			}
			fmt.Println()
		}
	}
}

func init() {
	rootCmd.AddCommand(compareCmd, lookupCmd, scheduleCmd)

	compareFlags.register(compareCmd)
	compareCmd.Flags().IntVar(&compareLimit, "limit", 10, "Number of districts (max 100)")

	lookupFlags.register(lookupCmd)
	lookupCmd.Flags().StringVar(&lookupDistrict, "district", "", "District id (required)")
	lookupCmd.MarkFlagRequired("district")
	lookupCmd.MarkFlagRequired("year")

	scheduleCmd.Flags().StringVar(&scheduleYear, "year", "", "Only this school year")
	scheduleCmd.Flags().StringVar(&schedulePeriod, "period", "", "Only this period")
}
