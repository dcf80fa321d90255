// cmd/output.go
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
	labelColor  = color.New(color.Bold)
)

var outputJSON bool

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// statusColor picks a color for a job or run status.
func statusColor(status string) *color.Color {
	switch status {
	case "completed", "success":
		return goodColor
	case "failed":
		return badColor
	case "pending", "processing", "running", "retry":
		return warnColor
	}
	return labelColor
}

func printField(label string, value any) {
	fmt.Printf("  %s %v\n", labelColor.Sprintf("%-20s", label+":"), value)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "output-json", false, "Print results as JSON")
}
