package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-repo-metrics/config"
	"github.com/aluiziolira/go-repo-metrics/metrics"
	"github.com/aluiziolira/go-repo-metrics/models"
)

const separator = "--------------------------------------------------"

func printHarvestSummary(result *models.HarvestResult, itemsFile string) {
	if result == nil {
		return
	}
	fmt.Println("\n" + separator)
	fmt.Println("Harvest complete")
	fmt.Printf("  Items:         %d\n", len(result.Items))
	fmt.Printf("  Pages:         %d\n", result.Pages)
	fmt.Printf("  Exhausted:     %t\n", result.Exhausted)
	if result.Duplicates > 0 || result.Invalid > 0 {
		fmt.Printf("  Skipped:       %d duplicate, %d invalid\n", result.Duplicates, result.Invalid)
	}
	if rl := result.RateLimit; rl != nil {
		fmt.Printf("  Rate limit:    %d/%d remaining, resets %s\n", rl.Remaining, rl.Limit, rl.ResetAt.Local().Format("15:04:05"))
	}
	fmt.Printf("  Duration:      %v\n", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	fmt.Printf("  Items file:    %s\n", itemsFile)
	fmt.Println(separator)
}

func printRunSummary(report *models.RunReport, outputFile string) {
	if report == nil {
		return
	}
	fmt.Println("\n" + separator)
	fmt.Println("Analysis complete")
	fmt.Printf("  Run ID:        %s\n", report.RunID)
	fmt.Printf("  Succeeded:     %d\n", report.Succeeded)
	fmt.Printf("  Failed:        %d\n", report.Failed)
	if report.Abandoned > 0 {
		fmt.Printf("  Abandoned:     %d\n", report.Abandoned)
	}
	for _, f := range report.Failures {
		fmt.Printf("    %s (%s): %v\n", f.ID, f.Stage, f.Err)
	}
	fmt.Printf("  Duration:      %v\n", report.EndTime.Sub(report.StartTime).Round(time.Millisecond))
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}

func exportMetrics(cfg *config.Config, m *metrics.Metrics) {
	if cfg.MetricsFile == "" {
		return
	}
	if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
		slog.Error("write metrics textfile", slog.Any("error", err))
		return
	}
	slog.Info("metrics written", slog.String("file", cfg.MetricsFile))
}
