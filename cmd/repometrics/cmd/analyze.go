package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-repo-metrics/config"
	"github.com/aluiziolira/go-repo-metrics/fetch"
	"github.com/aluiziolira/go-repo-metrics/metrics"
	"github.com/aluiziolira/go-repo-metrics/models"
	"github.com/aluiziolira/go-repo-metrics/parser"
	"github.com/aluiziolira/go-repo-metrics/pipeline"
	"github.com/aluiziolira/go-repo-metrics/tool"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Fetch, analyze and aggregate every repository in the items file",
	Long: `Analyze reads the items file written by harvest, materializes each
repository, runs the CK tool on it and writes one row of aggregated metrics
per successful repository. Existing checkouts are reused, so an interrupted
run can be resumed.

Examples:
  repometrics analyze -w 4
  repometrics analyze --items go.csv --format dual -o output/go.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		m := metrics.New()
		defer exportMetrics(cfg, m)

		items, err := pipeline.ReadItems(cfg.ItemsFile)
		if err != nil {
			return err
		}
		report, err := analyzeItems(ctx, cfg, items, m)
		printRunSummary(report, cfg.OutputFile)
		return err
	},
}

func init() {
	addAnalyzeFlags(analyzeCmd)
	addCommonFlags(analyzeCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func analyzeItems(ctx context.Context, cfg *config.Config, items []models.ItemDescriptor, m *metrics.Metrics) (*models.RunReport, error) {
	fetcher, err := fetch.NewFromConfig(cfg, m)
	if err != nil {
		return nil, err
	}
	p := parser.New(cfg)
	columns := make([]string, 0, len(p.Aggregations))
	for _, agg := range p.Aggregations {
		columns = append(columns, agg.Name)
	}

	o := pipeline.New(cfg, fetcher, tool.New(cfg), p,
		pipeline.WithMetrics(m),
		pipeline.WithColumns(columns),
	)
	slog.Info("analyzing items", slog.Int("items", len(items)), slog.String("items_file", cfg.ItemsFile))
	report, err := o.Run(ctx, items)
	if err != nil {
		return report, fmt.Errorf("analyze: %w", err)
	}
	return report, nil
}
