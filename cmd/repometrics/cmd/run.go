package cmd

import (
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-repo-metrics/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Harvest and analyze in one pass",
	Long: `Run harvests the repository list, writes the items file and then
analyzes every harvested repository.

Examples:
  repometrics run -n 100 -w 4
  repometrics run --config repometrics.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		m := metrics.New()
		defer exportMetrics(cfg, m)

		result, err := harvestItems(ctx, cfg, m)
		printHarvestSummary(result, cfg.ItemsFile)
		if err != nil {
			return err
		}

		report, err := analyzeItems(ctx, cfg, result.Items, m)
		printRunSummary(report, cfg.OutputFile)
		return err
	},
}

func init() {
	addHarvestFlags(runCmd)
	addAnalyzeFlags(runCmd)
	addCommonFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
