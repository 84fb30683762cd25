package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-repo-metrics/client"
	"github.com/aluiziolira/go-repo-metrics/config"
	"github.com/aluiziolira/go-repo-metrics/harvest"
	"github.com/aluiziolira/go-repo-metrics/metrics"
	"github.com/aluiziolira/go-repo-metrics/models"
	"github.com/aluiziolira/go-repo-metrics/pipeline"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Harvest the ranked repository list and write the items file",
	Long: `Harvest pages through the search listing until --target repositories
are collected or the listing runs out, then writes them in ranking order to
the items file.

Examples:
  repometrics harvest -n 1000
  repometrics harvest --query "language:Go sort:stars-desc" --items go.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		m := metrics.New()
		defer exportMetrics(cfg, m)

		result, err := harvestItems(ctx, cfg, m)
		printHarvestSummary(result, cfg.ItemsFile)
		return err
	},
}

func init() {
	addHarvestFlags(harvestCmd)
	addCommonFlags(harvestCmd)
	rootCmd.AddCommand(harvestCmd)
}

// harvestItems runs the harvester and writes whatever it collected to the
// items file. A malformed page only truncates the list; any other harvest
// error is returned after the partial list is saved.
func harvestItems(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*models.HarvestResult, error) {
	if cfg.Token == "" {
		slog.Warn("no API token configured; the search API will reject anonymous requests")
	}
	c, err := client.New(cfg, client.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	h := harvest.New(cfg, c, harvest.WithMetrics(m))

	slog.Info("starting harvest",
		slog.String("query", cfg.SearchQuery),
		slog.Int("target", cfg.TargetCount),
		slog.Int("page_size", cfg.PageSize),
	)
	result, harvestErr := h.Harvest(ctx, cfg.TargetCount, cfg.PageSize)

	var malformed harvest.ErrMalformedResponse
	if errors.As(harvestErr, &malformed) {
		slog.Warn("harvest stopped on a malformed page, keeping partial list",
			slog.Int("page", malformed.Page),
			slog.Int("collected", len(result.Items)),
		)
		harvestErr = nil
	}

	if result != nil && (harvestErr == nil || len(result.Items) > 0) {
		if err := pipeline.WriteItems(cfg.ItemsFile, result.Items, time.Now()); err != nil {
			return result, errors.Join(harvestErr, fmt.Errorf("write items file: %w", err))
		}
	}
	if harvestErr != nil {
		return result, fmt.Errorf("harvest: %w", harvestErr)
	}
	if len(result.Items) < cfg.TargetCount {
		slog.Warn("listing exhausted before target",
			slog.Int("collected", len(result.Items)),
			slog.Int("target", cfg.TargetCount),
		)
	}
	return result, nil
}
