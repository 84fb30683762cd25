package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aluiziolira/go-repo-metrics/config"
)

var (
	configPath string
	verbose    bool
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "repometrics",
	Short: "Harvest popular repositories and aggregate static-analysis metrics",
	Long: `repometrics harvests a ranked list of repositories from the GitHub
GraphQL search API, materializes each one locally, runs the CK analysis tool
against it and writes one consolidated row of metrics per repository.

Configuration is layered: defaults, then the --config YAML file, then
REPOMETRICS_* environment variables, then command-line flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		loaded, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}
		cfg = loaded

		logger, level := newLogger(cfg.Verbose)
		slog.SetDefault(logger)
		slog.SetLogLoggerLevel(level.Level())
		return nil
	},
}

// Execute runs the root command and exits non-zero on a fatal error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("repometrics failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig layers defaults, file, environment and changed flags, then
// falls back to the GitHub CLI token and validates the result.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	c, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if err := applyFlags(c, flags); err != nil {
		return nil, err
	}
	if verbose {
		c.Verbose = true
	}
	c.ResolveToken()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// applyFlags copies only flags the user set, so unset flags never mask the
// file or environment.
func applyFlags(c *config.Config, flags *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func() error) {
		if err != nil {
			return
		}
		if f := flags.Lookup(name); f != nil && f.Changed {
			err = apply()
		}
	}

	set("query", func() (e error) { c.SearchQuery, e = flags.GetString("query"); return })
	set("target", func() (e error) { c.TargetCount, e = flags.GetInt("target"); return })
	set("page-size", func() (e error) { c.PageSize, e = flags.GetInt("page-size"); return })
	set("page-delay", func() (e error) { c.PageDelay, e = flags.GetDuration("page-delay"); return })
	set("items", func() (e error) { c.ItemsFile, e = flags.GetString("items"); return })
	set("workers", func() (e error) { c.Workers, e = flags.GetInt("workers"); return })
	set("clone-dir", func() (e error) { c.CloneDir, e = flags.GetString("clone-dir"); return })
	set("fetch-mode", func() (e error) { c.FetchMode, e = flags.GetString("fetch-mode"); return })
	set("tool-jar", func() (e error) { c.ToolJar, e = flags.GetString("tool-jar"); return })
	set("tool-timeout", func() (e error) { c.ToolTimeout, e = flags.GetDuration("tool-timeout"); return })
	set("results-dir", func() (e error) { c.ResultsDir, e = flags.GetString("results-dir"); return })
	set("output", func() (e error) { c.OutputFile, e = flags.GetString("output"); return })
	set("format", func() (e error) { c.OutputFormat, e = flags.GetString("format"); return })
	set("metrics-file", func() (e error) { c.MetricsFile, e = flags.GetString("metrics-file"); return })
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	return nil
}

func addHarvestFlags(cmd *cobra.Command) {
	d := config.DefaultConfig()
	cmd.Flags().String("query", d.SearchQuery, "search query sent to the listing API")
	cmd.Flags().IntP("target", "n", d.TargetCount, "number of repositories to harvest")
	cmd.Flags().Int("page-size", d.PageSize, "repositories requested per page (max 100)")
	cmd.Flags().Duration("page-delay", d.PageDelay, "pause between listing pages")
}

func addAnalyzeFlags(cmd *cobra.Command) {
	d := config.DefaultConfig()
	cmd.Flags().IntP("workers", "w", d.Workers, "concurrent repositories in flight")
	cmd.Flags().String("clone-dir", d.CloneDir, "directory holding one checkout per repository")
	cmd.Flags().String("fetch-mode", d.FetchMode, "how checkouts are materialized: git or archive")
	cmd.Flags().String("tool-jar", d.ToolJar, "path or glob of the CK jar")
	cmd.Flags().Duration("tool-timeout", d.ToolTimeout, "maximum duration of one tool run")
	cmd.Flags().String("results-dir", d.ResultsDir, "directory for per-repository tool output")
	cmd.Flags().StringP("output", "o", d.OutputFile, "consolidated metrics file")
	cmd.Flags().StringP("format", "f", d.OutputFormat, "output format: csv, json, or dual")
}

func addCommonFlags(cmd *cobra.Command) {
	d := config.DefaultConfig()
	cmd.Flags().String("items", d.ItemsFile, "repository list file")
	cmd.Flags().String("metrics-file", d.MetricsFile, "write Prometheus metrics to this textfile when the command ends")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
