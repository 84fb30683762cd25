package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// fileConfig mirrors Config for YAML decoding. Pointers distinguish unset keys
// from zero values; durations are parsed with time.ParseDuration.
type fileConfig struct {
	Endpoint      *string `yaml:"endpoint"`
	Token         *string `yaml:"token"`
	SearchQuery   *string `yaml:"search_query"`
	TargetCount   *int    `yaml:"target_count"`
	PageSize      *int    `yaml:"page_size"`
	PageDelay     *string `yaml:"page_delay"`
	Timeout       *string `yaml:"timeout"`
	MaxAttempts   *int    `yaml:"max_attempts"`
	RetryBackoff  *string `yaml:"retry_backoff"`
	UserAgent     *string `yaml:"user_agent"`
	DedupeMaxSize *int    `yaml:"dedupe_max_size"`

	CloneDir           *string `yaml:"clone_dir"`
	FetchMode          *string `yaml:"fetch_mode"`
	GitBin             *string `yaml:"git_bin"`
	CloneDepth         *int    `yaml:"clone_depth"`
	CloneURLTemplate   *string `yaml:"clone_url_template"`
	ArchiveURLTemplate *string `yaml:"archive_url_template"`
	DownloadTimeout    *string `yaml:"download_timeout"`

	JavaBin           *string `yaml:"java_bin"`
	ToolJar           *string `yaml:"tool_jar"`
	ToolSourceDir     *string `yaml:"tool_source_dir"`
	ToolRepoURL       *string `yaml:"tool_repo_url"`
	MavenBin          *string `yaml:"maven_bin"`
	ToolTimeout       *string `yaml:"tool_timeout"`
	ToolUseDeps       *bool   `yaml:"tool_use_deps"`
	ToolMaxFiles      *int    `yaml:"tool_max_files"`
	ToolVariableLevel *bool   `yaml:"tool_variable_level"`
	ResultsDir        *string `yaml:"results_dir"`
	PrimaryResultFile *string `yaml:"primary_result_file"`

	Workers          *int    `yaml:"workers"`
	ProgressInterval *string `yaml:"progress_interval"`
	ItemsFile        *string `yaml:"items_file"`
	OutputFile       *string `yaml:"output_file"`
	OutputFormat     *string `yaml:"output_format"`
	MetricsFile      *string `yaml:"metrics_file"`
	Verbose          *bool   `yaml:"verbose"`
}

// Load returns DefaultConfig overlaid with the YAML file at path. An empty
// path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := cfg.merge(data); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) merge(data []byte) error {
	var fc fileConfig
	if err := yaml.UnmarshalWithOptions(data, &fc, yaml.DisallowUnknownField()); err != nil {
		return err
	}

	setString(&c.Endpoint, fc.Endpoint)
	setString(&c.Token, fc.Token)
	setString(&c.SearchQuery, fc.SearchQuery)
	setInt(&c.TargetCount, fc.TargetCount)
	setInt(&c.PageSize, fc.PageSize)
	setInt(&c.MaxAttempts, fc.MaxAttempts)
	setString(&c.UserAgent, fc.UserAgent)
	setInt(&c.DedupeMaxSize, fc.DedupeMaxSize)

	setString(&c.CloneDir, fc.CloneDir)
	setString(&c.FetchMode, fc.FetchMode)
	setString(&c.GitBin, fc.GitBin)
	setInt(&c.CloneDepth, fc.CloneDepth)
	setString(&c.CloneURLTemplate, fc.CloneURLTemplate)
	setString(&c.ArchiveURLTemplate, fc.ArchiveURLTemplate)

	setString(&c.JavaBin, fc.JavaBin)
	setString(&c.ToolJar, fc.ToolJar)
	setString(&c.ToolSourceDir, fc.ToolSourceDir)
	setString(&c.ToolRepoURL, fc.ToolRepoURL)
	setString(&c.MavenBin, fc.MavenBin)
	setBool(&c.ToolUseDeps, fc.ToolUseDeps)
	setInt(&c.ToolMaxFiles, fc.ToolMaxFiles)
	setBool(&c.ToolVariableLevel, fc.ToolVariableLevel)
	setString(&c.ResultsDir, fc.ResultsDir)
	setString(&c.PrimaryResultFile, fc.PrimaryResultFile)

	setInt(&c.Workers, fc.Workers)
	setString(&c.ItemsFile, fc.ItemsFile)
	setString(&c.OutputFile, fc.OutputFile)
	setString(&c.OutputFormat, fc.OutputFormat)
	setString(&c.MetricsFile, fc.MetricsFile)
	setBool(&c.Verbose, fc.Verbose)

	durations := []struct {
		name string
		dst  *time.Duration
		src  *string
	}{
		{"page_delay", &c.PageDelay, fc.PageDelay},
		{"timeout", &c.Timeout, fc.Timeout},
		{"retry_backoff", &c.RetryBackoff, fc.RetryBackoff},
		{"download_timeout", &c.DownloadTimeout, fc.DownloadTimeout},
		{"tool_timeout", &c.ToolTimeout, fc.ToolTimeout},
		{"progress_interval", &c.ProgressInterval, fc.ProgressInterval},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		value, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = value
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
