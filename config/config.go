package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Fetch modes supported by the artifact fetcher.
const (
	FetchModeGit     = "git"
	FetchModeArchive = "archive"
)

// Config holds pipeline configuration. It is built once and handed to every
// component constructor.
type Config struct {
	// Remote listing.
	Endpoint      string
	Token         string
	SearchQuery   string
	TargetCount   int
	PageSize      int
	PageDelay     time.Duration
	Timeout       time.Duration
	MaxAttempts   int
	RetryBackoff  time.Duration
	UserAgent     string
	DedupeMaxSize int

	// Artifacts.
	CloneDir           string
	FetchMode          string
	GitBin             string
	CloneDepth         int
	CloneURLTemplate   string
	ArchiveURLTemplate string
	DownloadTimeout    time.Duration

	// External analysis tool.
	JavaBin           string
	ToolJar           string
	ToolSourceDir     string
	ToolRepoURL       string
	MavenBin          string
	ToolTimeout       time.Duration
	ToolUseDeps       bool
	ToolMaxFiles      int
	ToolVariableLevel bool
	ResultsDir        string
	PrimaryResultFile string

	// Orchestration and output.
	Workers          int
	ProgressInterval time.Duration
	ItemsFile        string
	OutputFile       string
	OutputFormat     string // csv, json, or dual
	MetricsFile      string
	Verbose          bool
}

// DefaultConfig returns defaults matching the public GitHub API and the CK tool.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:      "https://api.github.com/graphql",
		SearchQuery:   "language:Java sort:stars-desc",
		TargetCount:   1000,
		PageSize:      50,
		PageDelay:     time.Second,
		Timeout:       30 * time.Second,
		MaxAttempts:   3,
		RetryBackoff:  5 * time.Second,
		UserAgent:     "go-repo-metrics",
		DedupeMaxSize: 10000,

		CloneDir:           "clones",
		FetchMode:          FetchModeGit,
		GitBin:             "git",
		CloneDepth:         1,
		CloneURLTemplate:   "https://github.com/%s.git",
		ArchiveURLTemplate: "https://api.github.com/repos/%s/zipball",
		DownloadTimeout:    10 * time.Minute,

		JavaBin:           "java",
		ToolJar:           "ck_tool/target/ck-*-jar-with-dependencies.jar",
		ToolSourceDir:     "ck_tool",
		ToolRepoURL:       "https://github.com/mauricioaniche/ck",
		MavenBin:          "mvn",
		ToolTimeout:       30 * time.Minute,
		ToolUseDeps:       false,
		ToolMaxFiles:      0,
		ToolVariableLevel: false,
		ResultsDir:        "ck_results",
		PrimaryResultFile: "class.csv",

		Workers:          8,
		ProgressInterval: 30 * time.Second,
		ItemsFile:        "output/repos.csv",
		OutputFile:       "output/metrics.csv",
		OutputFormat:     "csv",
		MetricsFile:      "",
		Verbose:          false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	parsedURL, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("endpoint must include a host")
	}
	if strings.TrimSpace(c.SearchQuery) == "" {
		return fmt.Errorf("search query cannot be empty")
	}

	if c.TargetCount <= 0 {
		return fmt.Errorf("target count must be positive")
	}
	if c.PageSize <= 0 || c.PageSize > 100 {
		return fmt.Errorf("page size must be between 1 and 100")
	}
	if c.PageDelay < 0 {
		return fmt.Errorf("page delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}

	if c.CloneDir == "" {
		return fmt.Errorf("clone dir cannot be empty")
	}
	switch c.FetchMode {
	case FetchModeGit:
		if c.CloneDepth < 0 {
			return fmt.Errorf("clone depth cannot be negative")
		}
		if !strings.Contains(c.CloneURLTemplate, "%s") {
			return fmt.Errorf("clone url template must contain %%s")
		}
	case FetchModeArchive:
		if !strings.Contains(c.ArchiveURLTemplate, "%s") {
			return fmt.Errorf("archive url template must contain %%s")
		}
		if c.DownloadTimeout <= 0 {
			return fmt.Errorf("download timeout must be positive")
		}
	default:
		return fmt.Errorf("fetch mode must be %s or %s", FetchModeGit, FetchModeArchive)
	}

	if c.JavaBin == "" {
		return fmt.Errorf("java binary cannot be empty")
	}
	if c.ToolJar == "" {
		return fmt.Errorf("tool jar cannot be empty")
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("tool timeout must be positive")
	}
	if c.ToolMaxFiles < 0 {
		return fmt.Errorf("tool max files cannot be negative")
	}
	if c.ResultsDir == "" {
		return fmt.Errorf("results dir cannot be empty")
	}
	if c.PrimaryResultFile == "" {
		return fmt.Errorf("primary result file cannot be empty")
	}

	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("progress interval cannot be negative")
	}
	if c.ItemsFile == "" {
		return fmt.Errorf("items file cannot be empty")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}

	return nil
}
