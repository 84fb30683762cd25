package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "REPOMETRICS_"

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key as a Go duration ("1s", "500ms").
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses key with strconv.ParseBool.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overlays REPOMETRICS_* variables and GITHUB_TOKEN onto c.
func (c *Config) ApplyEnv() error {
	if value, ok := EnvString("GITHUB_TOKEN"); ok {
		c.Token = value
	}

	strs := map[string]*string{
		"ENDPOINT":     &c.Endpoint,
		"TOKEN":        &c.Token,
		"QUERY":        &c.SearchQuery,
		"CLONE_DIR":    &c.CloneDir,
		"FETCH_MODE":   &c.FetchMode,
		"TOOL_JAR":     &c.ToolJar,
		"RESULTS_DIR":  &c.ResultsDir,
		"ITEMS_FILE":   &c.ItemsFile,
		"OUTPUT":       &c.OutputFile,
		"FORMAT":       &c.OutputFormat,
		"METRICS_FILE": &c.MetricsFile,
	}
	for suffix, dst := range strs {
		if value, ok := EnvString(EnvPrefix + suffix); ok {
			*dst = value
		}
	}

	ints := map[string]*int{
		"TARGET":       &c.TargetCount,
		"PAGE_SIZE":    &c.PageSize,
		"MAX_ATTEMPTS": &c.MaxAttempts,
		"WORKERS":      &c.Workers,
	}
	for suffix, dst := range ints {
		value, ok, err := EnvInt(EnvPrefix + suffix)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	durations := map[string]*time.Duration{
		"PAGE_DELAY":       &c.PageDelay,
		"RETRY_BACKOFF":    &c.RetryBackoff,
		"TIMEOUT":          &c.Timeout,
		"DOWNLOAD_TIMEOUT": &c.DownloadTimeout,
		"TOOL_TIMEOUT":     &c.ToolTimeout,
	}
	for suffix, dst := range durations {
		value, ok, err := EnvDuration(EnvPrefix + suffix)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	if value, ok, err := EnvBool(EnvPrefix + "VERBOSE"); err != nil {
		return err
	} else if ok {
		c.Verbose = value
	}
	return nil
}
