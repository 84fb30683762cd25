// Package tool wraps the external static-analysis executable.
package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-repo-metrics/config"
)

// ErrToolUnavailable means no item can be analyzed: the runtime or the tool
// artifact is missing and could not be built.
type ErrToolUnavailable struct {
	Reason string
	Err    error
}

func (e ErrToolUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis tool unavailable: %s: %v", e.Reason, e.Err)
	}
	return "analysis tool unavailable: " + e.Reason
}

func (e ErrToolUnavailable) Unwrap() error {
	return e.Err
}

// ErrToolFailed reports a non-zero exit for one artifact.
type ErrToolFailed struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e ErrToolFailed) Error() string {
	msg := fmt.Sprintf("analysis tool exited with code %d", e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e ErrToolFailed) Unwrap() error {
	return e.Err
}

// ErrToolTimeout reports a run that exceeded its deadline and was killed.
type ErrToolTimeout struct {
	Timeout time.Duration
}

func (e ErrToolTimeout) Error() string {
	return fmt.Sprintf("analysis tool timed out after %s", e.Timeout)
}

func (e ErrToolTimeout) Unwrap() error {
	return context.DeadlineExceeded
}

const stderrTail = 2048

// Runner invokes the tool jar with flags that stay constant for every item.
type Runner struct {
	javaBin    string
	jarPattern string
	sourceDir  string
	repoURL    string
	mavenBin   string
	gitBin     string
	timeout    time.Duration
	useDeps    bool
	maxFiles   int
	detail     bool

	mu  sync.Mutex
	jar string
}

// New builds a runner from cfg. Check must succeed before Run is used.
func New(cfg *config.Config) *Runner {
	return &Runner{
		javaBin:    cfg.JavaBin,
		jarPattern: cfg.ToolJar,
		sourceDir:  cfg.ToolSourceDir,
		repoURL:    cfg.ToolRepoURL,
		mavenBin:   cfg.MavenBin,
		gitBin:     cfg.GitBin,
		timeout:    cfg.ToolTimeout,
		useDeps:    cfg.ToolUseDeps,
		maxFiles:   cfg.ToolMaxFiles,
		detail:     cfg.ToolVariableLevel,
	}
}

// Check resolves the runtime and the tool jar, building the jar from source
// when it is missing and a source dir is configured. It is safe to call more
// than once; later calls reuse the resolved jar.
func (r *Runner) Check(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jar != "" {
		return nil
	}

	if _, err := exec.LookPath(r.javaBin); err != nil {
		return ErrToolUnavailable{Reason: "runtime " + r.javaBin + " not found", Err: err}
	}

	jar, err := findJar(r.jarPattern)
	if err != nil {
		return ErrToolUnavailable{Reason: "invalid jar pattern", Err: err}
	}
	if jar == "" {
		if r.sourceDir == "" {
			return ErrToolUnavailable{Reason: "no jar matches " + r.jarPattern}
		}
		if err := r.build(ctx); err != nil {
			return ErrToolUnavailable{Reason: "build failed", Err: err}
		}
		if jar, err = findJar(r.jarPattern); err != nil || jar == "" {
			return ErrToolUnavailable{Reason: "build produced no jar matching " + r.jarPattern, Err: err}
		}
	}

	r.jar = jar
	slog.Info("analysis tool ready", slog.String("jar", jar))
	return nil
}

// Jar returns the resolved jar path, or "" before a successful Check.
func (r *Runner) Jar() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jar
}

func (r *Runner) build(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(r.sourceDir, "pom.xml")); err != nil {
		if r.repoURL == "" {
			return fmt.Errorf("no sources in %s and no repository configured", r.sourceDir)
		}
		slog.Info("cloning analysis tool sources", slog.String("repo", r.repoURL), slog.String("dir", r.sourceDir))
		if err := os.RemoveAll(r.sourceDir); err != nil {
			return err
		}
		if err := runCommand(ctx, "", r.gitBin, "clone", "--quiet", r.repoURL, r.sourceDir); err != nil {
			return fmt.Errorf("clone tool sources: %w", err)
		}
	}

	if _, err := exec.LookPath(r.mavenBin); err != nil {
		return fmt.Errorf("build tool %s not found: %w", r.mavenBin, err)
	}
	slog.Info("building analysis tool", slog.String("dir", r.sourceDir))
	if err := runCommand(ctx, r.sourceDir, r.mavenBin, "clean", "package", "-DskipTests"); err != nil {
		return fmt.Errorf("package tool: %w", err)
	}
	return nil
}

// Run analyzes artifactDir into a freshly emptied outputDir.
func (r *Runner) Run(ctx context.Context, artifactDir, outputDir string) error {
	jar := r.Jar()
	if jar == "" {
		return ErrToolUnavailable{Reason: "Check has not succeeded"}
	}

	if err := os.RemoveAll(outputDir); err != nil {
		return fmt.Errorf("clear output dir: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// The tool concatenates file names onto the output argument.
	out := filepath.Clean(outputDir) + string(os.PathSeparator)
	cmd := exec.CommandContext(runCtx, r.javaBin, "-jar", jar,
		artifactDir,
		strconv.FormatBool(r.useDeps),
		strconv.Itoa(r.maxFiles),
		strconv.FormatBool(r.detail),
		out,
	)
	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	slog.Debug("analysis tool finished",
		slog.String("input", artifactDir),
		slog.Duration("duration", time.Since(start)),
		slog.Any("error", err),
	)
	if err == nil {
		return nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return ErrToolTimeout{Timeout: r.timeout}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return ErrToolFailed{ExitCode: exitErr.ExitCode(), Stderr: stderr.String(), Err: err}
	}
	return ErrToolFailed{ExitCode: -1, Stderr: stderr.String(), Err: err}
}

// findJar returns the lexically last match so the highest version wins.
func findJar(pattern string) (string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	files := matches[:0]
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return "", nil
	}
	sort.Strings(files)
	return files[len(files)-1], nil
}

func runCommand(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		if msg := stderr.String(); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
