// Package pipeline fans harvested items out across a fixed worker pool and
// consolidates the per-item summaries into one dataset.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/aluiziolira/go-repo-metrics/config"
	"github.com/aluiziolira/go-repo-metrics/metrics"
	"github.com/aluiziolira/go-repo-metrics/models"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Fetcher materializes an item's artifact directory.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (string, error)
}

// Runner executes the analysis tool.
type Runner interface {
	Check(ctx context.Context) error
	Run(ctx context.Context, artifactDir, outputDir string) error
}

// Parser summarizes one tool output directory.
type Parser interface {
	Parse(outputDir string, item models.ItemDescriptor) (*models.ItemSummary, error)
}

// WriterFactory opens the output writer once the run has joined.
type WriterFactory func(columns []string) (OutputWriter, error)

// ErrPanicked wraps a panic recovered from one item task.
var ErrPanicked = errors.New("item task panicked")

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records stage timings and outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithWriterFactory replaces the writer built from the config.
func WithWriterFactory(f WriterFactory) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.newWriter = f
		}
	}
}

// WithColumns fixes the metric columns of the persisted dataset. Without it
// the columns follow the first summary.
func WithColumns(columns []string) Option {
	return func(o *Orchestrator) {
		o.columns = append([]string{}, columns...)
	}
}

// Orchestrator chains fetch, run and parse for every item.
type Orchestrator struct {
	cfg       *config.Config
	fetcher   Fetcher
	runner    Runner
	parser    Parser
	metrics   *metrics.Metrics
	newWriter WriterFactory
	columns   []string
	progress  *progress
}

// New builds an orchestrator. Results are written to cfg.OutputFile in
// cfg.OutputFormat unless a writer factory is supplied.
func New(cfg *config.Config, fetcher Fetcher, runner Runner, parser Parser, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		fetcher:  fetcher,
		runner:   runner,
		parser:   parser,
		progress: &progress{},
	}
	o.newWriter = func(columns []string) (OutputWriter, error) {
		return NewOutputWriter(cfg.OutputFormat, cfg.OutputFile, columns)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type taskResult struct {
	item      models.ItemDescriptor
	summary   *models.ItemSummary
	failure   *models.ItemFailure
	abandoned bool
}

// Run processes items and persists the consolidated dataset once every
// worker has returned. Per-item failures are recorded in the report and never
// returned as errors. The returned error is non-nil only when the tool is
// unusable, the dataset cannot be written, or ctx was cancelled; in the last
// case the report still holds everything completed before cancellation.
func (o *Orchestrator) Run(ctx context.Context, items []models.ItemDescriptor) (*models.RunReport, error) {
	report := &models.RunReport{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
	}
	defer func() {
		report.EndTime = time.Now()
	}()
	log := slog.With(slog.String("run_id", report.RunID))

	if err := o.runner.Check(ctx); err != nil {
		return report, fmt.Errorf("check analysis tool: %w", err)
	}

	workers := max(1, min(o.cfg.Workers, len(items)))
	log.Info("starting analysis", slog.Int("items", len(items)), slog.Int("workers", workers))

	o.progress.reset(len(items))
	stopProgress := o.StartProgressReporting(o.cfg.ProgressInterval)
	defer stopProgress()

	jobs := make(chan models.ItemDescriptor, len(items))
	for _, item := range items {
		jobs <- item
	}
	close(jobs)

	results := make(chan taskResult, workers)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for res := range results {
			o.collect(report, res)
		}
	}()

	var wg conc.WaitGroup
	for range workers {
		wg.Go(func() {
			for item := range jobs {
				results <- o.runTask(ctx, item)
			}
		})
	}
	wg.Wait()
	close(results)
	<-collected

	if err := o.persist(report.Dataset); err != nil {
		return report, err
	}

	log.Info("analysis finished",
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("abandoned", report.Abandoned),
	)
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (o *Orchestrator) collect(report *models.RunReport, res taskResult) {
	switch {
	case res.abandoned:
		report.Abandoned++
		o.metrics.IncItem("abandoned")
	case res.failure != nil:
		report.Failed++
		report.Failures = append(report.Failures, *res.failure)
		o.metrics.IncItem("failed")
		o.metrics.IncStageFailure(res.failure.Stage.String())
	default:
		report.Succeeded++
		report.Dataset = append(report.Dataset, res.summary)
		o.metrics.IncItem("succeeded")
	}
	o.progress.record(res)
}

// runTask drives one item through its states, turning a panic into a
// failure at the stage it happened in.
func (o *Orchestrator) runTask(ctx context.Context, item models.ItemDescriptor) taskResult {
	if ctx.Err() != nil {
		return taskResult{item: item, abandoned: true}
	}

	task := &itemTask{item: item, state: models.StatePending}
	var res taskResult
	var pc panics.Catcher
	pc.Try(func() {
		res = o.process(ctx, task)
	})
	if recovered := pc.Recovered(); recovered != nil {
		slog.Error("item task panicked",
			slog.String("id", item.ID),
			slog.String("stage", task.state.String()),
			slog.Any("panic", recovered.Value),
			slog.String("stack", string(recovered.Stack)),
		)
		return task.fail(fmt.Errorf("%w: %v", ErrPanicked, recovered.Value))
	}
	return res
}

func (o *Orchestrator) process(ctx context.Context, task *itemTask) taskResult {
	item := task.item

	task.advance(models.StateFetching)
	start := time.Now()
	artifactDir, err := o.fetcher.Fetch(ctx, item.ID)
	o.metrics.ObserveStage(models.StateFetching.String(), time.Since(start))
	if err != nil {
		return o.stageError(ctx, task, err)
	}

	task.advance(models.StateRunning)
	outputDir := filepath.Join(o.cfg.ResultsDir, filepath.Base(artifactDir))
	start = time.Now()
	err = o.runner.Run(ctx, artifactDir, outputDir)
	o.metrics.ObserveStage(models.StateRunning.String(), time.Since(start))
	if err != nil {
		return o.stageError(ctx, task, err)
	}

	task.advance(models.StateParsing)
	start = time.Now()
	summary, err := o.parser.Parse(outputDir, item)
	o.metrics.ObserveStage(models.StateParsing.String(), time.Since(start))
	if err != nil {
		return o.stageError(ctx, task, err)
	}

	task.advance(models.StateDone)
	slog.Info("item analyzed", slog.String("id", item.ID), slog.Int("rows", summary.Rows))
	return taskResult{item: item, summary: summary}
}

// stageError treats an error caused by cancellation as abandonment rather
// than an item failure.
func (o *Orchestrator) stageError(ctx context.Context, task *itemTask, err error) taskResult {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, ctx.Err())) {
		slog.Debug("item abandoned", slog.String("id", task.item.ID), slog.String("stage", task.state.String()))
		return taskResult{item: task.item, abandoned: true}
	}
	res := task.fail(err)
	slog.Warn("item failed",
		slog.String("id", task.item.ID),
		slog.String("stage", res.failure.Stage.String()),
		slog.Any("error", err),
	)
	return res
}

func (o *Orchestrator) persist(dataset []*models.ItemSummary) error {
	columns := o.columns
	if columns == nil && len(dataset) > 0 {
		for _, m := range dataset[0].Metrics {
			columns = append(columns, m.Name)
		}
	}

	writer, err := o.newWriter(columns)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	if err := writer.Write(dataset); err != nil {
		writer.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := writer.Validate(); err != nil {
		writer.Close()
		return fmt.Errorf("validate output: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	slog.Info("dataset written", slog.Int("rows", len(dataset)), slog.String("file", o.cfg.OutputFile))
	return nil
}

// itemTask tracks one item's position in the fetch, run, parse chain.
type itemTask struct {
	item  models.ItemDescriptor
	state models.ItemState
}

func (t *itemTask) advance(next models.ItemState) {
	if !models.CanTransition(t.state, next) {
		panic(fmt.Sprintf("illegal transition %s -> %s for %s", t.state, next, t.item.ID))
	}
	t.state = next
}

// fail records the failure at the current stage and moves to Failed.
func (t *itemTask) fail(err error) taskResult {
	stage := t.state
	if !t.state.IsTerminal() {
		t.state = models.StateFailed
	}
	return taskResult{
		item:    t.item,
		failure: &models.ItemFailure{ID: t.item.ID, Stage: stage, Err: err},
	}
}
