// Package parser turns the analysis tool's CSV output into one summary row.
package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-repo-metrics/config"
	"github.com/aluiziolira/go-repo-metrics/models"
)

// Stat names an aggregate function over one column.
type Stat string

const (
	StatSum    Stat = "sum"
	StatMean   Stat = "mean"
	StatMedian Stat = "median"
	StatStd    Stat = "std"
	StatRatio  Stat = "ratio"
	StatMax    Stat = "max"
)

// Aggregation computes Stat over Column and reports it as Name.
type Aggregation struct {
	Name   string
	Column string
	Stat   Stat
}

// DefaultAggregations is the metric set written to the consolidated dataset.
func DefaultAggregations() []Aggregation {
	return []Aggregation{
		{Name: "cbo_mean", Column: "cboModified", Stat: StatMean},
		{Name: "cbo_sum", Column: "cboModified", Stat: StatSum},
		{Name: "cbo_std", Column: "cboModified", Stat: StatStd},
		{Name: "wmc_mean", Column: "wmc", Stat: StatMean},
		{Name: "wmc_sum", Column: "wmc", Stat: StatSum},
		{Name: "wmc_std", Column: "wmc", Stat: StatStd},
		{Name: "dit_mean", Column: "dit", Stat: StatMean},
		{Name: "dit_max", Column: "dit", Stat: StatMax},
		{Name: "lcom_mean", Column: "lcom", Stat: StatMean},
		{Name: "lcom_median", Column: "lcom", Stat: StatMedian},
		{Name: "loc_sum", Column: "loc", Stat: StatSum},
		{Name: "loc_mean", Column: "loc", Stat: StatMean},
		{Name: "loc_total", Column: "loc", Stat: StatSum},
		{Name: "fanout_sum", Column: "fanout", Stat: StatSum},
		{Name: "fanin_sum", Column: "fanin", Stat: StatSum},
		{Name: "loopQty_sum", Column: "loopQty", Stat: StatSum},
		{Name: "comparisonsQty_sum", Column: "comparisonsQty", Stat: StatSum},
		{Name: "methodsInvokedQty_sum", Column: "methodsInvokedQty", Stat: StatSum},
		{Name: "methodsInvokedLocalQty_sum", Column: "methodsInvokedLocalQty", Stat: StatSum},
		{Name: "methodsInvokedIndirectLocalQty_sum", Column: "methodsInvokedIndirectLocalQty", Stat: StatSum},
		{Name: "hasJavaDoc_ratio", Column: "hasJavaDoc", Stat: StatRatio},
	}
}

// ErrNoOutput means the tool wrote no CSV file at all.
type ErrNoOutput struct {
	Dir string
}

func (e ErrNoOutput) Error() string {
	return fmt.Sprintf("no tool output in %s", e.Dir)
}

// ErrEmptyOutput means the result file has no data rows.
type ErrEmptyOutput struct {
	File string
}

func (e ErrEmptyOutput) Error() string {
	return fmt.Sprintf("tool output %s has no rows", e.File)
}

// ErrMalformedOutput wraps a CSV decoding failure.
type ErrMalformedOutput struct {
	File string
	Err  error
}

func (e ErrMalformedOutput) Error() string {
	return fmt.Sprintf("malformed tool output %s: %v", e.File, e.Err)
}

func (e ErrMalformedOutput) Unwrap() error {
	return e.Err
}

// ResultParser reads one item's tool output directory.
type ResultParser struct {
	PrimaryFile  string
	Aggregations []Aggregation
	now          func() time.Time
}

// New builds a parser with the default aggregation set.
func New(cfg *config.Config) *ResultParser {
	return &ResultParser{
		PrimaryFile:  cfg.PrimaryResultFile,
		Aggregations: DefaultAggregations(),
		now:          time.Now,
	}
}

// Parse summarizes the result file in outputDir for item. A configured
// column absent from the file aggregates to zero.
func (p *ResultParser) Parse(outputDir string, item models.ItemDescriptor) (*models.ItemSummary, error) {
	file, err := p.resultFile(outputDir)
	if err != nil {
		return nil, err
	}
	columns, rows, err := readColumns(file, p.Aggregations)
	if err != nil {
		return nil, err
	}

	now := time.Now
	if p.now != nil {
		now = p.now
	}
	summary := &models.ItemSummary{
		ID:         item.ID,
		RankMetric: item.RankMetric,
		CreatedAt:  item.CreatedAt,
		AgeYears:   item.AgeYears(now()),
		Releases:   item.Releases,
		Rows:       rows,
		Metrics:    make([]models.Metric, 0, len(p.Aggregations)),
	}
	for _, agg := range p.Aggregations {
		summary.Metrics = append(summary.Metrics, models.Metric{
			Name:  agg.Name,
			Value: aggregate(agg.Stat, columns[agg.Column], rows),
		})
	}
	if err := ValidateSummary(summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// resultFile prefers the primary file and otherwise falls back to the first
// CSV in lexical order.
func (p *ResultParser) resultFile(dir string) (string, error) {
	if p.PrimaryFile != "" {
		primary := filepath.Join(dir, p.PrimaryFile)
		if info, err := os.Stat(primary); err == nil && info.Mode().IsRegular() {
			return primary, nil
		}
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return "", err
	}
	sort.Strings(matches)
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			return m, nil
		}
	}
	return "", ErrNoOutput{Dir: dir}
}

type column struct {
	values []float64
	truthy int
}

// readColumns collects the numeric cells of every aggregated column.
func readColumns(path string, aggs []Aggregation) (map[string]*column, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, ErrEmptyOutput{File: path}
	}
	if err != nil {
		return nil, 0, ErrMalformedOutput{File: path, Err: err}
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[NormalizeHeader(name)] = i
	}
	columns := make(map[string]*column)
	positions := make(map[string]int)
	for _, agg := range aggs {
		if i, ok := index[agg.Column]; ok {
			columns[agg.Column] = &column{}
			positions[agg.Column] = i
		}
	}

	rows := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, ErrMalformedOutput{File: path, Err: err}
		}
		rows++
		for name, i := range positions {
			if i >= len(record) {
				continue
			}
			cell := record[i]
			col := columns[name]
			if v, ok := ParseNumber(cell); ok {
				col.values = append(col.values, v)
			}
			if Truthy(cell) {
				col.truthy++
			}
		}
	}
	if rows == 0 {
		return nil, 0, ErrEmptyOutput{File: path}
	}
	return columns, rows, nil
}

func aggregate(stat Stat, col *column, rows int) float64 {
	if col == nil {
		return 0
	}
	values := col.values
	switch stat {
	case StatSum:
		return sum(values)
	case StatMean:
		if len(values) == 0 {
			return 0
		}
		return sum(values) / float64(len(values))
	case StatMedian:
		return median(values)
	case StatStd:
		return stddev(values)
	case StatRatio:
		if rows == 0 {
			return 0
		}
		return float64(col.truthy) / float64(rows)
	case StatMax:
		if len(values) == 0 {
			return 0
		}
		m := values[0]
		for _, v := range values[1:] {
			m = math.Max(m, v)
		}
		return m
	default:
		return 0
	}
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// stddev is the sample standard deviation; fewer than two values give 0.
func stddev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	mean := sum(values) / float64(n)
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(n-1))
}

// ValidateSummary ensures every aggregate is a finite number.
func ValidateSummary(s *models.ItemSummary) error {
	if s == nil {
		return fmt.Errorf("summary is nil")
	}
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("summary missing id")
	}
	for _, m := range s.Metrics {
		if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
			return fmt.Errorf("summary %s: metric %s is not finite", s.ID, m.Name)
		}
	}
	return nil
}

// NormalizeHeader strips whitespace and a UTF-8 byte order mark.
func NormalizeHeader(name string) string {
	return strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
}

// ParseNumber reads a numeric cell. Booleans count as 1 and 0.
func ParseNumber(cell string) (float64, bool) {
	cell = strings.TrimSpace(cell)
	switch strings.ToLower(cell) {
	case "":
		return 0, false
	case "true":
		return 1, true
	case "false":
		return 0, true
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Truthy reports whether a cell reads as a positive flag.
func Truthy(cell string) bool {
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case "true", "yes", "y", "t":
		return true
	case "", "false", "no", "n", "f":
		return false
	}
	v, ok := ParseNumber(cell)
	return ok && v != 0
}
