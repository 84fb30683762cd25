package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-repo-metrics/models"
)

// OutputWriter persists the consolidated dataset.
type OutputWriter interface {
	Write(summaries []*models.ItemSummary) error
	Close() error
	Validate() error
}

// Output formats accepted by NewOutputWriter.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatDual = "dual"
)

// NewOutputWriter opens the writer for format. Dual output writes the JSONL
// copy next to filename with a .jsonl extension.
func NewOutputWriter(format, filename string, columns []string) (OutputWriter, error) {
	switch format {
	case FormatCSV:
		return NewCSVWriter(filename, columns)
	case FormatJSON:
		return NewJSONWriter(filename)
	case FormatDual:
		csvWriter, err := NewCSVWriter(filename, columns)
		if err != nil {
			return nil, err
		}
		jsonWriter, err := NewJSONWriter(jsonlName(filename))
		if err != nil {
			csvWriter.Close()
			return nil, err
		}
		return newMultiWriter(csvWriter, jsonWriter), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

func jsonlName(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + ".jsonl"
}

// multiWriter sends every call to each writer in turn. A failing writer does
// not stop the others; all failures are joined.
type multiWriter struct {
	writers []OutputWriter
}

func newMultiWriter(writers ...OutputWriter) *multiWriter {
	return &multiWriter{writers: writers}
}

func (m *multiWriter) Write(summaries []*models.ItemSummary) error {
	return m.each(func(w OutputWriter) error { return w.Write(summaries) })
}

func (m *multiWriter) Close() error {
	return m.each(OutputWriter.Close)
}

func (m *multiWriter) Validate() error {
	return m.each(OutputWriter.Validate)
}

func (m *multiWriter) each(fn func(OutputWriter) error) error {
	var errs []error
	for _, w := range m.writers {
		if err := fn(w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// summaryHeader lists the fixed columns that precede the metric columns.
var summaryHeader = []string{"id", "stargazers", "createdAt", "age_years", "releases", "rows"}

// CSVWriter writes summaries to CSV, one metric per column.
type CSVWriter struct {
	file    *os.File
	writer  *csv.Writer
	columns []string
	mu      sync.Mutex
}

// NewCSVWriter truncates filename and writes the header row.
func NewCSVWriter(filename string, columns []string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	header := append(append([]string{}, summaryHeader...), columns...)
	if err := writer.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:    f,
		writer:  writer,
		columns: append([]string{}, columns...),
	}, nil
}

// Write appends summaries. A metric missing from a summary is left blank.
func (cw *CSVWriter) Write(summaries []*models.ItemSummary) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, s := range summaries {
		record := []string{
			s.ID,
			strconv.Itoa(s.RankMetric),
			s.CreatedAt.UTC().Format(time.RFC3339),
			formatFloat(s.AgeYears),
			strconv.Itoa(s.Releases),
			strconv.Itoa(s.Rows),
		}
		for _, name := range cw.columns {
			if v, ok := s.Metric(name); ok {
				record = append(record, formatFloat(v))
			} else {
				record = append(record, "")
			}
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the header reached the file.
func (cw *CSVWriter) Validate() error {
	info, err := cw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONWriter writes newline-delimited JSON summaries.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter truncates filename.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends summaries in JSONL format.
func (jw *JSONWriter) Write(summaries []*models.ItemSummary) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, s := range summaries {
		if err := jw.encoder.Encode(s); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate checks the file is still reachable. An empty dataset is a valid
// empty JSONL file.
func (jw *JSONWriter) Validate() error {
	if _, err := jw.file.Stat(); err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
