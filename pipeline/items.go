package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-repo-metrics/models"
	"github.com/aluiziolira/go-repo-metrics/parser"
)

var itemsHeader = []string{
	"nameWithOwner", "url", "createdAt", "updatedAt", "stargazers", "primaryLanguage",
	"releases", "mergedPullRequests", "issues", "closedIssues", "age_years",
}

// WriteItems overwrites filename with one row per descriptor, in order.
// age_years is computed at now.
func WriteItems(filename string, items []models.ItemDescriptor, now time.Time) error {
	if err := ensureDir(filename); err != nil {
		return err
	}
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create items file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(itemsHeader); err != nil {
		f.Close()
		return fmt.Errorf("write items header: %w", err)
	}
	for _, item := range items {
		record := []string{
			item.ID,
			item.URL,
			formatTime(item.CreatedAt),
			formatTime(item.UpdatedAt),
			strconv.Itoa(item.RankMetric),
			item.PrimaryLanguage,
			strconv.Itoa(item.Releases),
			strconv.Itoa(item.MergedPullRequests),
			strconv.Itoa(item.Issues),
			strconv.Itoa(item.ClosedIssues),
			formatFloat(item.AgeYears(now)),
		}
		if err := w.Write(record); err != nil {
			f.Close()
			return fmt.Errorf("write item %s: %w", item.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush items file: %w", err)
	}
	return f.Close()
}

// ReadItems loads descriptors written by WriteItems. Columns are matched by
// header name, so extra or reordered columns are tolerated; nameWithOwner and
// createdAt are required.
func ReadItems(filename string) ([]models.ItemDescriptor, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open items file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("items file %s is empty", filename)
	}
	if err != nil {
		return nil, fmt.Errorf("read items header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[parser.NormalizeHeader(name)] = i
	}
	for _, required := range []string{"nameWithOwner", "createdAt"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("items file missing %s column", required)
		}
	}

	var items []models.ItemDescriptor
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read items file: %w", err)
		}
		field := func(name string) string {
			if i, ok := index[name]; ok && i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}

		item := models.ItemDescriptor{
			ID:                 field("nameWithOwner"),
			URL:                field("url"),
			PrimaryLanguage:    field("primaryLanguage"),
			RankMetric:         atoi(field("stargazers")),
			Releases:           atoi(field("releases")),
			MergedPullRequests: atoi(field("mergedPullRequests")),
			Issues:             atoi(field("issues")),
			ClosedIssues:       atoi(field("closedIssues")),
		}
		if item.ID == "" {
			return nil, fmt.Errorf("items file line %d: empty nameWithOwner", line)
		}
		if item.CreatedAt, err = time.Parse(time.RFC3339, field("createdAt")); err != nil {
			return nil, fmt.Errorf("items file line %d: invalid createdAt: %w", line, err)
		}
		if updated := field("updatedAt"); updated != "" {
			if item.UpdatedAt, err = time.Parse(time.RFC3339, updated); err != nil {
				return nil, fmt.Errorf("items file line %d: invalid updatedAt: %w", line, err)
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
