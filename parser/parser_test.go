package parser

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-repo-metrics/config"
	"github.com/aluiziolira/go-repo-metrics/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func testParser(aggs ...Aggregation) *ResultParser {
	p := New(config.DefaultConfig())
	p.now = func() time.Time { return fixedNow }
	if len(aggs) > 0 {
		p.Aggregations = aggs
	}
	return p
}

func testItem() models.ItemDescriptor {
	return models.ItemDescriptor{
		ID:         "acme/widgets",
		RankMetric: 1200,
		CreatedAt:  time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
		Releases:   7,
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func metric(t *testing.T, s *models.ItemSummary, name string) float64 {
	t.Helper()
	v, ok := s.Metric(name)
	require.True(t, ok, "metric %s missing", name)
	return v
}

func TestParseAggregatesClassFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "class.csv", "file,class,cboModified,wmc,loc,dit,lcom,hasJavaDoc\n"+
		"A.java,A,2,5,100,1,0,true\n"+
		"B.java,B,4,7,50,3,10,false\n"+
		"C.java,C,6,3,30,2,2,true\n"+
		"D.java,D,8,1,20,1,4,false\n")

	s, err := testParser().Parse(dir, testItem())
	require.NoError(t, err)

	assert.Equal(t, "acme/widgets", s.ID)
	assert.Equal(t, 1200, s.RankMetric)
	assert.Equal(t, 7, s.Releases)
	assert.Equal(t, 4, s.Rows)
	assert.InDelta(t, 10.01, s.AgeYears, 0.001)

	assert.InDelta(t, 5.0, metric(t, s, "cbo_mean"), 1e-9)
	assert.InDelta(t, 20.0, metric(t, s, "cbo_sum"), 1e-9)
	assert.InDelta(t, math.Sqrt(20.0/3.0), metric(t, s, "cbo_std"), 1e-9)
	assert.InDelta(t, 16.0, metric(t, s, "wmc_sum"), 1e-9)
	assert.InDelta(t, 200.0, metric(t, s, "loc_total"), 1e-9)
	assert.InDelta(t, 50.0, metric(t, s, "loc_mean"), 1e-9)
	assert.InDelta(t, 1.75, metric(t, s, "dit_mean"), 1e-9)
	assert.InDelta(t, 3.0, metric(t, s, "dit_max"), 1e-9)
	assert.InDelta(t, 3.0, metric(t, s, "lcom_median"), 1e-9)
	assert.InDelta(t, 0.5, metric(t, s, "hasJavaDoc_ratio"), 1e-9)
}

func TestParseMissingColumnIsZero(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "class.csv", "class,wmc\nA,3\nB,5\n")

	s, err := testParser().Parse(dir, testItem())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Rows)
	assert.Len(t, s.Metrics, len(DefaultAggregations()))
	assert.Zero(t, metric(t, s, "cbo_mean"))
	assert.Zero(t, metric(t, s, "hasJavaDoc_ratio"))
	assert.InDelta(t, 4.0, metric(t, s, "wmc_mean"), 1e-9)
}

func TestParseMetricOrderFollowsAggregations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "class.csv", "loc\n1\n")
	aggs := []Aggregation{
		{Name: "z_loc", Column: "loc", Stat: StatSum},
		{Name: "a_loc", Column: "loc", Stat: StatMean},
	}
	s, err := testParser(aggs...).Parse(dir, testItem())
	require.NoError(t, err)
	require.Len(t, s.Metrics, 2)
	assert.Equal(t, "z_loc", s.Metrics[0].Name)
	assert.Equal(t, "a_loc", s.Metrics[1].Name)
}

func TestParseFallsBackToFirstCSV(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "method.csv", "loc\n5\n")
	writeFile(t, dir, "field.csv", "loc\n9\n")
	writeFile(t, dir, "notes.txt", "ignored")

	s, err := testParser(Aggregation{Name: "loc_sum", Column: "loc", Stat: StatSum}).Parse(dir, testItem())
	require.NoError(t, err)
	assert.InDelta(t, 9.0, metric(t, s, "loc_sum"), 1e-9)
}

func TestParseNoOutput(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "log.txt", "tool crashed")

	_, err := testParser().Parse(dir, testItem())
	var noOutput ErrNoOutput
	require.ErrorAs(t, err, &noOutput)
	assert.Equal(t, dir, noOutput.Dir)
}

func TestParseEmptyOutput(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "zero bytes", content: ""},
		{name: "header only", content: "class,cbo,wmc\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "class.csv", tt.content)
			_, err := testParser().Parse(dir, testItem())
			var empty ErrEmptyOutput
			assert.ErrorAs(t, err, &empty)
		})
	}
}

func TestParseMalformedOutput(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "class.csv", "class,loc\n\"A,1\n")

	_, err := testParser().Parse(dir, testItem())
	var malformed ErrMalformedOutput
	assert.ErrorAs(t, err, &malformed)
}

func TestParseSkipsUnparseableCells(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "class.csv", "\ufeffclass,loc\nA,10\nB,n/a\nC,\nD,20\n")

	s, err := testParser(
		Aggregation{Name: "loc_mean", Column: "loc", Stat: StatMean},
		Aggregation{Name: "loc_sum", Column: "loc", Stat: StatSum},
	).Parse(dir, testItem())
	require.NoError(t, err)
	assert.Equal(t, 4, s.Rows)
	assert.InDelta(t, 15.0, metric(t, s, "loc_mean"), 1e-9)
	assert.InDelta(t, 30.0, metric(t, s, "loc_sum"), 1e-9)
}

func TestStddevSingleValueIsZero(t *testing.T) {
	assert.Zero(t, stddev([]float64{42}))
	assert.Zero(t, stddev(nil))
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
	assert.Zero(t, median(nil))
}

func TestValidateSummary(t *testing.T) {
	tests := []struct {
		name    string
		summary *models.ItemSummary
		wantErr bool
	}{
		{
			name:    "valid summary",
			summary: &models.ItemSummary{ID: "a/b", Metrics: []models.Metric{{Name: "x", Value: 1}}},
		},
		{name: "nil summary", summary: nil, wantErr: true},
		{name: "missing id", summary: &models.ItemSummary{ID: " "}, wantErr: true},
		{
			name:    "nan metric",
			summary: &models.ItemSummary{ID: "a/b", Metrics: []models.Metric{{Name: "x", Value: math.NaN()}}},
			wantErr: true,
		},
		{
			name:    "infinite metric",
			summary: &models.ItemSummary{ID: "a/b", Metrics: []models.Metric{{Name: "x", Value: math.Inf(1)}}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSummary(tt.summary)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		cell string
		want float64
		ok   bool
	}{
		{"12", 12, true},
		{" 3.5 ", 3.5, true},
		{"true", 1, true},
		{"FALSE", 0, true},
		{"", 0, false},
		{"NaN", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.cell)
		assert.Equal(t, tt.ok, ok, "cell %q", tt.cell)
		assert.Equal(t, tt.want, got, "cell %q", tt.cell)
	}
}

func TestTruthy(t *testing.T) {
	for _, cell := range []string{"true", "True", "1", "2.5", "yes"} {
		assert.True(t, Truthy(cell), cell)
	}
	for _, cell := range []string{"false", "0", "", "no", "abc"} {
		assert.False(t, Truthy(cell), cell)
	}
}
