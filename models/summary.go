package models

import "time"

// Metric is a single named aggregate computed over one column of tool output.
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// ItemSummary is the consolidated row for one successfully processed item.
type ItemSummary struct {
	ID         string    `json:"id"`
	RankMetric int       `json:"rank_metric"`
	CreatedAt  time.Time `json:"created_at"`
	AgeYears   float64   `json:"age_years"`
	Releases   int       `json:"releases"`
	Rows       int       `json:"rows"`
	Metrics    []Metric  `json:"metrics"`
}

// Metric returns the value of the named aggregate.
func (s *ItemSummary) Metric(name string) (float64, bool) {
	for _, m := range s.Metrics {
		if m.Name == name {
			return m.Value, true
		}
	}
	return 0, false
}
