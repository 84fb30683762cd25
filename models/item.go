// Package models defines data structures shared across the harvesting pipeline.
package models

import (
	"math"
	"time"
)

// ItemDescriptor is one harvested repository. It is validated once by the
// harvester and treated as read-only afterwards.
type ItemDescriptor struct {
	ID                 string    `csv:"nameWithOwner" json:"id"`
	URL                string    `csv:"url" json:"url"`
	RankMetric         int       `csv:"stargazers" json:"rank_metric"`
	CreatedAt          time.Time `csv:"createdAt" json:"created_at"`
	UpdatedAt          time.Time `csv:"updatedAt" json:"updated_at"`
	PrimaryLanguage    string    `csv:"primaryLanguage" json:"primary_language,omitempty"`
	Releases           int       `csv:"releases" json:"releases"`
	MergedPullRequests int       `csv:"mergedPullRequests" json:"merged_pull_requests"`
	Issues             int       `csv:"issues" json:"issues"`
	ClosedIssues       int       `csv:"closedIssues" json:"closed_issues"`
}

// AgeYears returns the repository age at now, in 365-day years rounded to two decimals.
func (d ItemDescriptor) AgeYears(now time.Time) float64 {
	if d.CreatedAt.IsZero() {
		return 0
	}
	years := now.Sub(d.CreatedAt).Hours() / (24 * 365)
	return math.Round(years*100) / 100
}

// RateLimit is the remote's quota report attached to a listing page.
type RateLimit struct {
	Limit     int       `json:"limit"`
	Cost      int       `json:"cost"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// HarvestResult holds the outcome of a pagination run.
type HarvestResult struct {
	Items      []ItemDescriptor
	Pages      int
	Exhausted  bool
	Duplicates int
	Invalid    int
	RateLimit  *RateLimit
	StartTime  time.Time
	EndTime    time.Time
}
