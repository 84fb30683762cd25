// Package harvest walks the remote search listing page by page and turns it
// into validated item descriptors.
package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aluiziolira/go-repo-metrics/client"
	"github.com/aluiziolira/go-repo-metrics/config"
	"github.com/aluiziolira/go-repo-metrics/metrics"
	"github.com/aluiziolira/go-repo-metrics/models"
	lru "github.com/hashicorp/golang-lru/v2"
)

const searchQuery = `query($q: String!, $first: Int!, $after: String) {
  search(query: $q, type: REPOSITORY, first: $first, after: $after) {
    pageInfo {
      endCursor
      hasNextPage
    }
    edges {
      node {
        ... on Repository {
          nameWithOwner
          url
          createdAt
          updatedAt
          stargazerCount
          primaryLanguage { name }
          releases { totalCount }
          pullRequests(states: MERGED) { totalCount }
          issues { totalCount }
          closedIssues: issues(states: CLOSED) { totalCount }
        }
      }
    }
  }
  rateLimit {
    limit
    cost
    remaining
    resetAt
  }
}`

// ErrMalformedResponse reports a reply without the expected listing shape.
// Harvest returns it together with everything collected before that page.
type ErrMalformedResponse struct {
	Page   int
	Reason string
}

func (e ErrMalformedResponse) Error() string {
	return fmt.Sprintf("malformed response on page %d: %s", e.Page, e.Reason)
}

// Sender is the subset of client.Client the harvester needs.
type Sender interface {
	Send(ctx context.Context, req client.Request) (*client.Response, error)
}

// Option customises a Harvester.
type Option func(*Harvester)

// WithMetrics records pages and quota on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Harvester) {
		h.metrics = m
	}
}

// WithSleep replaces the inter-page sleeper.
func WithSleep(sleep client.SleepFunc) Option {
	return func(h *Harvester) {
		if sleep != nil {
			h.sleep = sleep
		}
	}
}

// WithHeader adds headers to every page request.
func WithHeader(header http.Header) Option {
	return func(h *Harvester) {
		for key, values := range header {
			for _, v := range values {
				h.header.Add(key, v)
			}
		}
	}
}

// Harvester drives a Sender across cursor pages.
type Harvester struct {
	cfg     *config.Config
	sender  Sender
	header  http.Header
	metrics *metrics.Metrics
	sleep   client.SleepFunc
}

// New builds a harvester. A configured token is sent as a bearer credential.
func New(cfg *config.Config, sender Sender, opts ...Option) *Harvester {
	h := &Harvester{
		cfg:    cfg,
		sender: sender,
		header: http.Header{},
		sleep:  client.Sleep,
	}
	if cfg.Token != "" {
		h.header.Set("Authorization", "Bearer "+cfg.Token)
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Harvest collects up to target descriptors, requesting at most pageSize per
// page. The result is ranked as the remote ranks it, holds no duplicate ids
// and is never longer than target. On error the partial result gathered so
// far is returned alongside it; cancellation is observed between pages only.
func (h *Harvester) Harvest(ctx context.Context, target, pageSize int) (*models.HarvestResult, error) {
	result := &models.HarvestResult{StartTime: time.Now()}
	defer func() {
		result.EndTime = time.Now()
	}()

	if target <= 0 {
		return result, fmt.Errorf("target count must be positive, got %d", target)
	}
	if pageSize <= 0 {
		return result, fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	// Every accepted id must stay in the set, so it never holds fewer than target.
	seen, err := lru.New[string, struct{}](max(h.cfg.DedupeMaxSize, target))
	if err != nil {
		return result, fmt.Errorf("create dedupe cache: %w", err)
	}
	visited := make(map[string]struct{})
	cursor := ""

	for len(result.Items) < target {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		first := min(pageSize, target-len(result.Items))
		pageNum := result.Pages + 1
		page, err := h.fetchPage(ctx, pageNum, cursor, first)
		if err != nil {
			return result, err
		}
		result.Pages = pageNum

		accepted := h.accept(result, page, target, seen)
		h.metrics.ObservePage(accepted)
		if page.rateLimit != nil {
			result.RateLimit = page.rateLimit
			h.metrics.SetRateLimitRemaining(page.rateLimit.Remaining)
			slog.Info("rate limit",
				slog.Int("remaining", page.rateLimit.Remaining),
				slog.Int("limit", page.rateLimit.Limit),
				slog.Time("reset_at", page.rateLimit.ResetAt),
			)
		}
		slog.Info("harvested page",
			slog.Int("page", pageNum),
			slog.Int("accepted", accepted),
			slog.Int("collected", len(result.Items)),
			slog.Int("target", target),
			slog.Bool("has_next", page.hasNext),
		)

		if !page.hasNext {
			result.Exhausted = true
			slog.Info("no more pages available", slog.Int("collected", len(result.Items)))
			break
		}
		if page.endCursor == "" {
			result.Exhausted = true
			slog.Warn("remote reported more pages without a cursor, stopping", slog.Int("page", pageNum))
			break
		}
		if _, ok := visited[page.endCursor]; ok {
			result.Exhausted = true
			slog.Warn("remote repeated a cursor, stopping",
				slog.Int("page", pageNum),
				slog.String("cursor", page.endCursor),
			)
			break
		}
		visited[page.endCursor] = struct{}{}
		cursor = page.endCursor

		if len(result.Items) >= target {
			break
		}
		if err := h.sleep(ctx, h.cfg.PageDelay); err != nil {
			return result, err
		}
	}

	return result, nil
}

type page struct {
	nodes     []repositoryNode
	endCursor string
	hasNext   bool
	rateLimit *models.RateLimit
}

func (h *Harvester) fetchPage(ctx context.Context, pageNum int, cursor string, first int) (*page, error) {
	variables := map[string]any{
		"q":     h.cfg.SearchQuery,
		"first": first,
		"after": nil,
	}
	if cursor != "" {
		variables["after"] = cursor
	}
	body, err := json.Marshal(map[string]any{
		"query":     searchQuery,
		"variables": variables,
	})
	if err != nil {
		return nil, fmt.Errorf("encode page %d request: %w", pageNum, err)
	}

	slog.Debug("requesting page",
		slog.Int("page", pageNum),
		slog.Int("first", first),
		slog.String("after", cursor),
	)
	resp, err := h.sender.Send(ctx, client.Request{Body: body, Header: h.header.Clone()})
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", pageNum, err)
	}

	var decoded searchResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, ErrMalformedResponse{Page: pageNum, Reason: err.Error()}
	}
	if decoded.Data == nil || decoded.Data.Search == nil {
		return nil, ErrMalformedResponse{Page: pageNum, Reason: "search listing missing from response"}
	}

	search := decoded.Data.Search
	p := &page{
		nodes:     make([]repositoryNode, 0, len(search.Edges)),
		hasNext:   search.PageInfo.HasNextPage,
		rateLimit: decoded.Data.RateLimit,
	}
	if search.PageInfo.EndCursor != nil {
		p.endCursor = *search.PageInfo.EndCursor
	}
	for _, edge := range search.Edges {
		if edge.Node != nil {
			p.nodes = append(p.nodes, *edge.Node)
		} else {
			p.nodes = append(p.nodes, repositoryNode{})
		}
	}
	return p, nil
}

// accept validates and appends the page's nodes, stopping at target.
func (h *Harvester) accept(result *models.HarvestResult, p *page, target int, seen *lru.Cache[string, struct{}]) int {
	accepted := 0
	for _, node := range p.nodes {
		if len(result.Items) >= target {
			break
		}
		item, err := node.descriptor()
		if err != nil {
			result.Invalid++
			slog.Warn("skipping invalid listing entry", slog.Any("error", err))
			continue
		}
		if seen.Contains(item.ID) {
			result.Duplicates++
			slog.Debug("skipping duplicate item", slog.String("id", item.ID))
			continue
		}
		seen.Add(item.ID, struct{}{})
		result.Items = append(result.Items, item)
		accepted++
	}
	return accepted
}

type searchResponse struct {
	Data *struct {
		Search *struct {
			PageInfo struct {
				EndCursor   *string `json:"endCursor"`
				HasNextPage bool    `json:"hasNextPage"`
			} `json:"pageInfo"`
			Edges []struct {
				Node *repositoryNode `json:"node"`
			} `json:"edges"`
		} `json:"search"`
		RateLimit *models.RateLimit `json:"rateLimit"`
	} `json:"data"`
}

type countNode struct {
	TotalCount int `json:"totalCount"`
}

type repositoryNode struct {
	NameWithOwner   string `json:"nameWithOwner"`
	URL             string `json:"url"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
	StargazerCount  int    `json:"stargazerCount"`
	PrimaryLanguage *struct {
		Name string `json:"name"`
	} `json:"primaryLanguage"`
	Releases     countNode `json:"releases"`
	PullRequests countNode `json:"pullRequests"`
	Issues       countNode `json:"issues"`
	ClosedIssues countNode `json:"closedIssues"`
}

func (n repositoryNode) descriptor() (models.ItemDescriptor, error) {
	id := strings.TrimSpace(n.NameWithOwner)
	owner, name, ok := strings.Cut(id, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return models.ItemDescriptor{}, fmt.Errorf("invalid nameWithOwner %q", n.NameWithOwner)
	}
	created, err := time.Parse(time.RFC3339, n.CreatedAt)
	if err != nil {
		return models.ItemDescriptor{}, fmt.Errorf("%s: invalid createdAt %q: %w", id, n.CreatedAt, err)
	}

	item := models.ItemDescriptor{
		ID:                 id,
		URL:                n.URL,
		RankMetric:         n.StargazerCount,
		CreatedAt:          created.UTC(),
		Releases:           n.Releases.TotalCount,
		MergedPullRequests: n.PullRequests.TotalCount,
		Issues:             n.Issues.TotalCount,
		ClosedIssues:       n.ClosedIssues.TotalCount,
	}
	if updated, err := time.Parse(time.RFC3339, n.UpdatedAt); err == nil {
		item.UpdatedAt = updated.UTC()
	}
	if n.PrimaryLanguage != nil {
		item.PrimaryLanguage = n.PrimaryLanguage.Name
	}
	return item, nil
}
