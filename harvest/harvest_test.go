package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-repo-metrics/client"
	"github.com/aluiziolira/go-repo-metrics/config"
	"github.com/aluiziolira/go-repo-metrics/metrics"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEndpoint = "https://api.example.test/graphql"

type pageRequest struct {
	First int
	After *string
	Auth  string
}

// listing serves a ranked repository search over n items, cursor "cursor-<offset>".
type listing struct {
	mu       sync.Mutex
	n        int
	requests []pageRequest
}

func (l *listing) respond(req *http.Request) (*http.Response, error) {
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Query     string `json:"query"`
		Variables struct {
			Q     string  `json:"q"`
			First int     `json:"first"`
			After *string `json:"after"`
		} `json:"variables"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
	}

	l.mu.Lock()
	l.requests = append(l.requests, pageRequest{
		First: payload.Variables.First,
		After: payload.Variables.After,
		Auth:  req.Header.Get("Authorization"),
	})
	l.mu.Unlock()

	offset := 0
	if payload.Variables.After != nil {
		offset, err = strconv.Atoi(strings.TrimPrefix(*payload.Variables.After, "cursor-"))
		if err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, "bad cursor"), nil
		}
	}
	end := min(offset+payload.Variables.First, l.n)

	edges := make([]string, 0, end-offset)
	for i := offset; i < end; i++ {
		edges = append(edges, repoNode(i+1))
	}
	body := fmt.Sprintf(`{"data":{"search":{"pageInfo":{"endCursor":"cursor-%d","hasNextPage":%t},"edges":[%s]},"rateLimit":{"limit":5000,"cost":1,"remaining":%d,"resetAt":"2025-01-01T00:00:00Z"}}}`,
		end, end < l.n, strings.Join(edges, ","), 5000-len(l.requests))
	return httpmock.NewStringResponse(http.StatusOK, body), nil
}

func (l *listing) calls() []pageRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]pageRequest, len(l.requests))
	copy(out, l.requests)
	return out
}

func repoNode(rank int) string {
	return fmt.Sprintf(`{"node":{"nameWithOwner":"owner%d/repo%d","url":"https://github.com/owner%d/repo%d","createdAt":"2015-06-01T00:00:00Z","updatedAt":"2024-06-01T00:00:00Z","stargazerCount":%d,"primaryLanguage":{"name":"Java"},"releases":{"totalCount":%d},"pullRequests":{"totalCount":10},"issues":{"totalCount":20},"closedIssues":{"totalCount":15}}}`,
		rank, rank, rank, rank, 100000-rank, rank)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) calls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Endpoint = testEndpoint
	cfg.PageDelay = time.Second
	cfg.RetryBackoff = time.Millisecond
	cfg.Token = "test-token"
	return cfg
}

func newHarvester(t *testing.T, cfg *config.Config, responder httpmock.Responder) (*Harvester, *httpmock.MockTransport, *sleepRecorder) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, cfg.Endpoint, responder)

	noSleep := func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	c, err := client.New(cfg, client.WithTransport(transport), client.WithSleep(noSleep))
	require.NoError(t, err)

	recorder := &sleepRecorder{}
	h := New(cfg, c, WithSleep(recorder.sleep), WithMetrics(metrics.New()))
	return h, transport, recorder
}

func TestHarvestExampleScenario(t *testing.T) {
	cfg := testConfig()
	l := &listing{n: 5}
	h, transport, recorder := newHarvester(t, cfg, l.respond)

	result, err := h.Harvest(context.Background(), 5, 2)
	require.NoError(t, err)

	require.Len(t, result.Items, 5)
	for i, item := range result.Items {
		assert.Equal(t, fmt.Sprintf("owner%d/repo%d", i+1, i+1), item.ID)
	}
	assert.Equal(t, 3, result.Pages)
	assert.Equal(t, 3, transport.GetTotalCallCount())
	assert.Equal(t, []time.Duration{cfg.PageDelay, cfg.PageDelay}, recorder.calls())

	calls := l.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, 2, calls[0].First)
	assert.Nil(t, calls[0].After)
	assert.Equal(t, 2, calls[1].First)
	require.NotNil(t, calls[1].After)
	assert.Equal(t, "cursor-2", *calls[1].After)
	assert.Equal(t, 1, calls[2].First)
	require.NotNil(t, calls[2].After)
	assert.Equal(t, "cursor-4", *calls[2].After)
	assert.Equal(t, "Bearer test-token", calls[0].Auth)
}

func TestHarvestCompleteness(t *testing.T) {
	cfg := testConfig()
	l := &listing{n: 20}
	h, _, _ := newHarvester(t, cfg, l.respond)

	result, err := h.Harvest(context.Background(), 7, 3)
	require.NoError(t, err)

	require.Len(t, result.Items, 7)
	seen := make(map[string]bool)
	for _, item := range result.Items {
		assert.False(t, seen[item.ID], "duplicate id %s", item.ID)
		seen[item.ID] = true
	}
	assert.False(t, result.Exhausted)
	assert.Equal(t, 3, result.Pages)

	firsts := []int{}
	for _, c := range l.calls() {
		firsts = append(firsts, c.First)
	}
	assert.Equal(t, []int{3, 3, 1}, firsts)
}

func TestHarvestShortResult(t *testing.T) {
	cfg := testConfig()
	l := &listing{n: 3}
	h, _, recorder := newHarvester(t, cfg, l.respond)

	result, err := h.Harvest(context.Background(), 10, 2)
	require.NoError(t, err)

	assert.Len(t, result.Items, 3)
	assert.True(t, result.Exhausted)
	assert.Equal(t, 2, result.Pages)
	assert.Len(t, recorder.calls(), 1)
}

func TestHarvestDescriptorFields(t *testing.T) {
	cfg := testConfig()
	l := &listing{n: 1}
	h, _, _ := newHarvester(t, cfg, l.respond)

	result, err := h.Harvest(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)

	item := result.Items[0]
	assert.Equal(t, "owner1/repo1", item.ID)
	assert.Equal(t, "https://github.com/owner1/repo1", item.URL)
	assert.Equal(t, 99999, item.RankMetric)
	assert.Equal(t, time.Date(2015, 6, 1, 0, 0, 0, 0, time.UTC), item.CreatedAt)
	assert.Equal(t, "Java", item.PrimaryLanguage)
	assert.Equal(t, 1, item.Releases)
	assert.Equal(t, 10, item.MergedPullRequests)
	assert.Equal(t, 20, item.Issues)
	assert.Equal(t, 15, item.ClosedIssues)

	require.NotNil(t, result.RateLimit)
	assert.Equal(t, 4999, result.RateLimit.Remaining)
}

func TestHarvestMalformedResponseKeepsPartialResult(t *testing.T) {
	cfg := testConfig()
	l := &listing{n: 10}
	var mu sync.Mutex
	call := 0
	responder := func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		call++
		current := call
		mu.Unlock()
		if current == 2 {
			return httpmock.NewStringResponse(http.StatusOK, `{"data":{"viewer":{}}}`), nil
		}
		return l.respond(req)
	}
	h, _, _ := newHarvester(t, cfg, responder)

	result, err := h.Harvest(context.Background(), 10, 2)
	var malformed ErrMalformedResponse
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, 2, malformed.Page)
	assert.Len(t, result.Items, 2)
	assert.Equal(t, 1, result.Pages)
}

func TestHarvestUnauthorizedIsFatal(t *testing.T) {
	cfg := testConfig()
	h, transport, _ := newHarvester(t, cfg, httpmock.NewStringResponder(http.StatusUnauthorized, `{"message":"Bad credentials"}`))

	result, err := h.Harvest(context.Background(), 5, 2)
	var unauthorized client.ErrUnauthorized
	require.ErrorAs(t, err, &unauthorized)
	assert.Empty(t, result.Items)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestHarvestExhaustedRetriesReturnPartial(t *testing.T) {
	cfg := testConfig()
	l := &listing{n: 10}
	var mu sync.Mutex
	call := 0
	responder := func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		call++
		current := call
		mu.Unlock()
		if current > 1 {
			return httpmock.NewStringResponse(http.StatusBadGateway, "bad gateway"), nil
		}
		return l.respond(req)
	}
	h, transport, _ := newHarvester(t, cfg, responder)

	result, err := h.Harvest(context.Background(), 10, 4)
	var exhausted client.ErrRetriesExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, result.Items, 4)
	assert.Equal(t, 1+cfg.MaxAttempts, transport.GetTotalCallCount())
}

func TestHarvestSkipsDuplicatesAndInvalidEntries(t *testing.T) {
	cfg := testConfig()
	pages := []string{
		`{"data":{"search":{"pageInfo":{"endCursor":"a","hasNextPage":true},"edges":[` + repoNode(1) + `,` + repoNode(2) + `]}}}`,
		`{"data":{"search":{"pageInfo":{"endCursor":"b","hasNextPage":false},"edges":[` + repoNode(2) + `,{"node":{}},{"node":{"nameWithOwner":"x/y","createdAt":"yesterday"}},` + repoNode(3) + `]}}}`,
	}
	var mu sync.Mutex
	call := 0
	responder := func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		body := pages[call]
		call++
		return httpmock.NewStringResponse(http.StatusOK, body), nil
	}
	h, _, _ := newHarvester(t, cfg, responder)

	result, err := h.Harvest(context.Background(), 10, 5)
	require.NoError(t, err)

	got := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		got = append(got, item.ID)
	}
	assert.Equal(t, []string{"owner1/repo1", "owner2/repo2", "owner3/repo3"}, got)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 2, result.Invalid)
	assert.True(t, result.Exhausted)
}

func TestHarvestDedupeSurvivesSmallCache(t *testing.T) {
	cfg := testConfig()
	cfg.DedupeMaxSize = 2
	pages := []string{
		`{"data":{"search":{"pageInfo":{"endCursor":"a","hasNextPage":true},"edges":[` + repoNode(1) + `,` + repoNode(2) + `]}}}`,
		`{"data":{"search":{"pageInfo":{"endCursor":"b","hasNextPage":true},"edges":[` + repoNode(3) + `,` + repoNode(1) + `]}}}`,
		`{"data":{"search":{"pageInfo":{"endCursor":"c","hasNextPage":false},"edges":[` + repoNode(2) + `,` + repoNode(4) + `,` + repoNode(5) + `]}}}`,
	}
	var mu sync.Mutex
	call := 0
	responder := func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		body := pages[call]
		call++
		return httpmock.NewStringResponse(http.StatusOK, body), nil
	}
	h, _, _ := newHarvester(t, cfg, responder)

	result, err := h.Harvest(context.Background(), 5, 2)
	require.NoError(t, err)

	got := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		got = append(got, item.ID)
	}
	assert.Equal(t, []string{"owner1/repo1", "owner2/repo2", "owner3/repo3", "owner4/repo4", "owner5/repo5"}, got)
	assert.Equal(t, 2, result.Duplicates)
}

func TestHarvestStopsOnRepeatedCursor(t *testing.T) {
	cfg := testConfig()
	var mu sync.Mutex
	call := 0
	responder := func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		call++
		body := fmt.Sprintf(`{"data":{"search":{"pageInfo":{"endCursor":"same","hasNextPage":true},"edges":[%s]}}}`, repoNode(call))
		return httpmock.NewStringResponse(http.StatusOK, body), nil
	}
	h, transport, _ := newHarvester(t, cfg, responder)

	result, err := h.Harvest(context.Background(), 10, 1)
	require.NoError(t, err)
	assert.Len(t, result.Items, 2)
	assert.True(t, result.Exhausted)
	assert.Equal(t, 2, transport.GetTotalCallCount())
}

func TestHarvestCancelledBetweenPages(t *testing.T) {
	cfg := testConfig()
	l := &listing{n: 10}
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, cfg.Endpoint, l.respond)
	c, err := client.New(cfg, client.WithTransport(transport))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New(cfg, c, WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	result, err := h.Harvest(ctx, 10, 3)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, result.Items, 3)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestHarvestRejectsNonPositiveArguments(t *testing.T) {
	cfg := testConfig()
	h, transport, _ := newHarvester(t, cfg, (&listing{n: 1}).respond)

	_, err := h.Harvest(context.Background(), 0, 2)
	require.Error(t, err)
	_, err = h.Harvest(context.Background(), 2, 0)
	require.Error(t, err)
	assert.Zero(t, transport.GetTotalCallCount())
}
