// Package github is the census pipeline's API collaborator: authenticated,
// paginated access to the GitHub REST API. Rate-limit waits, transient-5xx
// retries and pagination live here; callers issue structured queries and
// receive typed records.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultBaseURL = "https://api.github.com"
	maxRetries     = 6

	// searchPageCap is the deepest page the search interface serves; with
	// 100 items per page this is the 1000-result hard cap the bisector
	// exists to work around.
	searchPageCap = 10
)

var (
	apiRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "census_github_requests_total",
		Help: "Requests issued against the GitHub API.",
	})
	rateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "census_github_ratelimit_waits_total",
		Help: "Times a request slept waiting for the rate limit to reset.",
	})
)

// Client wraps the GitHub API client
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	cache      *ProfileCache
}

// NewClient creates a new GitHub API client
func NewClient(token string, cache *ProfileCache) *Client {
	return &Client{
		token:   token,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache: cache,
	}
}

// SetBaseURL points the client at a different API root. Used by tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimSuffix(base, "/")
}

// doRequest makes an authenticated request, sleeping through rate-limit
// windows and retrying transient 5xx responses with jittered backoff.
func (c *Client) doRequest(ctx context.Context, method, rawURL string) (*http.Response, error) {
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		// Add auth header if token is configured
		if c.token != "" {
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("User-Agent", "contrib-census")

		apiRequests.Inc()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		// Rate limited: sleep until the reported reset, then retry.
		if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
			reset, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
			resp.Body.Close()
			wait := time.Until(time.Unix(reset, 0)) + time.Second
			if wait < 5*time.Second {
				wait = 5 * time.Second
			}
			slog.Warn("rate limit exceeded, sleeping", "wait", wait.Round(time.Second))
			rateLimitWaits.Inc()
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 500 && attempt <= maxRetries {
			resp.Body.Close()
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			backoff += time.Duration(rand.Int63n(int64(time.Second)))
			slog.Warn("server error, retrying", "status", resp.StatusCode, "attempt", attempt, "backoff", backoff.Round(time.Millisecond))
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, err
			}
			continue
		}

		return resp, nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// readAndClose reads the body and closes it. Use in paginated loops
// instead of defer resp.Body.Close() to avoid leaking connections.
func readAndClose(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// readErrorAndClose reads an error body and closes it.
func readErrorAndClose(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("github API error %d: %s", resp.StatusCode, string(body))
}

// parseLinkNext extracts the "next" URL from a GitHub Link header.
// Format: <https://api.github.com/...?page=2>; rel="next", <...>; rel="last"
func parseLinkNext(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if strings.Contains(part, `rel="next"`) {
			start := strings.Index(part, "<")
			end := strings.Index(part, ">")
			if start >= 0 && end > start {
				return part[start+1 : end]
			}
		}
	}
	return ""
}

// Actor is the acting account attached to an event or item.
type Actor struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
	Type  string `json:"type,omitempty"` // "User" or "Bot"
}

// SearchItem is one result from the issues/PRs search interface.
type SearchItem struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	State       string    `json:"state"`
	User        *Actor    `json:"user"`
	CreatedAt   time.Time `json:"created_at"`
	PullRequest *struct {
		MergedAt *time.Time `json:"merged_at"`
	} `json:"pull_request,omitempty"`
}

// IsPull reports whether the item is a pull request rather than an issue.
func (s SearchItem) IsPull() bool {
	return s.PullRequest != nil
}

type searchResponse struct {
	TotalCount int          `json:"total_count"`
	Items      []SearchItem `json:"items"`
}

// SearchCount issues a count-only search query, reading total_count off
// the first page with a single item. This is the bisector's probe.
func (c *Client) SearchCount(ctx context.Context, query string) (int, error) {
	u := fmt.Sprintf("%s/search/issues?q=%s&per_page=1&page=1", c.baseURL, url.QueryEscape(query))

	resp, err := c.doRequest(ctx, "GET", u)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, readErrorAndClose(resp)
	}

	var result searchResponse
	if err := readAndClose(resp, &result); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.TotalCount, nil
}

// SearchIssues fetches all items matching a search query, paginating up
// to the service's result cap. A 422 past the last served page ends
// pagination quietly; callers keep counts under the cap via bisection.
func (c *Client) SearchIssues(ctx context.Context, query string) ([]SearchItem, error) {
	var all []SearchItem

	for page := 1; page <= searchPageCap; page++ {
		u := fmt.Sprintf("%s/search/issues?q=%s&per_page=100&page=%d", c.baseURL, url.QueryEscape(query), page)

		resp, err := c.doRequest(ctx, "GET", u)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusUnprocessableEntity {
			resp.Body.Close()
			break
		}
		if resp.StatusCode != http.StatusOK {
			return nil, readErrorAndClose(resp)
		}

		var result searchResponse
		if err := readAndClose(resp, &result); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}

		all = append(all, result.Items...)
		if len(result.Items) < 100 {
			break
		}
	}

	return all, nil
}

// Commit is one commit from the repository commits listing.
type Commit struct {
	SHA    string `json:"sha"`
	Author *Actor `json:"author"` // nil when the email maps to no account
	Commit struct {
		Author struct {
			Name  string    `json:"name"`
			Email string    `json:"email"`
			Date  time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Committer *Actor `json:"committer"`
}

// ListCommits fetches all commits between since and until with pagination.
// The endpoint treats both bounds as inclusive; callers tiling a window
// into slices must filter boundary commits themselves.
func (c *Client) ListCommits(ctx context.Context, owner, repo string, since, until time.Time) ([]Commit, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/commits?since=%s&until=%s&per_page=100",
		c.baseURL, owner, repo,
		url.QueryEscape(since.UTC().Format(time.RFC3339)),
		url.QueryEscape(until.UTC().Format(time.RFC3339)))

	var all []Commit
	for u != "" {
		resp, err := c.doRequest(ctx, "GET", u)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, readErrorAndClose(resp)
		}

		var page []Commit
		linkHeader := resp.Header.Get("Link")
		if err := readAndClose(resp, &page); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		u = parseLinkNext(linkHeader)
	}
	return all, nil
}

// Comment is an issue or review comment.
type Comment struct {
	ID        int64           `json:"id"`
	User      *Actor          `json:"user"`
	CreatedAt time.Time       `json:"created_at"`
	ViaApp    json.RawMessage `json:"performed_via_github_app,omitempty"`
}

// PerformedViaApp reports whether the comment was posted through a
// GitHub App integration.
func (c Comment) PerformedViaApp() bool {
	return len(c.ViaApp) > 0 && string(c.ViaApp) != "null"
}

// ListIssueComments fetches all issue comments created since the given time.
func (c *Client) ListIssueComments(ctx context.Context, owner, repo string, since time.Time) ([]Comment, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/issues/comments?since=%s&per_page=100",
		c.baseURL, owner, repo, url.QueryEscape(since.UTC().Format(time.RFC3339)))
	return c.listComments(ctx, u)
}

// ListReviewComments fetches all PR review comments created since the given time.
func (c *Client) ListReviewComments(ctx context.Context, owner, repo string, since time.Time) ([]Comment, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/pulls/comments?since=%s&per_page=100",
		c.baseURL, owner, repo, url.QueryEscape(since.UTC().Format(time.RFC3339)))
	return c.listComments(ctx, u)
}

func (c *Client) listComments(ctx context.Context, firstURL string) ([]Comment, error) {
	var all []Comment
	u := firstURL
	for u != "" {
		resp, err := c.doRequest(ctx, "GET", u)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, readErrorAndClose(resp)
		}

		var page []Comment
		linkHeader := resp.Header.Get("Link")
		if err := readAndClose(resp, &page); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		u = parseLinkNext(linkHeader)
	}
	return all, nil
}

// Review is one submitted PR review.
type Review struct {
	User        *Actor     `json:"user"`
	State       string     `json:"state"`
	SubmittedAt *time.Time `json:"submitted_at"`
}

// ListReviews fetches all reviews on a pull request with pagination.
func (c *Client) ListReviews(ctx context.Context, owner, repo string, number int) ([]Review, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/reviews?per_page=100", c.baseURL, owner, repo, number)

	var all []Review
	for u != "" {
		resp, err := c.doRequest(ctx, "GET", u)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, readErrorAndClose(resp)
		}

		var page []Review
		linkHeader := resp.Header.Get("Link")
		if err := readAndClose(resp, &page); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		u = parseLinkNext(linkHeader)
	}
	return all, nil
}

// Issue is the detail view of a single issue, carrying the closer.
type Issue struct {
	Number   int        `json:"number"`
	State    string     `json:"state"`
	User     *Actor     `json:"user"`
	ClosedBy *Actor     `json:"closed_by"`
	ClosedAt *time.Time `json:"closed_at"`
}

// GetIssue fetches a single issue by number.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/issues/%d", c.baseURL, owner, repo, number)

	resp, err := c.doRequest(ctx, "GET", u)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, readErrorAndClose(resp)
	}

	var issue Issue
	if err := readAndClose(resp, &issue); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &issue, nil
}

// Pull is the detail view of a single pull request, carrying the merger.
type Pull struct {
	Number    int        `json:"number"`
	User      *Actor     `json:"user"`
	CreatedAt time.Time  `json:"created_at"`
	MergedAt  *time.Time `json:"merged_at"`
	MergedBy  *Actor     `json:"merged_by"`
}

// GetPull fetches a single pull request by number.
func (c *Client) GetPull(ctx context.Context, owner, repo string, number int) (*Pull, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", c.baseURL, owner, repo, number)

	resp, err := c.doRequest(ctx, "GET", u)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, readErrorAndClose(resp)
	}

	var pull Pull
	if err := readAndClose(resp, &pull); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &pull, nil
}

// User is an account profile snapshot.
type User struct {
	Login     string    `json:"login"`
	Name      string    `json:"name"`
	Company   string    `json:"company"`
	Blog      string    `json:"blog"`
	Type      string    `json:"type"`
	Followers int       `json:"followers"`
	Following int       `json:"following"`
	CreatedAt time.Time `json:"created_at"`
}

// GetUser fetches an account profile, serving repeats from the cache.
// A 404 returns (nil, nil): a vanished account is absent evidence, not
// an error.
func (c *Client) GetUser(ctx context.Context, login string) (*User, error) {
	key := strings.ToLower(login)
	if c.cache != nil {
		if user, found := c.cache.Get(key); found {
			return user, nil
		}
	}

	u := fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(login))
	resp, err := c.doRequest(ctx, "GET", u)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, readErrorAndClose(resp)
	}

	var user User
	if err := readAndClose(resp, &user); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if c.cache != nil {
		c.cache.Update(key, &user)
	}
	return &user, nil
}

// RateLimit holds GitHub rate limit info
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// GetRateLimit fetches current rate limit status
func (c *Client) GetRateLimit(ctx context.Context) (*RateLimit, error) {
	resp, err := c.doRequest(ctx, "GET", c.baseURL+"/rate_limit")
	if err != nil {
		return nil, err
	}

	var result struct {
		Rate struct {
			Limit     int   `json:"limit"`
			Remaining int   `json:"remaining"`
			Reset     int64 `json:"reset"`
		} `json:"rate"`
	}
	if err := readAndClose(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &RateLimit{
		Limit:     result.Rate.Limit,
		Remaining: result.Rate.Remaining,
		Reset:     time.Unix(result.Rate.Reset, 0),
	}, nil
}
