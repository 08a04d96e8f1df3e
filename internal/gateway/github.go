// Package gateway provides a gateway to the GitHub API,
// abstracting away the underlying REST and GraphQL clients.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"

	"github.com/naka-gawa/portfolio-stats/internal/domain"
)

const userAgent = "portfolio-stats"

// GitHubGateway fetches raw REST payloads and GraphQL contribution data.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	httpClient    *http.Client
	logger        logrus.FieldLogger
}

// contributionCalendarQuery reads the per-day contribution counts of a user.
type contributionCalendarQuery struct {
	User struct {
		ContributionsCollection struct {
			ContributionCalendar struct {
				TotalContributions int
				Weeks              []struct {
					ContributionDays []struct {
						Date              string
						ContributionCount int
					}
				}
			}
		} `graphql:"contributionsCollection(from: $from, to: $to)"`
	} `graphql:"user(login: $login)"`
}

// NewGitHubGateway is a constructor that creates a new instance of GitHubGateway.
// The token is optional; without it requests are anonymous and GraphQL
// queries will be rejected by GitHub. A non-empty baseURL points the REST
// client at a GitHub Enterprise or test server.
func NewGitHubGateway(token, baseURL string, logger logrus.FieldLogger) (*GitHubGateway, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	var transport http.RoundTripper = rateLimitWaiter
	if token != "" {
		transport = &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
		}
	}
	httpClient := &http.Client{Transport: transport}

	restClient := github.NewClient(httpClient)
	restClient.UserAgent = userAgent
	graphqlClient := githubv4.NewClient(httpClient)
	if baseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("failed to parse base URL: %w", err)
		}
		restClient.BaseURL = u
		graphqlClient = githubv4.NewEnterpriseClient(u.String()+"graphql", httpClient)
	}
	return &GitHubGateway{
		restClient:    restClient,
		graphqlClient: graphqlClient,
		httpClient:    httpClient,
		logger:        logger,
	}, nil
}

// HTTPClient returns the authenticated, rate-limited client used for all calls.
func (g *GitHubGateway) HTTPClient() *http.Client {
	return g.httpClient
}

// UserPath is the endpoint of a user's public profile.
func UserPath(username string) string {
	return fmt.Sprintf("users/%s", url.PathEscape(username))
}

// ReposPath lists a user's repositories, most recently updated first.
func ReposPath(username string, perPage int) string {
	return fmt.Sprintf("users/%s/repos?per_page=%d&sort=updated", url.PathEscape(username), perPage)
}

// EventsPath lists a user's public events.
func EventsPath(username string, perPage int) string {
	return fmt.Sprintf("users/%s/events?per_page=%d", url.PathEscape(username), perPage)
}

// Get fetches an API path relative to the REST base URL and returns the body
// untouched. Non-2xx answers become *domain.HTTPError, transport failures
// *domain.NetworkError.
func (g *GitHubGateway) Get(ctx context.Context, path string) (json.RawMessage, error) {
	log := g.logger.WithField("path", path)
	req, err := g.restClient.NewRequest(http.MethodGet, strings.TrimPrefix(path, "/"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}

	var body json.RawMessage
	resp, err := g.restClient.Do(ctx, req, &body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if resp != nil && resp.Response != nil {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil, domain.Malformed("%s: %v", path, err)
			}
			log.WithField("status", resp.StatusCode).Debug("GitHub returned an error status")
			return nil, &domain.HTTPError{StatusCode: resp.StatusCode, Path: path, Message: errorMessage(err)}
		}
		return nil, &domain.NetworkError{Path: path, Err: err}
	}
	if resp.Rate.Limit > 0 {
		log = log.WithField("rate_remaining", resp.Rate.Remaining)
	}
	log.Debug("Fetched from GitHub REST API")
	return body, nil
}

// FetchContributionCounts returns contribution counts keyed by YYYY-MM-DD for
// the window [from, to] using the GraphQL contributions calendar.
func (g *GitHubGateway) FetchContributionCounts(ctx context.Context, login string, from, to time.Time) (map[string]int, error) {
	g.logger.WithField("login", login).Debug("Fetching contribution calendar using GraphQL API...")
	variables := map[string]interface{}{
		"login": githubv4.String(login),
		"from":  githubv4.DateTime{Time: from},
		"to":    githubv4.DateTime{Time: to},
	}
	var q contributionCalendarQuery
	if err := g.graphqlClient.Query(ctx, &q, variables); err != nil {
		return nil, fmt.Errorf("failed to execute GraphQL query for contributions: %w", err)
	}
	counts := make(map[string]int)
	for _, week := range q.User.ContributionsCollection.ContributionCalendar.Weeks {
		for _, day := range week.ContributionDays {
			if day.ContributionCount > 0 {
				counts[day.Date] += day.ContributionCount
			}
		}
	}
	return counts, nil
}

func errorMessage(err error) string {
	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) {
		return errResp.Message
	}
	return ""
}
