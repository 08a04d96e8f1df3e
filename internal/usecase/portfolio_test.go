package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/portfolio-stats/internal/cache"
	"github.com/naka-gawa/portfolio-stats/internal/domain"
)

// mockFetcher is a mock implementation of the CachedFetcher interface.
// It allows us to simulate the cache-backed client without making real API calls.
type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Get(ctx context.Context, endpoint string) (cache.Result, error) {
	args := m.Called(ctx, endpoint)
	return args.Get(0).(cache.Result), args.Error(1)
}

// GetWith invokes fetch so the contribution source is exercised like the real client would.
func (m *mockFetcher) GetWith(ctx context.Context, key string, fetch cache.FetchFunc) (cache.Result, error) {
	args := m.Called(ctx, key)
	if args.Bool(0) {
		payload, err := fetch(ctx)
		return cache.Result{Payload: payload}, err
	}
	return cache.Result{}, args.Error(1)
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) FetchContributionCounts(ctx context.Context, login string, from, to time.Time) (map[string]int, error) {
	args := m.Called(ctx, login, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func result(payload string) cache.Result {
	return cache.Result{Payload: json.RawMessage(payload)}
}

const (
	userJSON  = `{"login":"octocat","name":"The Octocat","public_repos":2}`
	reposJSON = `[
		{"name":"a","language":"TypeScript","stargazers_count":5,"forks_count":1,"updated_at":"2026-10-01T00:00:00Z"},
		{"name":"b","language":"TypeScript","stargazers_count":3,"forks_count":0,"updated_at":"2026-10-10T00:00:00Z"}
	]`
	eventsJSON = `[
		{"type":"PushEvent","created_at":"2026-10-17T09:00:00Z","payload":{"commits":[{},{}]},"repo":{"name":"octocat/a"}},
		{"type":"IssuesEvent","created_at":"2026-10-16T09:00:00Z","payload":{"action":"opened"}}
	]`
)

func TestPortfolio_Refresh(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)

	testCases := []struct {
		name        string
		user        cache.Result
		repos       cache.Result
		events      cache.Result
		eventsErr   error
		expectErrIs error
		expectStale bool
	}{
		{
			name:   "happy path - aggregates all collections",
			user:   result(userJSON),
			repos:  result(reposJSON),
			events: result(eventsJSON),
		},
		{
			name:        "stale input marks the snapshot stale",
			user:        result(userJSON),
			repos:       cache.Result{Payload: json.RawMessage(reposJSON), Stale: true, FromCache: true},
			events:      result(eventsJSON),
			expectStale: true,
		},
		{
			name:        "error case - events unavailable and not cached",
			user:        result(userJSON),
			repos:       result(reposJSON),
			eventsErr:   fmt.Errorf("%w: boom", domain.ErrCacheMiss),
			expectErrIs: domain.ErrCacheMiss,
		},
		{
			name:        "error case - repos payload is not a collection",
			user:        result(userJSON),
			repos:       result(`{"message":"oops"}`),
			events:      result(eventsJSON),
			expectErrIs: domain.ErrMalformedInput,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := new(mockFetcher)
			fetcher.On("Get", mock.Anything, "users/octocat").Return(tc.user, nil)
			fetcher.On("Get", mock.Anything, "users/octocat/repos?per_page=100&sort=updated").Return(tc.repos, nil)
			fetcher.On("Get", mock.Anything, "users/octocat/events?per_page=100").Return(tc.events, tc.eventsErr)

			p := NewPortfolio(fetcher, PortfolioConfig{Username: "octocat"}, discardLogger(), WithPortfolioClock(clock))
			snap, err := p.Refresh(context.Background())

			if tc.expectErrIs != nil {
				assert.ErrorIs(t, err, tc.expectErrIs)
				assert.Nil(t, snap)
				_, ok := p.Latest()
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectStale, snap.Stale)
			assert.Equal(t, "octocat", snap.User.Login)
			assert.Equal(t, 8, snap.Stats.TotalStars)
			assert.Equal(t, 1, snap.Stats.TotalForks)
			assert.Equal(t, map[string]int{"TypeScript": 2}, snap.Stats.LanguageCounts)
			assert.Equal(t, []domain.LanguageShare{{Language: "TypeScript", Count: 2, Percentage: 100}}, snap.Languages)
			assert.Equal(t, "b", snap.Repositories[0].Name, "repositories are ordered by last update")
			require.Len(t, snap.Calendar, CalendarDays)
			assert.Equal(t, 2, snap.Contributions.Commits)
			assert.Equal(t, 1, snap.Contributions.Issues)
			assert.Equal(t, 2, snap.Contributions.CurrentStreak)
			assert.Equal(t, 2, snap.Contributions.TotalContributions)
			assert.Len(t, snap.Activity, 2)
			assert.Equal(t, now, snap.GeneratedAt)

			latest, ok := p.Latest()
			assert.True(t, ok)
			assert.Same(t, snap, latest)
		})
	}
}

func TestPortfolio_FailedRefreshKeepsLastGoodSnapshot(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("Get", mock.Anything, "users/octocat").Return(result(userJSON), nil)
	fetcher.On("Get", mock.Anything, "users/octocat/repos?per_page=100&sort=updated").Return(result(reposJSON), nil)
	fetcher.On("Get", mock.Anything, "users/octocat/events?per_page=100").Return(result(eventsJSON), nil).Once()
	fetcher.On("Get", mock.Anything, "users/octocat/events?per_page=100").Return(cache.Result{}, errors.New("offline")).Once()

	p := NewPortfolio(fetcher, PortfolioConfig{Username: "octocat"}, discardLogger())
	first, err := p.Snapshot(context.Background())
	require.NoError(t, err)

	_, err = p.Refresh(context.Background())
	assert.Error(t, err)

	again, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, again.Stale, "last good snapshot is flagged stale after a failed refresh")
	assert.False(t, first.Stale, "the earlier snapshot is not mutated")
	assert.Equal(t, first.Stats, again.Stats)
	assert.Equal(t, first.GeneratedAt, again.GeneratedAt)

	latest, ok := p.Latest()
	require.True(t, ok)
	assert.Same(t, again, latest)

	fetcher.On("Get", mock.Anything, "users/octocat/events?per_page=100").Return(result(eventsJSON), nil).Once()
	recovered, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, recovered.Stale)
}

func TestPortfolio_ContributionSource(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	fetcher := new(mockFetcher)
	fetcher.On("Get", mock.Anything, "users/octocat").Return(result(userJSON), nil)
	fetcher.On("Get", mock.Anything, "users/octocat/repos?per_page=50&sort=updated").Return(result(reposJSON), nil)
	fetcher.On("Get", mock.Anything, "users/octocat/events?per_page=30").Return(result(eventsJSON), nil)
	fetcher.On("GetWith", mock.Anything, "graphql/contributions/octocat").Return(true, nil)

	source := new(mockSource)
	source.On("FetchContributionCounts", mock.Anything, "octocat", now.AddDate(0, 0, -364), now).
		Return(map[string]int{"2026-10-17": 12, "2026-10-16": 4, "2026-10-14": 1}, nil)

	p := NewPortfolio(fetcher, PortfolioConfig{Username: "octocat", ReposPerPage: 50, EventsPerPage: 30},
		discardLogger(), WithPortfolioClock(clockwork.NewFakeClockAt(now)), WithContributionSource(source))
	snap, err := p.Refresh(context.Background())
	require.NoError(t, err)

	last := snap.Calendar[len(snap.Calendar)-1]
	assert.Equal(t, domain.ContributionDay{Date: "2026-10-17", Count: 12, Level: 4}, last)
	assert.Equal(t, 2, snap.Contributions.CurrentStreak)
	assert.Equal(t, 17, snap.Contributions.TotalContributions)
	assert.Equal(t, 2, snap.Contributions.Commits, "activity counters still come from events")
	source.AssertExpectations(t)
	fetcher.AssertExpectations(t)
}
