package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/portfolio-stats/internal/domain"
	"github.com/naka-gawa/portfolio-stats/internal/gateway"
	"github.com/naka-gawa/portfolio-stats/internal/policy"
	"github.com/naka-gawa/portfolio-stats/internal/store"
)

type mockUpstream struct {
	mock.Mock
}

func (m *mockUpstream) Get(ctx context.Context, path string) (json.RawMessage, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

type mockSnapshots struct {
	mock.Mock
}

func (m *mockSnapshots) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Snapshot), args.Error(1)
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func strPtr(s string) *string { return &s }

var now = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func testSnapshot() *domain.Snapshot {
	return &domain.Snapshot{
		Username: "octocat",
		User:     &domain.User{Login: "octocat", PublicRepos: 2},
		Repositories: []domain.Repository{
			{Name: "termux-tools", Description: strPtr("Android scripts"), StargazersCount: 1, UpdatedAt: now},
			{Name: "ai-lab", StargazersCount: 9, UpdatedAt: now.Add(-time.Hour)},
		},
		Stats:     domain.RepoStats{TotalRepos: 2, TotalStars: 10, LanguageCounts: map[string]int{}},
		Languages: []domain.LanguageShare{},
		Calendar:  []domain.ContributionDay{{Date: "2026-10-17", Count: 1, Level: 1}},
		Activity: []domain.Event{
			{Type: "PushEvent", CreatedAt: now.Add(-5 * time.Minute), Repo: &domain.EventRepo{Name: "octocat/ai-lab"},
				Payload: domain.EventPayload{Commits: make([]json.RawMessage, 2)}},
			{Type: "WatchEvent", CreatedAt: now.Add(-3 * time.Hour)},
		},
		GeneratedAt: now,
	}
}

func newTestServer(up Upstream, snaps SnapshotSource, opts ...Option) http.Handler {
	opts = append([]Option{WithClock(clockwork.NewFakeClockAt(now))}, opts...)
	return New(up, snaps, discardLogger(), opts...).Handler()
}

func TestServer_GitHubProxy(t *testing.T) {
	testCases := []struct {
		name         string
		method       string
		target       string
		setupMock    func(m *mockUpstream)
		expectStatus int
		expectBody   string
		expectCache  string
	}{
		{
			name:   "happy path - upstream JSON unchanged",
			method: http.MethodGet,
			target: "/api/github?path=users/octocat",
			setupMock: func(m *mockUpstream) {
				m.On("Get", mock.Anything, "users/octocat").Return(json.RawMessage(`{"login":"octocat"}`), nil)
			},
			expectStatus: http.StatusOK,
			expectBody:   `{"login":"octocat"}`,
			expectCache:  "public, max-age=300",
		},
		{
			name:   "leading slash is trimmed",
			method: http.MethodGet,
			target: "/api/github?path=" + url.QueryEscape("/users/octocat/repos?per_page=100"),
			setupMock: func(m *mockUpstream) {
				m.On("Get", mock.Anything, "users/octocat/repos?per_page=100").Return(json.RawMessage(`[]`), nil)
			},
			expectStatus: http.StatusOK,
			expectBody:   `[]`,
			expectCache:  "public, max-age=300",
		},
		{
			name:         "error case - non-GET",
			method:       http.MethodPost,
			target:       "/api/github?path=users/octocat",
			setupMock:    func(m *mockUpstream) {},
			expectStatus: http.StatusMethodNotAllowed,
			expectBody:   `{"error":"Method not allowed"}`,
		},
		{
			name:         "error case - missing path",
			method:       http.MethodGet,
			target:       "/api/github",
			setupMock:    func(m *mockUpstream) {},
			expectStatus: http.StatusBadRequest,
			expectBody:   `{"error":"Missing path parameter"}`,
		},
		{
			name:   "error case - upstream failure",
			method: http.MethodGet,
			target: "/api/github?path=users/ghost",
			setupMock: func(m *mockUpstream) {
				m.On("Get", mock.Anything, "users/ghost").Return(nil, &domain.HTTPError{StatusCode: 404, Path: "users/ghost", Message: "Not Found"})
			},
			expectStatus: http.StatusInternalServerError,
			expectBody:   fmt.Sprintf(`{"error":"Failed to fetch from GitHub","message":%q}`, (&domain.HTTPError{StatusCode: 404, Path: "users/ghost", Message: "Not Found"}).Error()),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			up := new(mockUpstream)
			tc.setupMock(up)
			h := newTestServer(up, new(mockSnapshots))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.target, nil))

			assert.Equal(t, tc.expectStatus, rec.Code)
			assert.JSONEq(t, tc.expectBody, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tc.expectCache, rec.Header().Get("Cache-Control"))
			if tc.expectStatus == http.StatusOK || tc.expectStatus == http.StatusInternalServerError {
				assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
			}
			up.AssertExpectations(t)
		})
	}
}

func TestServer_GitHubProxyTimesOutHangingUpstream(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	gw, err := gateway.NewGitHubGateway("", upstream.URL, discardLogger())
	require.NoError(t, err)
	h := newTestServer(gw, new(mockSnapshots), WithTimeout(100*time.Millisecond))

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/github?path=users/octocat", nil))
		done <- rec
	}()

	select {
	case rec := <-done:
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "Failed to fetch from GitHub")
		assert.Contains(t, rec.Body.String(), context.DeadlineExceeded.Error())
	case <-time.After(5 * time.Second):
		t.Fatal("proxy request was not bounded by the timeout")
	}
}

func TestServer_SnapshotEndpoints(t *testing.T) {
	snaps := new(mockSnapshots)
	snaps.On("Snapshot", mock.Anything).Return(testSnapshot(), nil)
	h := newTestServer(new(mockUpstream), snaps)

	get := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusOK, rec.Code, target)
		return rec
	}

	t.Run("portfolio", func(t *testing.T) {
		var snap domain.Snapshot
		require.NoError(t, json.Unmarshal(get("/api/portfolio").Body.Bytes(), &snap))
		assert.Equal(t, "octocat", snap.Username)
		assert.Equal(t, 10, snap.Stats.TotalStars)
	})

	t.Run("stats", func(t *testing.T) {
		var body statsBody
		require.NoError(t, json.Unmarshal(get("/api/stats").Body.Bytes(), &body))
		assert.Equal(t, "octocat", body.User.Login)
		assert.Equal(t, 2, body.Stats.TotalRepos)
	})

	t.Run("contributions", func(t *testing.T) {
		var body contributionsBody
		require.NoError(t, json.Unmarshal(get("/api/contributions").Body.Bytes(), &body))
		assert.Len(t, body.Calendar, 1)
	})

	t.Run("repos sorted and filtered", func(t *testing.T) {
		var repos []domain.Repository
		require.NoError(t, json.Unmarshal(get("/api/repos?sort=stars").Body.Bytes(), &repos))
		require.Len(t, repos, 2)
		assert.Equal(t, "ai-lab", repos[0].Name)

		require.NoError(t, json.Unmarshal(get("/api/repos?q=android").Body.Bytes(), &repos))
		require.Len(t, repos, 1)
		assert.Equal(t, "termux-tools", repos[0].Name)

		assert.JSONEq(t, `[]`, get("/api/repos?q=kotlin").Body.String())
	})

	t.Run("activity rendered with descriptions", func(t *testing.T) {
		var items []activityItem
		require.NoError(t, json.Unmarshal(get("/api/activity").Body.Bytes(), &items))
		require.Len(t, items, 2)
		assert.Equal(t, "Pushed 2 commits", items[0].Description)
		assert.Equal(t, "octocat/ai-lab", items[0].Repo)
		assert.Equal(t, "5m ago", items[0].TimeAgo)
		assert.Equal(t, "3h ago", items[1].TimeAgo)

		require.NoError(t, json.Unmarshal(get("/api/activity?filter=Watch").Body.Bytes(), &items))
		require.Len(t, items, 1)
		assert.Equal(t, "Starred repository", items[0].Description)

		require.NoError(t, json.Unmarshal(get("/api/activity?limit=1").Body.Bytes(), &items))
		assert.Len(t, items, 1)
	})
}

func TestServer_ActivityRejectsBadLimit(t *testing.T) {
	h := newTestServer(new(mockUpstream), new(mockSnapshots))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/activity?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StaleAndUnavailableSnapshot(t *testing.T) {
	t.Run("stale snapshot is flagged", func(t *testing.T) {
		snap := testSnapshot()
		snap.Stale = true
		snaps := new(mockSnapshots)
		snaps.On("Snapshot", mock.Anything).Return(snap, nil)

		rec := httptest.NewRecorder()
		newTestServer(new(mockUpstream), snaps).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "true", rec.Header().Get("X-Data-Stale"))
	})

	t.Run("no snapshot at all", func(t *testing.T) {
		snaps := new(mockSnapshots)
		snaps.On("Snapshot", mock.Anything).Return(nil, fmt.Errorf("%w: offline", domain.ErrCacheMiss))

		rec := httptest.NewRecorder()
		newTestServer(new(mockUpstream), snaps).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/portfolio", nil))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), "Failed to load portfolio")
	})
}

func TestServer_Mirror(t *testing.T) {
	var hits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/":
			io.WriteString(w, "<html>home</html>")
		case "/css/style.css":
			io.WriteString(w, "body{}")
		default:
			http.NotFound(w, r)
		}
	}))
	originURL, err := url.Parse(origin.URL)
	require.NoError(t, err)

	tr := policy.NewTransport(origin.Client().Transport, store.NewMemoryStore(), discardLogger())
	h := newTestServer(new(mockUpstream), new(mockSnapshots), WithMirror(originURL, tr))

	fetch := func(path string, header map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		for k, v := range header {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	nav := map[string]string{"Sec-Fetch-Mode": "navigate"}

	assert.Equal(t, "<html>home</html>", fetch("/", nav).Body.String())
	assert.Equal(t, "body{}", fetch("/css/style.css", nil).Body.String())
	assert.Equal(t, "body{}", fetch("/css/style.css", nil).Body.String())
	assert.Equal(t, int32(2), hits.Load(), "static asset served from the offline cache the second time")

	origin.Close()

	rec := fetch("/projects", nav)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>home</html>", rec.Body.String(), "navigation falls back to the shell while offline")

	rec = fetch("/js/app.js", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Offline", rec.Body.String())
}

func TestServer_Healthz(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(new(mockUpstream), new(mockSnapshots)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServer_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(new(mockUpstream), new(mockSnapshots), discardLogger()).Run(ctx, "127.0.0.1:0")
	}()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
