// Package server exposes the GitHub proxy and the aggregated portfolio over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/timeout"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/naka-gawa/portfolio-stats/internal/domain"
	"github.com/naka-gawa/portfolio-stats/internal/usecase"
)

const (
	proxyCacheControl = "public, max-age=300"
	// DefaultTimeout bounds each proxied GitHub request.
	DefaultTimeout = 10 * time.Second
)

// Upstream fetches a raw GitHub REST payload by API path.
type Upstream interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
}

// SnapshotSource returns the latest aggregated portfolio.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*domain.Snapshot, error)
}

type Server struct {
	upstream  Upstream
	snapshots SnapshotSource
	mirror    http.Handler
	timeout   time.Duration
	clock     clockwork.Clock
	logger    logrus.FieldLogger
}

// Option configures a Server.
type Option func(*Server)

// WithMirror serves every non-API path from origin through transport.
func WithMirror(origin *url.URL, transport http.RoundTripper) Option {
	return func(s *Server) {
		s.mirror = &httputil.ReverseProxy{
			Rewrite: func(r *httputil.ProxyRequest) {
				r.SetURL(origin)
				r.Out.Host = origin.Host
			},
			Transport: transport,
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				s.logger.WithField("path", r.URL.Path).WithError(err).Warn("Mirror request failed")
				http.Error(w, "Offline", http.StatusServiceUnavailable)
			},
		}
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

// WithTimeout bounds each proxied GitHub request. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(upstream Upstream, snapshots SnapshotSource, logger logrus.FieldLogger, opts ...Option) *Server {
	s := &Server{
		upstream:  upstream,
		snapshots: snapshots,
		timeout:   DefaultTimeout,
		clock:     clockwork.NewRealClock(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/github", s.handleGitHubProxy)
	mux.HandleFunc("GET /api/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/contributions", s.handleContributions)
	mux.HandleFunc("GET /api/repos", s.handleRepos)
	mux.HandleFunc("GET /api/activity", s.handleActivity)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if s.mirror != nil {
		mux.Handle("/", s.mirror)
	}
	return s.logRequests(mux)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"status":  rec.status,
			"elapsed": s.clock.Since(start),
		}).Debug("Handled request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// handleGitHubProxy forwards ?path= to the GitHub REST API.
func (s *Server) handleGitHubProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
		return
	}
	path := strings.TrimPrefix(r.URL.Query().Get("path"), "/")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Missing path parameter"})
		return
	}
	t := timeout.New[json.RawMessage](timeout.Config{DefaultTimeout: s.timeout})
	payload, err := t.Execute(r.Context(), s.timeout, func(ctx context.Context) (json.RawMessage, error) {
		return s.upstream.Get(ctx, path)
	})
	if err != nil {
		s.logger.WithField("path", path).WithError(err).Warn("GitHub proxy error")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Failed to fetch from GitHub", Message: err.Error()})
		return
	}
	w.Header().Set("Cache-Control", proxyCacheControl)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (*domain.Snapshot, bool) {
	snap, err := s.snapshots.Snapshot(r.Context())
	if err != nil {
		s.logger.WithError(err).Warn("Portfolio unavailable")
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "Failed to load portfolio", Message: err.Error()})
		return nil, false
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if snap.Stale {
		w.Header().Set("X-Data-Stale", "true")
	}
	return snap, true
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if snap, ok := s.snapshot(w, r); ok {
		writeJSON(w, http.StatusOK, snap)
	}
}

type statsBody struct {
	User        *domain.User           `json:"user"`
	Stats       domain.RepoStats       `json:"stats"`
	Languages   []domain.LanguageShare `json:"languages"`
	GeneratedAt time.Time              `json:"generated_at"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statsBody{
		User:        snap.User,
		Stats:       snap.Stats,
		Languages:   snap.Languages,
		GeneratedAt: snap.GeneratedAt,
	})
}

type contributionsBody struct {
	Calendar      []domain.ContributionDay `json:"calendar"`
	Contributions domain.ContributionStats `json:"contributions"`
}

func (s *Server) handleContributions(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, contributionsBody{Calendar: snap.Calendar, Contributions: snap.Contributions})
}

func (s *Server) handleRepos(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	repos := usecase.FilterRepositories(usecase.SortRepositories(snap.Repositories, q.Get("sort")), q.Get("q"))
	if repos == nil {
		repos = []domain.Repository{}
	}
	writeJSON(w, http.StatusOK, repos)
}

// activityItem is an event as rendered in the activity feed.
type activityItem struct {
	Type        string    `json:"type"`
	Repo        string    `json:"repo,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	TimeAgo     string    `json:"time_ago"`
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := usecase.DefaultActivityLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid limit parameter"})
			return
		}
		limit = n
	}
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	now := s.clock.Now()
	items := []activityItem{}
	for _, ev := range usecase.FilterActivity(snap.Activity, q.Get("filter"), limit) {
		item := activityItem{
			Type:        ev.Type,
			Description: usecase.DescribeEvent(ev),
			CreatedAt:   ev.CreatedAt,
			TimeAgo:     usecase.TimeAgo(ev.CreatedAt, now),
		}
		if ev.Repo != nil {
			item.Repo = ev.Repo.Name
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
