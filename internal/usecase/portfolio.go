package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/portfolio-stats/internal/cache"
	"github.com/naka-gawa/portfolio-stats/internal/domain"
	"github.com/naka-gawa/portfolio-stats/internal/gateway"
)

// CachedFetcher is the cache-backed client the pipeline reads through.
type CachedFetcher interface {
	Get(ctx context.Context, endpoint string) (cache.Result, error)
	GetWith(ctx context.Context, key string, fetch cache.FetchFunc) (cache.Result, error)
}

// ContributionSource supplies per-day contribution counts from somewhere
// other than the public event feed.
type ContributionSource interface {
	FetchContributionCounts(ctx context.Context, login string, from, to time.Time) (map[string]int, error)
}

// PortfolioConfig selects whose data is fetched and how much of it.
type PortfolioConfig struct {
	Username      string
	ReposPerPage  int
	EventsPerPage int
	LanguageLimit int
}

// Portfolio is the use case for the fetch+aggregate pipeline.
// It keeps the last successful Snapshot so failures degrade to last known good.
type Portfolio struct {
	fetcher CachedFetcher
	source  ContributionSource
	cfg     PortfolioConfig
	clock   clockwork.Clock
	logger  logrus.FieldLogger

	mu     sync.RWMutex
	latest *domain.Snapshot
}

// PortfolioOption configures a Portfolio.
type PortfolioOption func(*Portfolio)

// WithContributionSource builds the calendar from src instead of the events feed.
func WithContributionSource(src ContributionSource) PortfolioOption {
	return func(p *Portfolio) { p.source = src }
}

func WithPortfolioClock(clock clockwork.Clock) PortfolioOption {
	return func(p *Portfolio) { p.clock = clock }
}

// NewPortfolio creates a new Portfolio instance.
func NewPortfolio(fetcher CachedFetcher, cfg PortfolioConfig, logger logrus.FieldLogger, opts ...PortfolioOption) *Portfolio {
	if cfg.ReposPerPage <= 0 {
		cfg.ReposPerPage = 100
	}
	if cfg.EventsPerPage <= 0 {
		cfg.EventsPerPage = 100
	}
	if cfg.LanguageLimit <= 0 {
		cfg.LanguageLimit = 8
	}
	p := &Portfolio{
		fetcher: fetcher,
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Refresh runs the pipeline once. On error the previous snapshot is kept
// and marked stale.
func (p *Portfolio) Refresh(ctx context.Context) (*domain.Snapshot, error) {
	snap, err := p.aggregate(ctx)
	if err != nil {
		p.markStale()
		return nil, err
	}
	p.mu.Lock()
	p.latest = snap
	p.mu.Unlock()
	return snap, nil
}

func (p *Portfolio) markStale() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil || p.latest.Stale {
		return
	}
	stale := *p.latest
	stale.Stale = true
	p.latest = &stale
}

func (p *Portfolio) aggregate(ctx context.Context) (*domain.Snapshot, error) {
	log := p.logger.WithField("username", p.cfg.Username)
	log.Debug("Usecase: Starting data aggregation...")
	now := p.clock.Now()

	var userRes, reposRes, eventsRes, countsRes cache.Result

	// Use an errgroup to fetch all data concurrently.
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		userRes, err = p.fetcher.Get(egCtx, gateway.UserPath(p.cfg.Username))
		return err
	})
	eg.Go(func() error {
		var err error
		reposRes, err = p.fetcher.Get(egCtx, gateway.ReposPath(p.cfg.Username, p.cfg.ReposPerPage))
		return err
	})
	eg.Go(func() error {
		var err error
		eventsRes, err = p.fetcher.Get(egCtx, gateway.EventsPath(p.cfg.Username, p.cfg.EventsPerPage))
		return err
	})
	if p.source != nil {
		eg.Go(func() error {
			var err error
			countsRes, err = p.fetcher.GetWith(egCtx, contributionsKey(p.cfg.Username), func(ctx context.Context) (json.RawMessage, error) {
				to := now.UTC()
				from := to.AddDate(0, 0, -(CalendarDays - 1))
				counts, err := p.source.FetchContributionCounts(ctx, p.cfg.Username, from, to)
				if err != nil {
					return nil, err
				}
				return json.Marshal(counts)
			})
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch GitHub data: %w", err)
	}

	user, err := domain.ParseUser(userRes.Payload)
	if err != nil {
		return nil, err
	}
	repos, err := domain.ParseRepositories(reposRes.Payload)
	if err != nil {
		return nil, err
	}
	events, err := domain.ParseEvents(eventsRes.Payload)
	if err != nil {
		return nil, err
	}

	repoStats, err := ComputeRepoStats(repos)
	if err != nil {
		return nil, err
	}

	var calendar []domain.ContributionDay
	if p.source != nil {
		var counts map[string]int
		if err := json.Unmarshal(countsRes.Payload, &counts); err != nil {
			return nil, domain.Malformed("contribution counts: %v", err)
		}
		calendar, err = CalendarFromCounts(counts, now)
	} else {
		calendar, err = ComputeContributionCalendar(events, now)
	}
	if err != nil {
		return nil, err
	}

	snap := &domain.Snapshot{
		Username:      p.cfg.Username,
		User:          user,
		Repositories:  SortRepositories(repos, "updated"),
		Stats:         repoStats,
		Languages:     TopLanguages(repoStats, p.cfg.LanguageLimit),
		Calendar:      calendar,
		Contributions: SummarizeContributions(calendar, events),
		Activity:      events,
		Stale:         userRes.Stale || reposRes.Stale || eventsRes.Stale || countsRes.Stale,
		GeneratedAt:   now,
	}

	log.WithFields(logrus.Fields{
		"repos":  repoStats.TotalRepos,
		"events": len(events),
		"stale":  snap.Stale,
	}).Info("Usecase: Aggregation complete.")
	return snap, nil
}

// Latest returns the last successful snapshot, if any.
func (p *Portfolio) Latest() (*domain.Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.latest != nil
}

// Snapshot returns the latest snapshot, running the pipeline when there is none yet.
func (p *Portfolio) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	if snap, ok := p.Latest(); ok {
		return snap, nil
	}
	return p.Refresh(ctx)
}

func contributionsKey(username string) string {
	return "graphql/contributions/" + username
}
