// Package cache implements the cache-backed fetch client: fresh entries are
// served without a network call, failures fall back to the last stored copy.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/timeout"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/naka-gawa/portfolio-stats/internal/domain"
	"github.com/naka-gawa/portfolio-stats/internal/store"
)

const (
	// DefaultFreshness is how long a stored response is served without refetching.
	DefaultFreshness = 5 * time.Minute
	// DefaultTimeout bounds every network call made through the client.
	DefaultTimeout = 10 * time.Second

	timestampSuffix = "_timestamp"
)

// Transport performs the actual network request for an endpoint path.
type Transport interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
}

// FetchFunc produces a fresh payload for a key that is not a plain REST path.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// Result is a payload together with where it came from.
type Result struct {
	Payload   json.RawMessage
	FetchedAt time.Time
	// FromCache is true when no network call produced this payload.
	FromCache bool
	// Stale is true when the entry was past its freshness window and served
	// because the refetch failed.
	Stale bool
}

// Client is the cache-backed fetch client.
type Client struct {
	store     store.Store
	transport Transport
	clock     clockwork.Clock
	freshness time.Duration
	timeout   time.Duration
	group     singleflight.Group
	logger    logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func WithFreshness(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.freshness = d
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a Client persisting entries to st.
func NewClient(st store.Store, transport Transport, logger logrus.FieldLogger, opts ...Option) *Client {
	c := &Client{
		store:     st,
		transport: transport,
		clock:     clockwork.NewRealClock(),
		freshness: DefaultFreshness,
		timeout:   DefaultTimeout,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the payload for a REST endpoint path such as
// "users/octocat/repos?per_page=100&sort=updated".
func (c *Client) Get(ctx context.Context, endpoint string) (Result, error) {
	return c.GetWith(ctx, endpoint, func(ctx context.Context) (json.RawMessage, error) {
		return c.transport.Get(ctx, endpoint)
	})
}

// GetWith applies the cache policy to key using fetch as the network source.
func (c *Client) GetWith(ctx context.Context, key string, fetch FetchFunc) (Result, error) {
	log := c.logger.WithField("key", key)

	entry, found, err := c.Peek(ctx, key)
	if err != nil {
		log.WithError(err).Warn("Ignoring unreadable cache entry")
		found = false
	}
	if found && c.clock.Since(entry.FetchedAt) < c.freshness {
		log.Debug("Serving fresh cache entry")
		return Result{Payload: entry.Payload, FetchedAt: entry.FetchedAt, FromCache: true}, nil
	}

	// The shared fetch outlives any single caller; the timeout still bounds it.
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.fetch(context.WithoutCancel(ctx), key, fetch)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res = <-ch:
	}
	err = res.Err
	if err == nil {
		if res.Shared {
			log.Debug("Joined in-flight fetch")
		}
		return res.Val.(Result), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	if found {
		log.WithError(err).Warn("Fetch failed, serving stale cache entry")
		return Result{Payload: entry.Payload, FetchedAt: entry.FetchedAt, FromCache: true, Stale: true}, nil
	}
	return Result{}, fmt.Errorf("%w: failed to fetch %s: %w", domain.ErrCacheMiss, key, err)
}

func (c *Client) fetch(ctx context.Context, key string, fetch FetchFunc) (Result, error) {
	t := timeout.New[json.RawMessage](timeout.Config{DefaultTimeout: c.timeout})
	payload, err := t.Execute(ctx, c.timeout, func(ctx context.Context) (json.RawMessage, error) {
		return fetch(ctx)
	})
	if err != nil {
		var httpErr *domain.HTTPError
		if !errors.As(err, &httpErr) && !errors.Is(err, domain.ErrNetwork) && !errors.Is(err, domain.ErrMalformedInput) {
			err = &domain.NetworkError{Path: key, Err: err}
		}
		return Result{}, err
	}
	if !json.Valid(payload) {
		return Result{}, domain.Malformed("%s returned invalid JSON", key)
	}

	now := c.clock.Now()
	if err := c.save(ctx, key, payload, now); err != nil {
		c.logger.WithField("key", key).WithError(err).Warn("Failed to persist cache entry")
	}
	c.logger.WithField("key", key).Debug("Fetched from network")
	return Result{Payload: payload, FetchedAt: now}, nil
}

// Peek returns the stored entry for key without touching the network.
func (c *Client) Peek(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	payload, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return domain.CacheEntry{}, false, err
	}
	rawTS, ok, err := c.store.Get(ctx, key+timestampSuffix)
	if err != nil || !ok {
		return domain.CacheEntry{}, false, err
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(rawTS)), 10, 64)
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("failed to parse timestamp for %s: %w", key, err)
	}
	return domain.CacheEntry{
		Key:       key,
		Payload:   json.RawMessage(payload),
		FetchedAt: time.UnixMilli(ms),
	}, true, nil
}

// Entries lists every stored entry.
func (c *Client) Entries(ctx context.Context) ([]domain.CacheEntry, error) {
	keys, err := c.store.Keys(ctx, "")
	if err != nil {
		return nil, err
	}
	var entries []domain.CacheEntry
	for _, k := range keys {
		if strings.HasSuffix(k, timestampSuffix) {
			continue
		}
		entry, ok, err := c.Peek(ctx, k)
		if err != nil {
			c.logger.WithField("key", k).WithError(err).Warn("Skipping unreadable cache entry")
			continue
		}
		if ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Clear removes every cached entry and returns how many endpoints were dropped.
func (c *Client) Clear(ctx context.Context) (int, error) {
	keys, err := c.store.Keys(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list cache keys: %w", err)
	}
	var endpoints int
	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			return endpoints, fmt.Errorf("failed to delete %s: %w", k, err)
		}
		if !strings.HasSuffix(k, timestampSuffix) {
			endpoints++
		}
	}
	return endpoints, nil
}

func (c *Client) save(ctx context.Context, key string, payload json.RawMessage, at time.Time) error {
	if err := c.store.Set(ctx, key, payload); err != nil {
		return err
	}
	return c.store.Set(ctx, key+timestampSuffix, []byte(strconv.FormatInt(at.UnixMilli(), 10)))
}
