package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/naka-gawa/portfolio-stats/internal/store"
)

// DefaultCacheName versions the offline cache; entries of other versions are pruned.
const DefaultCacheName = "dnyf-tetch-v3"

// cachedResponse is how a response is persisted in the store.
type cachedResponse struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
}

// Transport serves GET requests according to the routing table, keeping
// responses in a store. Other methods go straight to Base.
type Transport struct {
	base       http.RoundTripper
	store      store.Store
	classifier Classifier
	cacheName  string
	shellPath  string
	clock      clockwork.Clock
	logger     logrus.FieldLogger

	wg sync.WaitGroup
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

func WithClassifier(c Classifier) TransportOption {
	return func(t *Transport) { t.classifier = c }
}

func WithCacheName(name string) TransportOption {
	return func(t *Transport) {
		if name != "" {
			t.cacheName = name
		}
	}
}

func WithShellPath(p string) TransportOption {
	return func(t *Transport) {
		if p != "" {
			t.shellPath = p
		}
	}
}

func WithClock(clock clockwork.Clock) TransportOption {
	return func(t *Transport) { t.clock = clock }
}

// NewTransport wraps base (http.DefaultTransport when nil).
// NewBaseTransport clones http.DefaultTransport and bounds how long it waits
// to connect and for response headers.
func NewBaseTransport(timeout time.Duration) *http.Transport {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	base.TLSHandshakeTimeout = timeout
	base.ResponseHeaderTimeout = timeout
	return base
}

func NewTransport(base http.RoundTripper, st store.Store, logger logrus.FieldLogger, opts ...TransportOption) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Transport{
		base:       base,
		store:      st,
		classifier: DefaultClassifier(),
		cacheName:  DefaultCacheName,
		shellPath:  "/",
		clock:      clockwork.NewRealClock(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return t.base.RoundTrip(req)
	}
	class := t.classifier.Classify(req)
	strategy := StrategyFor(class)
	t.logger.WithFields(logrus.Fields{
		"url":      req.URL.String(),
		"class":    class.String(),
		"strategy": strategy.String(),
	}).Debug("Routing request")

	switch strategy {
	case CacheFirst:
		return t.cacheFirst(req)
	case StaleWhileRevalidate:
		return t.staleWhileRevalidate(req)
	case NetworkFirstWithShell:
		return t.networkFirst(req, true)
	default:
		return t.networkFirst(req, false)
	}
}

func (t *Transport) cacheFirst(req *http.Request) (*http.Response, error) {
	if resp, ok := t.lookup(req.Context(), req, req.URL); ok {
		return resp, nil
	}
	resp, err := t.fetchAndStore(req)
	if err != nil {
		return t.offline(req), nil
	}
	return resp, nil
}

func (t *Transport) staleWhileRevalidate(req *http.Request) (*http.Response, error) {
	if resp, ok := t.lookup(req.Context(), req, req.URL); ok {
		t.revalidate(req)
		return resp, nil
	}
	resp, err := t.fetchAndStore(req)
	if err != nil {
		return t.offline(req), nil
	}
	return resp, nil
}

func (t *Transport) networkFirst(req *http.Request, shell bool) (*http.Response, error) {
	resp, err := t.fetchAndStore(req)
	if err == nil {
		return resp, nil
	}
	t.logger.WithField("url", req.URL.String()).WithError(err).Debug("Network failed, trying offline cache")
	if cached, ok := t.lookup(req.Context(), req, req.URL); ok {
		return cached, nil
	}
	if shell {
		shellURL := *req.URL
		shellURL.Path, shellURL.RawPath, shellURL.RawQuery = t.shellPath, "", ""
		if cached, ok := t.lookup(req.Context(), req, &shellURL); ok {
			return cached, nil
		}
	}
	return t.offline(req), nil
}

// revalidate refreshes the cached copy of req in the background. Failures
// keep the stale copy in place.
func (t *Transport) revalidate(req *http.Request) {
	bg := req.Clone(context.WithoutCancel(req.Context()))
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		resp, err := t.fetchAndStore(bg)
		if err != nil {
			t.logger.WithField("url", bg.URL.String()).WithError(err).Debug("Background refresh failed")
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
}

// Wait blocks until background refreshes have finished.
func (t *Transport) Wait() {
	t.wg.Wait()
}

// fetchAndStore performs the network request and stores 200 responses.
func (t *Transport) fetchAndStore(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err := t.put(req.Context(), req.URL, resp, body); err != nil {
		t.logger.WithField("url", req.URL.String()).WithError(err).Warn("Failed to store offline copy")
	}
	return resp, nil
}

func (t *Transport) put(ctx context.Context, u *url.URL, resp *http.Response, body []byte) error {
	data, err := json.Marshal(cachedResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		StoredAt:   t.clock.Now(),
	})
	if err != nil {
		return err
	}
	return t.store.Set(ctx, t.key(u), data)
}

func (t *Transport) lookup(ctx context.Context, req *http.Request, u *url.URL) (*http.Response, bool) {
	data, ok, err := t.store.Get(ctx, t.key(u))
	if err != nil || !ok {
		return nil, false
	}
	var cr cachedResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		t.logger.WithField("url", u.String()).WithError(err).Warn("Discarding unreadable offline copy")
		return nil, false
	}
	header := cr.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("X-Offline-Cache", "HIT")
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", cr.StatusCode, http.StatusText(cr.StatusCode)),
		StatusCode:    cr.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(cr.Body)),
		ContentLength: int64(len(cr.Body)),
		Request:       req,
	}, true
}

func (t *Transport) offline(req *http.Request) *http.Response {
	body := "Offline"
	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func (t *Transport) key(u *url.URL) string {
	return t.cacheName + "|" + u.String()
}

// Precache fetches every asset (paths relative to origin) into the cache.
// Nothing is stored unless every asset was fetched.
func (t *Transport) Precache(ctx context.Context, origin string, assets []string) error {
	base, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("failed to parse origin: %w", err)
	}
	type staged struct {
		u    *url.URL
		resp *http.Response
		body []byte
	}
	batch := make([]staged, 0, len(assets))
	for _, asset := range assets {
		ref, err := url.Parse(asset)
		if err != nil {
			return fmt.Errorf("failed to parse asset %q: %w", asset, err)
		}
		u := base.ResolveReference(ref)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return fmt.Errorf("failed to precache %s: %w", u, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", u, err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to precache %s: status %d", u, resp.StatusCode)
		}
		batch = append(batch, staged{u: u, resp: resp, body: body})
	}
	for _, e := range batch {
		if err := t.put(ctx, e.u, e.resp, e.body); err != nil {
			return fmt.Errorf("failed to store %s: %w", e.u, err)
		}
	}
	t.logger.WithField("assets", len(assets)).Info("Precached offline assets")
	return nil
}

// Prune deletes entries that belong to other cache versions.
func (t *Transport) Prune(ctx context.Context) (int, error) {
	keys, err := t.store.Keys(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list offline cache: %w", err)
	}
	removed := 0
	for _, k := range keys {
		if strings.HasPrefix(k, t.cacheName+"|") {
			continue
		}
		if err := t.store.Delete(ctx, k); err != nil {
			return removed, fmt.Errorf("failed to delete %s: %w", k, err)
		}
		removed++
	}
	return removed, nil
}
