// Package policy decides, per class of request, whether the offline cache or
// the network answers first, and executes that decision as an http.RoundTripper.
package policy

import (
	"net/http"
	"path"
	"strings"
)

// Class is the kind of resource a request is for.
type Class int

const (
	ClassOther Class = iota
	ClassStatic
	ClassAPI
	ClassNavigation
)

func (c Class) String() string {
	switch c {
	case ClassStatic:
		return "static"
	case ClassAPI:
		return "api"
	case ClassNavigation:
		return "navigation"
	default:
		return "other"
	}
}

// Strategy is how a class of request is served.
type Strategy int

const (
	// NetworkFirst tries the network, caches 200s and falls back to the cache.
	NetworkFirst Strategy = iota
	// CacheFirst serves from the cache and only fetches on a miss.
	CacheFirst
	// StaleWhileRevalidate serves the cache immediately and refreshes it in the background.
	StaleWhileRevalidate
	// NetworkFirstWithShell is NetworkFirst that finally falls back to the cached app shell.
	NetworkFirstWithShell
)

func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cache-first"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	case NetworkFirstWithShell:
		return "network-first-shell"
	default:
		return "network-first"
	}
}

// routes is the routing table from request class to strategy.
var routes = map[Class]Strategy{
	ClassStatic:     CacheFirst,
	ClassAPI:        StaleWhileRevalidate,
	ClassNavigation: NetworkFirstWithShell,
	ClassOther:      NetworkFirst,
}

// StrategyFor looks up the strategy for a class.
func StrategyFor(c Class) Strategy {
	return routes[c]
}

// DefaultStaticExtensions are the file types treated as static assets.
var DefaultStaticExtensions = []string{
	".css", ".js", ".mjs", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp",
	".woff", ".woff2", ".ttf", ".webmanifest",
}

// Classifier sorts requests into classes.
type Classifier struct {
	// APIHosts are hostnames whose requests are API calls, e.g. api.github.com.
	APIHosts []string
	// APIPathPrefixes are path prefixes treated as API calls on any host.
	APIPathPrefixes []string
	// StaticExtensions lists file extensions of static assets.
	StaticExtensions []string
	// StaticPaths are exact paths precached as assets, like /manifest.json.
	StaticPaths []string
}

// DefaultClassifier matches the GitHub API host and the proxy endpoint.
func DefaultClassifier() Classifier {
	return Classifier{
		APIHosts:         []string{"api.github.com"},
		APIPathPrefixes:  []string{"/api/"},
		StaticExtensions: DefaultStaticExtensions,
		StaticPaths:      []string{"/manifest.json"},
	}
}

// Classify returns the class of req. API wins over navigation, which wins
// over static assets.
func (c Classifier) Classify(req *http.Request) Class {
	host := req.URL.Hostname()
	if host == "" {
		host = req.Host
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
	}
	for _, h := range c.APIHosts {
		if strings.EqualFold(h, host) {
			return ClassAPI
		}
	}
	p := req.URL.Path
	for _, prefix := range c.APIPathPrefixes {
		if strings.HasPrefix(p, prefix) {
			return ClassAPI
		}
	}
	if isNavigation(req) {
		return ClassNavigation
	}
	for _, sp := range c.StaticPaths {
		if p == sp {
			return ClassStatic
		}
	}
	ext := strings.ToLower(path.Ext(p))
	for _, e := range c.StaticExtensions {
		if ext == e {
			return ClassStatic
		}
	}
	return ClassOther
}

func isNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
