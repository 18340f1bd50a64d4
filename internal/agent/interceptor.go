package agent

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-cache-agent/internal/cache"
	"github.com/iTrooz/offline-cache-agent/internal/metrics"
)

// Destination is the kind of resource a request is for.
type Destination string

const (
	DestinationEmpty    Destination = ""
	DestinationDocument Destination = "document"
	DestinationStyle    Destination = "style"
	DestinationImage    Destination = "image"
	DestinationManifest Destination = "manifest"
)

// FetchEvent is one request issued by a controlled client.
type FetchEvent struct {
	Request     *http.Request
	Destination Destination
}

// IsNavigation reports whether the request loads a page.
func (e FetchEvent) IsNavigation() bool {
	return e.Destination == DestinationDocument
}

// TargetURL returns the absolute URL a request is for
func TargetURL(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		return r.URL
	}

	// Reconstruct URL from Host header
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	u := *r.URL
	u.Scheme = scheme
	u.Host = r.Host
	return &u
}

// Fetch handles a request from a controlled client: cache first, then network.
func (a *Agent) Fetch(ctx context.Context, ev FetchEvent) Effect {
	req := ev.Request
	if req.Method != http.MethodGet {
		return passthrough()
	}

	target := TargetURL(req)
	if !sameOrigin(target, a.origin) {
		return passthrough()
	}

	key := cache.RequestKey(req.Method, target)
	if resp := a.match(ctx, key); resp != nil {
		logrus.Debugf("Serving from cache: %s", target)
		return Effect{Response: resp, Source: SourceCache}
	}

	logrus.Debugf("Fetching from network: %s", target)
	resp, err := a.network.Fetch(ctx, req)
	if err != nil {
		return a.fallback(ctx, ev, err)
	}

	if !cacheable(resp) {
		return Effect{Response: resp, Source: SourceNetwork}
	}

	// Duplicate before either copy is handed out
	stored := resp.Clone()
	return Effect{
		Response:  resp,
		Source:    SourceNetwork,
		WaitUntil: []Task{a.putTask(key, stored)},
	}
}

// sameOrigin compares scheme, host and port, filling in default ports
func sameOrigin(u, origin *url.URL) bool {
	return strings.EqualFold(u.Scheme, origin.Scheme) &&
		strings.EqualFold(hostWithPort(u), hostWithPort(origin))
}

func hostWithPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		return u.Hostname() + ":80"
	case "https":
		return u.Hostname() + ":443"
	}
	return u.Host
}

// cacheable keeps only complete same-origin 200 responses
func cacheable(resp *cache.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusOK && resp.Type == cache.TypeBasic
}

// match looks the key up in the current store. Lookup errors count as a
// miss. A missing store stays missing.
func (a *Agent) match(ctx context.Context, key string) *cache.Response {
	store, ok, err := a.storage.Lookup(ctx, a.generation)
	if err != nil {
		logrus.Errorf("Failed to open cache %s: %v", a.generation, err)
		return nil
	}
	if !ok {
		return nil
	}

	resp, err := store.Match(ctx, key)
	if err != nil {
		logrus.Errorf("Failed to get cached data for %s: %v", key, err)
		return nil
	}
	return resp
}

// putTask stores resp in the background. Failures are logged, never surfaced.
// Nothing is written once the store has been deleted by a newer generation.
func (a *Agent) putTask(key string, resp *cache.Response) Task {
	return func(ctx context.Context) error {
		store, ok, err := a.storage.Lookup(ctx, a.generation)
		if err == nil && !ok {
			err = cache.ErrNotFound
		}
		if err == nil {
			err = store.Put(ctx, key, resp)
		}

		switch {
		case errors.Is(err, cache.ErrNotFound):
			metrics.CacheWritesTotal.WithLabelValues("skipped").Inc()
			logrus.Debugf("Cache %s is gone, not caching %s", a.generation, key)
		case err != nil:
			metrics.CacheWritesTotal.WithLabelValues("error").Inc()
			logrus.Warnf("Failed to cache response for %s: %v", key, err)
		default:
			metrics.CacheWritesTotal.WithLabelValues("ok").Inc()
		}
		return nil
	}
}

// fallback serves the cached root document to offline navigations
func (a *Agent) fallback(ctx context.Context, ev FetchEvent, fetchErr error) Effect {
	if !ev.IsNavigation() {
		return Effect{Err: fetchErr}
	}

	root := a.origin.ResolveReference(&url.URL{Path: "/"})
	if resp := a.match(ctx, cache.RequestKey(http.MethodGet, root)); resp != nil {
		logrus.Infof("Network unavailable, serving cached root for %s", TargetURL(ev.Request))
		return Effect{Response: resp, Source: SourceFallback}
	}
	return Effect{Err: fetchErr}
}
