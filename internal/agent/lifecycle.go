package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-cache-agent/internal/cache"
	"github.com/iTrooz/offline-cache-agent/internal/metrics"
)

// ErrInstallFailed wraps every error that aborts an install.
var ErrInstallFailed = errors.New("install failed")

// Install precaches the manifest into the current store, then asks the host
// to activate without waiting.
func (a *Agent) Install() Effect {
	return Effect{WaitUntil: []Task{a.install}}
}

func (a *Agent) install(ctx context.Context) error {
	logrus.Infof("Installing cache generation %s", a.generation)

	store, err := a.storage.Open(ctx, a.generation)
	if err != nil {
		metrics.LifecycleTotal.WithLabelValues("install", "error").Inc()
		return fmt.Errorf("%w: opening cache %s: %w", ErrInstallFailed, a.generation, err)
	}

	urls, err := a.precacheURLs()
	if err != nil {
		metrics.LifecycleTotal.WithLabelValues("install", "error").Inc()
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	requests := make([]*http.Request, 0, len(urls))
	for _, u := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			metrics.LifecycleTotal.WithLabelValues("install", "error").Inc()
			return fmt.Errorf("%w: %w", ErrInstallFailed, err)
		}
		requests = append(requests, req)
	}

	logrus.Infof("Caching %d files", len(requests))
	if err := AddAll(ctx, store, a.network, requests); err != nil {
		metrics.LifecycleTotal.WithLabelValues("install", "error").Inc()
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	metrics.LifecycleTotal.WithLabelValues("install", "ok").Inc()
	logrus.Infof("Installation of %s complete", a.generation)
	return a.host.SkipWaiting(ctx)
}

func (a *Agent) precacheURLs() ([]*url.URL, error) {
	urls := make([]*url.URL, 0, len(a.manifest))
	for _, p := range a.manifest {
		ref, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("invalid manifest entry %q: %w", p, err)
		}
		urls = append(urls, a.origin.ResolveReference(ref))
	}
	return urls, nil
}

// PrecacheKeys returns the cache keys install stores, in manifest order.
// Unparseable manifest entries are skipped.
func (a *Agent) PrecacheKeys() []string {
	keys := make([]string, 0, len(a.manifest))
	for _, p := range a.manifest {
		ref, err := url.Parse(p)
		if err != nil {
			continue
		}
		keys = append(keys, cache.RequestKey(http.MethodGet, a.origin.ResolveReference(ref)))
	}
	return keys
}

// AddAll fetches every request and stores the responses only when all of
// them succeeded. Nothing is written on failure.
func AddAll(ctx context.Context, store cache.Store, network Network, requests []*http.Request) error {
	responses := make([]*cache.Response, len(requests))
	for i, req := range requests {
		resp, err := network.Fetch(ctx, req)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", req.URL, err)
		}
		if !resp.OK() {
			return fmt.Errorf("fetching %s: unexpected status %d", req.URL, resp.StatusCode)
		}
		responses[i] = resp
	}

	for i, req := range requests {
		if err := store.Put(ctx, cache.RequestKey(req.Method, req.URL), responses[i]); err != nil {
			return fmt.Errorf("storing %s: %w", req.URL, err)
		}
	}
	return nil
}

// Activate deletes every store that is not the current generation, then
// claims all open clients.
func (a *Agent) Activate() Effect {
	return Effect{WaitUntil: []Task{a.activate}}
}

func (a *Agent) activate(ctx context.Context) error {
	logrus.Infof("Activating cache generation %s", a.generation)

	names, err := a.storage.Keys(ctx)
	if err != nil {
		metrics.LifecycleTotal.WithLabelValues("activate", "error").Inc()
		return fmt.Errorf("listing caches: %w", err)
	}

	var errs []error
	for _, name := range names {
		if name == a.generation {
			continue
		}
		logrus.Infof("Deleting old cache %s", name)
		if _, err := a.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("deleting cache %s: %w", name, err))
			continue
		}
		metrics.StoresDeletedTotal.Inc()
	}
	if err := errors.Join(errs...); err != nil {
		metrics.LifecycleTotal.WithLabelValues("activate", "error").Inc()
		return err
	}

	metrics.LifecycleTotal.WithLabelValues("activate", "ok").Inc()
	logrus.Infof("Activation of %s complete", a.generation)
	return a.host.Claim(ctx)
}
