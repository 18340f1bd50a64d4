// Package agent implements the offline cache agent: lifecycle transitions,
// cache-first request interception and the notification stubs.
//
// Every handler returns an Effect describing what the host must do
// (respond, pass through, keep the agent alive for background work)
// instead of performing host-side actions itself.
package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/iTrooz/offline-cache-agent/internal/cache"
)

// Generation names the current cache store.
// Bump it whenever a precached asset changes.
const Generation = "pdf-splitter-v1.0.0"

// PrecacheManifest lists the assets fetched unconditionally at install time.
var PrecacheManifest = []string{
	"/",
	"/static/style.css",
	"/static/manifest.json",
	"/static/icons/icon-192x192.png",
	"/static/icons/icon-512x512.png",
}

// Network issues requests to the origin.
type Network interface {
	Fetch(ctx context.Context, req *http.Request) (*cache.Response, error)
}

// Host is the control surface of the environment running the agent.
type Host interface {
	// SkipWaiting asks for immediate activation after install.
	SkipWaiting(ctx context.Context) error
	// Claim takes control of every open client.
	Claim(ctx context.Context) error
	// OpenWindow opens or focuses a client on the given path.
	OpenWindow(ctx context.Context, path string) error
}

// Options configures a new Agent. Origin, Storage and Network are required.
type Options struct {
	Origin     *url.URL
	Generation string
	Manifest   []string
	Storage    cache.Storage
	Network    Network
	Host       Host
	Notifier   Notifier

	NotificationTitle       string
	DefaultNotificationBody string
}

// Agent is one generation of the offline cache agent.
type Agent struct {
	origin     *url.URL
	generation string
	manifest   []string
	storage    cache.Storage
	network    Network
	host       Host
	notifier   Notifier

	notificationTitle string
	defaultBody       string

	now func() time.Time
}

// New creates an agent
func New(opts Options) (*Agent, error) {
	if opts.Origin == nil || opts.Origin.Scheme == "" || opts.Origin.Host == "" {
		return nil, fmt.Errorf("an absolute origin URL is required")
	}
	if opts.Storage == nil {
		return nil, fmt.Errorf("cache storage is required")
	}
	if opts.Network == nil {
		return nil, fmt.Errorf("network is required")
	}

	a := &Agent{
		origin:            &url.URL{Scheme: opts.Origin.Scheme, Host: opts.Origin.Host},
		generation:        opts.Generation,
		manifest:          append([]string(nil), opts.Manifest...),
		storage:           opts.Storage,
		network:           opts.Network,
		host:              opts.Host,
		notifier:          opts.Notifier,
		notificationTitle: opts.NotificationTitle,
		defaultBody:       opts.DefaultNotificationBody,
		now:               time.Now,
	}

	if a.generation == "" {
		a.generation = Generation
	}
	if len(a.manifest) == 0 {
		a.manifest = append([]string(nil), PrecacheManifest...)
	}
	if a.host == nil {
		a.host = nopHost{}
	}
	if a.notifier == nil {
		a.notifier = nopNotifier{}
	}
	if a.notificationTitle == "" {
		a.notificationTitle = DefaultNotificationTitle
	}
	if a.defaultBody == "" {
		a.defaultBody = DefaultNotificationBody
	}

	return a, nil
}

// Generation returns the name of the cache store this agent owns.
func (a *Agent) Generation() string {
	return a.generation
}

// Origin returns the scheme and host the agent controls.
func (a *Agent) Origin() *url.URL {
	u := *a.origin
	return &u
}

// Manifest returns a copy of the precache manifest.
func (a *Agent) Manifest() []string {
	return append([]string(nil), a.manifest...)
}

type nopHost struct{}

func (nopHost) SkipWaiting(context.Context) error { return nil }
func (nopHost) Claim(context.Context) error { return nil }
func (nopHost) OpenWindow(context.Context, string) error { return nil }
