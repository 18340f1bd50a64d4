package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/hashicorp/go-version"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-cache-agent/internal/agent"
	"github.com/iTrooz/offline-cache-agent/internal/cache"
	"github.com/iTrooz/offline-cache-agent/internal/config"
)

// Server hosts the offline agent behind a forward proxy
type Server struct {
	config       *config.Config
	origin       *url.URL
	proxy        *goproxy.ProxyHttpServer
	storage      cache.Storage
	network      agent.Network
	registration *agent.Registration
	notifier     *LogNotifier

	// background WaitUntil work still running
	tasks sync.WaitGroup
}

// New creates a new proxy server
func New(cfg *config.Config) (*Server, error) {
	origin, err := cfg.GetOriginURL()
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}

	timeout, err := cfg.GetNetworkTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid network timeout: %w", err)
	}

	storage, err := newStorage(cfg)
	if err != nil {
		return nil, err
	}

	// Requests to the origin must never loop back through a configured proxy
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil

	s := &Server{
		config:       cfg,
		origin:       origin,
		proxy:        goproxy.NewProxyHttpServer(),
		storage:      storage,
		network:      agent.NewHTTPNetwork(&http.Client{Timeout: timeout, Transport: transport}, origin),
		registration: agent.NewRegistration(),
		notifier:     NewLogNotifier(),
	}

	s.proxy.Logger = logrus.StandardLogger()
	s.proxy.Verbose = logrus.IsLevelEnabled(logrus.DebugLevel)
	s.proxy.CertStore = newCertStore()

	if cfg.Server.HTTPS.Enabled {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			_ = storage.Close()
			return nil, err
		}
	}

	s.proxy.OnRequest().DoFunc(s.handleRequest)

	return s, nil
}

func newStorage(cfg *config.Config) (cache.Storage, error) {
	switch cfg.Cache.Backend {
	case config.BackendMemory:
		return cache.NewMemory(), nil
	case config.BackendSQLite:
		storage, err := cache.NewSQLite(cfg.Cache.SQLitePath)
		if err != nil {
			return nil, err
		}
		return storage, nil
	default:
		storage, err := cache.NewDisk(cfg.Cache.Folder)
		if err != nil {
			return nil, err
		}
		return storage, nil
	}
}

// GetProxy returns the goproxy handler (exported for testing)
func (s *Server) GetProxy() *goproxy.ProxyHttpServer {
	return s.proxy
}

// Registration returns the lifecycle state of the hosted agents
func (s *Server) Registration() *agent.Registration {
	return s.registration
}

// Storage returns the cache storage shared by every generation
func (s *Server) Storage() cache.Storage {
	return s.storage
}

func (s *Server) generation() string {
	if s.config.Cache.Generation != "" {
		return s.config.Cache.Generation
	}
	return agent.Generation
}

func (s *Server) newAgent(generation string) (*agent.Agent, error) {
	return agent.New(agent.Options{
		Origin:                  s.origin,
		Generation:              generation,
		Storage:                 s.storage,
		Network:                 s.network,
		Host:                    s.registration,
		Notifier:                s.notifier,
		NotificationTitle:       s.config.Notifications.Title,
		DefaultNotificationBody: s.config.Notifications.DefaultBody,
	})
}

// Bootstrap restores the generation left by a previous run and installs the
// configured generation if it is not fully precached yet.
func (s *Server) Bootstrap(ctx context.Context) error {
	current, err := s.newAgent(s.generation())
	if err != nil {
		return err
	}

	installed, err := s.installed(ctx, current)
	if err != nil {
		return err
	}
	if installed {
		s.registration.Resume(current)
		return nil
	}

	names, err := s.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list caches: %w", err)
	}
	if name := previousGeneration(names, current.Generation()); name != "" {
		// Keep serving the previous generation while the new one installs
		previous, err := s.newAgent(name)
		if err != nil {
			return err
		}
		s.registration.Resume(previous)
	}

	return s.registration.Register(ctx, current)
}

// previousGeneration returns the newest store name other than current.
// Names ending in a version compare by that version, after any others.
func previousGeneration(names []string, current string) string {
	var newest string
	for _, name := range names {
		if name == current {
			continue
		}
		if newest == "" || newerGeneration(name, newest) {
			newest = name
		}
	}
	return newest
}

var generationVersion = regexp.MustCompile(`v?\d+(\.\d+)*$`)

func newerGeneration(a, b string) bool {
	va, errA := parseGeneration(a)
	vb, errB := parseGeneration(b)
	switch {
	case errA == nil && errB == nil && !va.Equal(vb):
		return va.GreaterThan(vb)
	case errA == nil && errB != nil:
		return true
	case errA != nil && errB == nil:
		return false
	}
	return a > b
}

func parseGeneration(name string) (*version.Version, error) {
	v := generationVersion.FindString(name)
	if v == "" {
		return nil, fmt.Errorf("no version in generation %q", name)
	}
	return version.NewVersion(v)
}

// installed reports whether every precache entry of a is already stored
func (s *Server) installed(ctx context.Context, a *agent.Agent) (bool, error) {
	store, ok, err := s.storage.Lookup(ctx, a.Generation())
	if err != nil || !ok {
		return false, err
	}
	for _, key := range a.PrecacheKeys() {
		resp, err := store.Match(ctx, key)
		if err != nil {
			return false, err
		}
		if resp == nil {
			return false, nil
		}
	}
	return true, nil
}

// Update registers a new agent for the given generation, or the configured
// one when empty.
func (s *Server) Update(ctx context.Context, generation string) error {
	if generation == "" {
		generation = s.generation()
	}
	a, err := s.newAgent(generation)
	if err != nil {
		return err
	}
	return s.registration.Register(ctx, a)
}

// waitUntil keeps the effect's background work running past the response
func (s *Server) waitUntil(ctx context.Context, eff agent.Effect) {
	if len(eff.WaitUntil) == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		if err := eff.Settle(ctx); err != nil {
			logrus.Errorf("Background task failed: %v", err)
		}
	}()
}

// Wait blocks until all background work has finished
func (s *Server) Wait() {
	s.tasks.Wait()
}

// Close waits for background work and releases the cache storage
func (s *Server) Close() error {
	s.Wait()
	return s.storage.Close()
}

// Start bootstraps the agent and serves the proxy (and the admin API when
// configured) until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	if err := s.Bootstrap(ctx); err != nil {
		logrus.Errorf("Initial install failed: %v", err)
	}

	servers := []*http.Server{{
		Addr:    fmt.Sprintf(":%d", s.config.Server.Port),
		Handler: s.proxy,
	}}
	if s.config.Server.AdminPort != 0 {
		servers = append(servers, &http.Server{
			Addr:    fmt.Sprintf(":%d", s.config.Server.AdminPort),
			Handler: s.AdminHandler(),
		})
		logrus.Infof("Admin API on port %d", s.config.Server.AdminPort)
	}

	logrus.Infof("Starting offline cache agent on port %d", s.config.Server.Port)
	logrus.Infof("Origin: %s", s.origin)
	logrus.Infof("Cache backend: %s", s.config.Cache.Backend)
	logrus.Infof("Cache generation: %s", s.generation())

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv)
	}

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("Failed to shut down %s: %v", srv.Addr, err)
		}
	}

	return errors.Join(serveErr, s.Close())
}
