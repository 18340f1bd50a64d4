package agent

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iTrooz/offline-cache-agent/internal/cache"
)

const testOrigin = "http://localhost:5000"

var errOffline = errors.New("network unreachable")

// fakeNetwork serves fixed bodies by path and counts every fetch
type fakeNetwork struct {
	mutex   sync.Mutex
	bodies  map[string]string
	status  map[string]int
	types   map[string]cache.ResponseType
	offline bool
	calls   []string
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		bodies: map[string]string{
			"/":                              "<html>index</html>",
			"/static/style.css":              "body {}",
			"/static/manifest.json":          `{"name": "PDF"}`,
			"/static/icons/icon-192x192.png": "png192",
			"/static/icons/icon-512x512.png": "png512",
		},
		status: map[string]int{},
		types:  map[string]cache.ResponseType{},
	}
}

func (n *fakeNetwork) Fetch(_ context.Context, req *http.Request) (*cache.Response, error) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	target := TargetURL(req)
	n.calls = append(n.calls, target.String())
	if n.offline {
		return nil, errOffline
	}

	status, ok := n.status[target.Path]
	if !ok {
		status = http.StatusOK
	}
	body, ok := n.bodies[target.Path]
	if !ok && status == http.StatusOK {
		status = http.StatusNotFound
	}
	typ, ok := n.types[target.Path]
	if !ok {
		typ = cache.TypeBasic
	}

	return &cache.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       []byte(body),
		Type:       typ,
		URL:        target.String(),
	}, nil
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.offline = offline
}

func (n *fakeNetwork) callCount() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return len(n.calls)
}

// spyStorage counts store accesses and can fail writes
type spyStorage struct {
	*cache.MemoryStorage
	opens    atomic.Int32
	failPuts bool
}

func (s *spyStorage) Open(ctx context.Context, name string) (cache.Store, error) {
	s.opens.Add(1)
	store, err := s.MemoryStorage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.wrap(store), nil
}

func (s *spyStorage) Lookup(ctx context.Context, name string) (cache.Store, bool, error) {
	s.opens.Add(1)
	store, ok, err := s.MemoryStorage.Lookup(ctx, name)
	if err != nil || !ok {
		return nil, ok, err
	}
	return s.wrap(store), true, nil
}

func (s *spyStorage) wrap(store cache.Store) cache.Store {
	if s.failPuts {
		return failingStore{store}
	}
	return store
}

type failingStore struct {
	cache.Store
}

func (failingStore) Put(context.Context, string, *cache.Response) error {
	return errors.New("quota exceeded")
}

// recordingHost remembers every control signal
type recordingHost struct {
	mutex   sync.Mutex
	skipped int
	claimed int
	windows []string
}

func (h *recordingHost) SkipWaiting(context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.skipped++
	return nil
}

func (h *recordingHost) Claim(context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.claimed++
	return nil
}

func (h *recordingHost) OpenWindow(_ context.Context, path string) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.windows = append(h.windows, path)
	return nil
}

type shownNotification struct {
	title string
	opts  NotificationOptions
}

type recordingNotifier struct {
	shown  []shownNotification
	closed []string
}

func (n *recordingNotifier) ShowNotification(_ context.Context, title string, opts NotificationOptions) error {
	n.shown = append(n.shown, shownNotification{title: title, opts: opts})
	return nil
}

func (n *recordingNotifier) CloseNotification(_ context.Context, id string) error {
	n.closed = append(n.closed, id)
	return nil
}

type fixture struct {
	agent    *Agent
	network  *fakeNetwork
	storage  *spyStorage
	host     *recordingHost
	notifier *recordingNotifier
}

func newFixture(t *testing.T, generation string) *fixture {
	t.Helper()

	f := &fixture{
		network:  newFakeNetwork(),
		storage:  &spyStorage{MemoryStorage: cache.NewMemory()},
		host:     &recordingHost{},
		notifier: &recordingNotifier{},
	}
	origin, err := url.Parse(testOrigin)
	require.NoError(t, err)

	f.agent, err = New(Options{
		Origin:     origin,
		Generation: generation,
		Storage:    f.storage,
		Network:    f.network,
		Host:       f.host,
		Notifier:   f.notifier,
	})
	require.NoError(t, err)
	return f
}

// newAgentOn creates an agent without a host sharing storage and network
func newAgentOn(t *testing.T, storage cache.Storage, network Network, generation string) *Agent {
	t.Helper()
	origin, err := url.Parse(testOrigin)
	require.NoError(t, err)
	a, err := New(Options{Origin: origin, Generation: generation, Storage: storage, Network: network})
	require.NoError(t, err)
	return a
}

// store opens the fixture's generation, as install would
func (f *fixture) store(t *testing.T) cache.Store {
	t.Helper()
	store, err := f.storage.MemoryStorage.Open(context.Background(), f.agent.Generation())
	require.NoError(t, err)
	return store
}

func newRequest(t *testing.T, method, target string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, target, nil)
	require.NoError(t, err)
	return req
}
