package agent

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iTrooz/offline-cache-agent/internal/cache"
)

func TestFetchServesCachedEntryWithoutNetwork(t *testing.T) {
	f := newFixture(t, Generation)
	ctx := context.Background()

	cached := &cache.Response{StatusCode: http.StatusOK, Body: []byte("cached css"), Type: cache.TypeBasic}
	require.NoError(t, f.store(t).Put(ctx, "GET "+testOrigin+"/static/style.css", cached))

	eff := f.agent.Fetch(ctx, FetchEvent{Request: newRequest(t, http.MethodGet, testOrigin+"/static/style.css")})

	require.NoError(t, eff.Err)
	assert.False(t, eff.Passthrough)
	assert.Equal(t, SourceCache, eff.Source)
	assert.Equal(t, "cached css", string(eff.Response.Body))
	assert.Empty(t, eff.WaitUntil)
	assert.Zero(t, f.network.callCount(), "a cache hit must not touch the network")
}

func TestFetchStoresNetworkResponseAfterMiss(t *testing.T) {
	f := newFixture(t, Generation)
	f.store(t)
	ctx := context.Background()
	req := newRequest(t, http.MethodGet, testOrigin+"/static/style.css")

	first := f.agent.Fetch(ctx, FetchEvent{Request: req})
	require.NoError(t, first.Err)
	assert.Equal(t, SourceNetwork, first.Source)
	assert.Equal(t, "body {}", string(first.Response.Body))
	require.Len(t, first.WaitUntil, 1)
	require.NoError(t, first.Settle(ctx))

	second := f.agent.Fetch(ctx, FetchEvent{Request: newRequest(t, http.MethodGet, testOrigin+"/static/style.css")})
	require.NoError(t, second.Err)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, "body {}", string(second.Response.Body))
	assert.Equal(t, 1, f.network.callCount())
}

func TestFetchStoredCopyIsIndependent(t *testing.T) {
	f := newFixture(t, Generation)
	f.store(t)
	ctx := context.Background()

	eff := f.agent.Fetch(ctx, FetchEvent{Request: newRequest(t, http.MethodGet, testOrigin+"/")})
	require.NoError(t, eff.Err)

	// The caller consumes and mangles its copy before the write happens
	eff.Response.Body[0] = 'X'
	require.NoError(t, eff.Settle(ctx))

	stored, err := f.store(t).Match(ctx, "GET "+testOrigin+"/")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "<html>index</html>", string(stored.Body))
}

func TestFetchPassesThroughCrossOrigin(t *testing.T) {
	f := newFixture(t, Generation)
	ctx := context.Background()

	for _, target := range []string{
		"http://cdn.example.com/static/style.css",
		"https://localhost:5000/static/style.css",
		"http://localhost:5001/static/style.css",
	} {
		eff := f.agent.Fetch(ctx, FetchEvent{Request: newRequest(t, http.MethodGet, target)})
		assert.True(t, eff.Passthrough, target)
		assert.Nil(t, eff.Response)
		assert.Empty(t, eff.WaitUntil)
	}
	assert.Zero(t, f.storage.opens.Load(), "cross-origin requests must not touch the cache")
	assert.Zero(t, f.network.callCount())
}

func TestFetchTreatsDefaultPortAsSameOrigin(t *testing.T) {
	f := newFixture(t, Generation)
	f.agent.origin.Host = "example.com"

	eff := f.agent.Fetch(context.Background(), FetchEvent{Request: newRequest(t, http.MethodGet, "http://example.com:80/")})
	assert.False(t, eff.Passthrough)
}

func TestFetchDefaultPortHitsPrecachedEntry(t *testing.T) {
	f := newFixture(t, Generation)
	f.agent.origin.Host = "example.com"
	ctx := context.Background()

	cached := &cache.Response{StatusCode: http.StatusOK, Body: []byte("cached css"), Type: cache.TypeBasic}
	require.NoError(t, f.store(t).Put(ctx, "GET http://example.com/static/style.css", cached))

	eff := f.agent.Fetch(ctx, FetchEvent{Request: newRequest(t, http.MethodGet, "http://EXAMPLE.com:80/static/style.css")})
	assert.Equal(t, SourceCache, eff.Source)
	assert.Zero(t, f.network.callCount())
}

func TestFetchBypassesNonGET(t *testing.T) {
	f := newFixture(t, Generation)
	ctx := context.Background()

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead} {
		eff := f.agent.Fetch(ctx, FetchEvent{Request: newRequest(t, method, testOrigin+"/upload")})
		assert.True(t, eff.Passthrough, method)
		assert.Empty(t, eff.WaitUntil)
	}
	assert.Zero(t, f.storage.opens.Load(), "non-GET requests must not touch the cache")
	assert.Zero(t, f.network.callCount())
}

func TestFetchRelativeRequestUsesHost(t *testing.T) {
	f := newFixture(t, Generation)
	req := newRequest(t, http.MethodGet, "/static/style.css")
	req.Host = "localhost:5000"

	eff := f.agent.Fetch(context.Background(), FetchEvent{Request: req})
	require.NoError(t, eff.Err)
	assert.False(t, eff.Passthrough)
	assert.Equal(t, SourceNetwork, eff.Source)
}

func TestFetchNavigationFallsBackToRoot(t *testing.T) {
	f := newFixture(t, Generation)
	ctx := context.Background()
	require.NoError(t, f.store(t).Put(ctx, "GET "+testOrigin+"/", &cache.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("<html>offline root</html>"),
		Type:       cache.TypeBasic,
	}))
	f.network.setOffline(true)

	eff := f.agent.Fetch(ctx, FetchEvent{
		Request:     newRequest(t, http.MethodGet, testOrigin+"/split?page=2"),
		Destination: DestinationDocument,
	})

	require.NoError(t, eff.Err)
	assert.Equal(t, SourceFallback, eff.Source)
	assert.Equal(t, "<html>offline root</html>", string(eff.Response.Body))
}

func TestFetchNavigationWithoutRootFails(t *testing.T) {
	f := newFixture(t, Generation)
	f.network.setOffline(true)

	eff := f.agent.Fetch(context.Background(), FetchEvent{
		Request:     newRequest(t, http.MethodGet, testOrigin+"/split"),
		Destination: DestinationDocument,
	})
	assert.ErrorIs(t, eff.Err, errOffline)
	assert.Nil(t, eff.Response)
}

func TestFetchSubresourceOfflineFails(t *testing.T) {
	f := newFixture(t, Generation)
	ctx := context.Background()
	require.NoError(t, f.store(t).Put(ctx, "GET "+testOrigin+"/", &cache.Response{StatusCode: http.StatusOK, Type: cache.TypeBasic}))
	f.network.setOffline(true)

	eff := f.agent.Fetch(ctx, FetchEvent{
		Request:     newRequest(t, http.MethodGet, testOrigin+"/static/app.js"),
		Destination: DestinationEmpty,
	})
	assert.ErrorIs(t, eff.Err, errOffline)
	assert.Nil(t, eff.Response)
}

func TestFetchDoesNotStoreUncacheableResponses(t *testing.T) {
	f := newFixture(t, Generation)
	ctx := context.Background()
	f.network.bodies["/redirected"] = "elsewhere"
	f.network.types["/redirected"] = cache.TypeOpaque
	f.network.bodies["/created"] = "created"
	f.network.status["/created"] = http.StatusCreated

	for _, p := range []string{"/redirected", "/created", "/missing"} {
		eff := f.agent.Fetch(ctx, FetchEvent{Request: newRequest(t, http.MethodGet, testOrigin+p)})
		require.NoError(t, eff.Err, p)
		require.NotNil(t, eff.Response, p)
		assert.Empty(t, eff.WaitUntil, p)
	}

	keys, err := f.store(t).Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFetchIgnoresStoreWriteFailure(t *testing.T) {
	f := newFixture(t, Generation)
	f.store(t)
	f.storage.failPuts = true
	ctx := context.Background()

	eff := f.agent.Fetch(ctx, FetchEvent{Request: newRequest(t, http.MethodGet, testOrigin+"/static/style.css")})
	require.NoError(t, eff.Err)
	assert.Equal(t, "body {}", string(eff.Response.Body))
	assert.NoError(t, eff.Settle(ctx), "a failed cache write is not an error for the caller")
}

func TestFetchWithoutStoreDoesNotCreateIt(t *testing.T) {
	f := newFixture(t, Generation)
	ctx := context.Background()

	eff := f.agent.Fetch(ctx, FetchEvent{Request: newRequest(t, http.MethodGet, testOrigin+"/static/style.css")})
	require.NoError(t, eff.Err)
	assert.Equal(t, SourceNetwork, eff.Source)
	require.NoError(t, eff.Settle(ctx))

	names, err := f.storage.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFetchBySupersededGenerationKeepsStoresIsolated(t *testing.T) {
	ctx := context.Background()
	storage := cache.NewMemory()
	network := newFakeNetwork()
	network.bodies["/report"] = "report"

	old := newAgentOn(t, storage, network, "gen-old")
	current := newAgentOn(t, storage, network, "gen-new")
	require.NoError(t, old.Install().Settle(ctx))
	require.NoError(t, current.Install().Settle(ctx))

	// The old agent still controls while the new one prunes
	require.NoError(t, current.Activate().Settle(ctx))

	for _, p := range []string{"/", "/report"} {
		eff := old.Fetch(ctx, FetchEvent{Request: newRequest(t, http.MethodGet, testOrigin+p)})
		require.NoError(t, eff.Err, p)
		assert.Equal(t, SourceNetwork, eff.Source, p)
		require.NoError(t, eff.Settle(ctx), p)
	}

	names, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gen-new"}, names)
}

func TestFetchPutOnDeletedStoreIsSkipped(t *testing.T) {
	ctx := context.Background()
	storage := cache.NewMemory()
	a := newAgentOn(t, storage, newFakeNetwork(), "gen-old")
	_, err := storage.Open(ctx, "gen-old")
	require.NoError(t, err)

	eff := a.Fetch(ctx, FetchEvent{Request: newRequest(t, http.MethodGet, testOrigin+"/static/style.css")})
	require.Len(t, eff.WaitUntil, 1)

	// Pruned between the response and the background write
	_, err = storage.Delete(ctx, "gen-old")
	require.NoError(t, err)
	require.NoError(t, eff.Settle(ctx))

	names, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}
