// Package tests holds end-to-end tests driving the agent through the proxy.
package tests

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	"github.com/iTrooz/offline-cache-agent/internal/config"
	"github.com/iTrooz/offline-cache-agent/internal/proxy"
)

// fixture_upstream creates a test origin serving the app shell
func fixture_upstream() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		switch {
		case requ.Method != http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"method": "` + requ.Method + `", "path": "` + requ.URL.Path + `"}`))
		case requ.URL.Path == "/":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>PDF splitter</html>"))
		case requ.URL.Path == "/missing":
			http.NotFound(w, requ)
		default:
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("Hello from upstream " + requ.URL.Path))
		}
	}))
}

// fixture_config creates a test config pointing the agent at origin
func fixture_config(origin string, tempDir string) *config.Config {
	cfg := config.Default()
	cfg.Origin = origin
	cfg.Cache.Backend = config.BackendDisk
	cfg.Cache.Folder = tempDir
	cfg.Network.Timeout = "5s"
	return cfg
}

// fixture_proxy creates a proxy server with the given config and returns the server, test server, and HTTP client
func fixture_proxy(cfg *config.Config) (*proxy.Server, *httptest.Server, *http.Client, error) {
	proxyServer, err := proxy.New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	// Create test proxy HTTP server using goproxy
	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())

	// Create HTTP client that uses our proxy
	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(proxyURL),
			DisableKeepAlives: true,
		},
		Timeout: 10 * time.Second,
	}

	return proxyServer, proxyTestServer, client, nil
}
