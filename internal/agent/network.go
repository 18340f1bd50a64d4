package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/iTrooz/offline-cache-agent/internal/cache"
)

// hop-by-hop headers never forwarded to the origin
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HTTPNetwork fetches over a real HTTP client.
type HTTPNetwork struct {
	client *http.Client
	origin *url.URL
}

// NewHTTPNetwork creates a network for the given origin. Responses that
// end up on a different origin (after redirects) are marked opaque.
func NewHTTPNetwork(client *http.Client, origin *url.URL) *HTTPNetwork {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPNetwork{client: client, origin: origin}
}

// removeHopHeaders drops the fixed hop-by-hop headers and every header the
// Connection header names
func removeHopHeaders(h http.Header) {
	for _, value := range h.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func (n *HTTPNetwork) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	outbound, err := http.NewRequestWithContext(ctx, req.Method, TargetURL(req).String(), req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	// Copy headers
	for key, values := range req.Header {
		for _, value := range values {
			outbound.Header.Add(key, value)
		}
	}
	removeHopHeaders(outbound.Header)

	resp, err := n.client.Do(outbound)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", outbound.URL, err)
	}

	typ := cache.TypeBasic
	if resp.Request != nil && n.origin != nil && !sameOrigin(resp.Request.URL, n.origin) {
		typ = cache.TypeOpaque
	}
	return cache.FromHTTP(resp, typ)
}
