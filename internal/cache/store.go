// Handles storage of HTTP responses in named cache stores
package cache

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// ErrNotFound is returned when a named store does not exist, including
// writes through a handle whose store was deleted since.
var ErrNotFound = errors.New("cache store not found")

// Storage is the origin-wide collection of named cache stores.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Open returns the store with the given name, creating it if absent.
	Open(ctx context.Context, name string) (Store, error)
	// Lookup returns an existing store and never creates one.
	Lookup(ctx context.Context, name string) (Store, bool, error)
	// Has reports whether a store with the given name exists.
	Has(ctx context.Context, name string) (bool, error)
	// Keys returns the names of all stores, sorted.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes a store and all its entries.
	// It reports whether a store was actually removed.
	Delete(ctx context.Context, name string) (bool, error)
	// Close releases the resources held by the storage.
	Close() error
}

// Store is a single named key -> response mapping.
type Store interface {
	// Match returns the stored response for key.
	// returns nil, nil when there is no entry
	Match(ctx context.Context, key string) (*Response, error)
	// Put stores resp under key, replacing any previous entry.
	Put(ctx context.Context, key string, resp *Response) error
	// Delete removes the entry for key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Keys returns all entry keys, sorted.
	Keys(ctx context.Context) ([]string, error)
}

// RequestKey identifies a request by method and absolute URL, without
// fragment. Scheme and host are lowercased and default ports dropped.
func RequestKey(method string, u *url.URL) string {
	target := *u
	target.Fragment = ""
	target.RawFragment = ""
	target.Scheme = strings.ToLower(target.Scheme)
	target.Host = canonicalHost(target.Scheme, target.Host)
	if target.Path == "" && target.Opaque == "" {
		target.Path = "/"
		target.RawPath = ""
	}
	return method + " " + target.String()
}

func canonicalHost(scheme, host string) string {
	host = strings.ToLower(host)
	switch scheme {
	case "http":
		return strings.TrimSuffix(host, ":80")
	case "https":
		return strings.TrimSuffix(host, ":443")
	}
	return host
}
