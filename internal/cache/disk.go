package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// DiskStorage keeps one directory per store under a root folder.
// Entries live at <root>/<store>/<host>/<path>/METHOD[_qhash].bin
type DiskStorage struct {
	root string
}

// NewDisk creates a disk storage rooted at dir, creating dir if needed
func NewDisk(dir string) (*DiskStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &DiskStorage{root: dir}, nil
}

func (d *DiskStorage) storeDir(name string) string {
	return filepath.Join(d.root, url.PathEscape(name))
}

func (d *DiskStorage) Open(_ context.Context, name string) (Store, error) {
	if name == "" {
		return nil, fmt.Errorf("store name is required")
	}
	dir := d.storeDir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store %s: %w", name, err)
	}
	return &diskStore{dir: dir}, nil
}

func (d *DiskStorage) Lookup(ctx context.Context, name string) (Store, bool, error) {
	ok, err := d.Has(ctx, name)
	if err != nil || !ok {
		return nil, false, err
	}
	return &diskStore{dir: d.storeDir(name)}, true, nil
}

func (d *DiskStorage) Has(_ context.Context, name string) (bool, error) {
	info, err := os.Stat(d.storeDir(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (d *DiskStorage) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name, err := url.PathUnescape(entry.Name())
		if err != nil {
			logrus.Warnf("Ignoring unexpected directory in cache folder: %s", entry.Name())
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *DiskStorage) Delete(ctx context.Context, name string) (bool, error) {
	ok, err := d.Has(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	if err := os.RemoveAll(d.storeDir(name)); err != nil {
		return false, fmt.Errorf("failed to delete store %s: %w", name, err)
	}
	return true, nil
}

func (d *DiskStorage) Close() error {
	return nil
}

type diskStore struct {
	dir string
}

// entryPath maps a request key onto a file below the store directory
func (s *diskStore) entryPath(key string) (string, error) {
	method, rawURL, ok := strings.Cut(key, " ")
	if !ok {
		return "", fmt.Errorf("malformed cache key %q", key)
	}
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("malformed cache key %q: %w", key, err)
	}

	host := strings.TrimSuffix(strings.TrimSuffix(parsedURL.Host, ":80"), ":443")
	pathParts := []string{s.dir, url.PathEscape(host)}

	rawPath := parsedURL.Path
	if rawPath == "" {
		rawPath = "/"
	}

	// Clean against "/" so that ".." segments cannot leave the store
	cleaned := path.Clean("/" + rawPath)
	if cleaned != "/" {
		pathParts = append(pathParts, filepath.FromSlash(strings.Trim(cleaned, "/")))
	}

	filename := method
	canonical := cleaned
	if cleaned != "/" && strings.HasSuffix(rawPath, "/") {
		filename += "_slash"
		canonical += "/"
	}
	// Paths that cleaning or unescaping changed get their own entry
	if parsedURL.RawPath != "" || rawPath != canonical {
		filename += "_p" + shortHash(parsedURL.EscapedPath())
	}
	if parsedURL.RawQuery != "" {
		filename += "_q" + shortHash(parsedURL.RawQuery)
	}
	filename += ".bin"

	pathParts = append(pathParts, filename)
	return filepath.Join(pathParts...), nil
}

func shortHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])[:8]
}

func (s *diskStore) Match(_ context.Context, key string) (*Response, error) {
	entryPath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(entryPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	storedKey, resp, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	// Two queries may share a short hash
	if storedKey != key {
		return nil, nil
	}
	return resp, nil
}

func (s *diskStore) Put(_ context.Context, key string, resp *Response) error {
	entryPath, err := s.entryPath(key)
	if err != nil {
		return err
	}

	data, err := Serialize(key, resp)
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}

	// Never recreate a store deleted behind this handle
	if _, err := os.Stat(s.dir); errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}

	dir := filepath.Dir(entryPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Write then rename, so readers never see a partial entry
	tmp, err := os.CreateTemp(dir, ".entry-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), entryPath); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	logrus.Debugf("Cached response: %s", entryPath)
	return nil
}

func (s *diskStore) Delete(_ context.Context, key string) (bool, error) {
	entryPath, err := s.entryPath(key)
	if err != nil {
		return false, err
	}
	err = os.Remove(entryPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *diskStore) Keys(_ context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || filepath.Ext(p) != ".bin" {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		key, _, err := Deserialize(data)
		if err != nil {
			logrus.Warnf("Skipping unreadable cache entry %s: %v", p, err)
			return nil
		}
		keys = append(keys, key)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
