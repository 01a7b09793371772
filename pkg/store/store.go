// Package store persists published data files. Every backend addresses objects by a
// slash separated key, such as data/general-statistics.json, and they all behave the same
// for missing keys, so callers can switch between Cloud Storage and a local directory
// with a URL.
package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotFound is returned by Get when no object exists for the key.
var ErrNotFound = fmt.Errorf("object not found")

// ErrInvalidKey is wrapped by errors for keys that are empty or would escape the store.
var ErrInvalidKey = fmt.Errorf("invalid key")

type Store interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	URI(key string) string
}

// Open builds a store from a URL: gs://bucket/prefix for Cloud Storage, mem:// for an
// in-memory store, and file:///path or a bare path for the local filesystem. Bucket and
// prefix in gcsOpts are replaced by those of the URL.
func Open(ctx context.Context, rawURL string, gcsOpts GCSOptions) (Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid store URL %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "gs":
		if u.Host == "" {
			return nil, fmt.Errorf("store URL %q has no bucket", rawURL)
		}

		gcsOpts.Bucket, gcsOpts.Prefix = u.Host, strings.Trim(u.Path, "/")
		return NewGCS(ctx, gcsOpts)
	case "mem":
		return NewMemory(), nil
	case "file":
		return NewFile(u.Path)
	case "":
		return NewFile(rawURL)
	}

	return nil, fmt.Errorf("unsupported store scheme: %s", u.Scheme)
}

// cleanKey validates a key, returning it without any leading slash. Keys may not be
// empty, and no path segment may be empty, "." or "..", so keys never escape the root of
// the store. Dots within a segment, as in general..json, are fine.
func cleanKey(key string) (string, error) {
	cleaned := strings.TrimPrefix(key, "/")
	if cleaned == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	for _, segment := range strings.Split(cleaned, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}

	return cleaned, nil
}
