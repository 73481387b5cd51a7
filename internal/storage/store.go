package storage

import (
	"context"
	"io"
	"strings"
)

// Object is a stored blob and its public locator.
type Object struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// BlobStore accepts payloads and returns durable locators.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (Object, error)
	Get(ctx context.Context, key string) ([]byte, string, error)
	// Open streams a blob. The caller closes the reader.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// KeyFromURL maps a locator produced by Put back to its key.
	KeyFromURL(rawURL string) (string, bool)
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

func keyFromURL(base, rawURL string) (string, bool) {
	prefix := strings.TrimRight(base, "/") + "/"
	if base == "" || !strings.HasPrefix(rawURL, prefix) {
		return "", false
	}
	key, err := sanitizeKey(strings.TrimPrefix(rawURL, prefix))
	if err != nil {
		return "", false
	}
	return key, true
}
