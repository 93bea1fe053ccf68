package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// SchemeS3 is the URI scheme for S3 objects.
const SchemeS3 = "s3://"

// IsRemote reports whether a path names an object in object storage.
func IsRemote(path string) bool {
	return strings.HasPrefix(path, SchemeS3)
}

// ParseURI splits s3://bucket/key into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	if !IsRemote(uri) {
		return "", "", fmt.Errorf("not an object URI: %q", uri)
	}
	rest := strings.TrimPrefix(uri, SchemeS3)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("object URI must be s3://bucket/key: %q", uri)
	}
	return bucket, key, nil
}

// Resolver hands out one ObjectStorage per bucket.
type Resolver struct {
	// Type is "s3" or "local"; local maps each bucket to a directory under BasePath
	Type     string
	BasePath string
	S3       S3Config

	mu     sync.Mutex
	stores map[string]ObjectStorage
}

// NewResolver creates a resolver for the given storage type.
func NewResolver(storageType, basePath string, s3cfg S3Config) *Resolver {
	return &Resolver{
		Type:     storageType,
		BasePath: basePath,
		S3:       s3cfg,
		stores:   make(map[string]ObjectStorage),
	}
}

// Resolve returns the store and object path for an s3:// URI.
func (r *Resolver) Resolve(ctx context.Context, uri string) (ObjectStorage, string, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if store, ok := r.stores[bucket]; ok {
		return store, key, nil
	}

	var store ObjectStorage
	switch r.Type {
	case "", "local":
		store, err = NewLocalStorage(filepath.Join(r.BasePath, bucket))
	case "s3":
		store, err = NewS3Storage(ctx, bucket, r.S3)
	default:
		err = fmt.Errorf("unsupported storage type: %s", r.Type)
	}
	if err != nil {
		return nil, "", err
	}

	if r.stores == nil {
		r.stores = make(map[string]ObjectStorage)
	}
	r.stores[bucket] = store
	return store, key, nil
}
