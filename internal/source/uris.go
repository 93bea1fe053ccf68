package source

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/crimestats/crimestats/internal/errors"
	"github.com/crimestats/crimestats/internal/storage"
)

// FromURIs builds sources from command-line arguments. s3://bucket/key
// arguments become ObjectSources resolved through resolver; anything else is
// a local file. An argument ending in "/" such as s3://bucket/2023/ names a
// prefix and expands to one source per extract under it, in key order.
func FromURIs(ctx context.Context, uris []string, resolver *storage.Resolver, workDir string) ([]Source, error) {
	sources := make([]Source, 0, len(uris))
	for _, uri := range uris {
		if !storage.IsRemote(uri) {
			sources = append(sources, NewFileSource(uri))
			continue
		}
		if resolver == nil {
			return nil, errors.NewConfigError(errors.CodeInvalidConfig,
				fmt.Sprintf("no object storage configured for %s", uri))
		}
		store, path, err := resolver.Resolve(ctx, uri)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidConfig,
				fmt.Sprintf("cannot resolve %s", uri), err)
		}
		if !strings.HasSuffix(path, "/") {
			sources = append(sources, NewObjectSource(uri, store, path, workDir))
			continue
		}

		expanded, err := expandPrefix(ctx, uri, store, path, workDir)
		if err != nil {
			return nil, err
		}
		sources = append(sources, expanded...)
	}
	return sources, nil
}

// expandPrefix lists the extracts stored under prefix.
func expandPrefix(ctx context.Context, uri string, store storage.ObjectStorage, prefix, workDir string) ([]Source, error) {
	keys, err := store.ListObjects(ctx, prefix)
	if err != nil {
		return nil, errors.NewSourceError(errors.CodeUnreadable,
			fmt.Sprintf("cannot list %s", uri), err)
	}
	sort.Strings(keys)

	base := strings.TrimSuffix(uri, prefix)
	var sources []Source
	for _, key := range keys {
		if !isExtract(key) {
			continue
		}
		sources = append(sources, NewObjectSource(base+key, store, key, workDir))
	}
	if len(sources) == 0 {
		return nil, errors.NewConfigError(errors.CodeNoInputs,
			fmt.Sprintf("no .csv or .csv.sz extracts under %s", uri))
	}
	return sources, nil
}

func isExtract(key string) bool {
	name := strings.ToLower(key)
	return strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, ".csv.sz")
}

// Prefetch downloads every ObjectSource in parallel into a fresh directory
// under workDir. Processing order is unaffected; sources whose download
// failed fall back to downloading on Open, which reports the error.
func Prefetch(ctx context.Context, sources []Source, concurrency int, workDir string) (*storage.BatchResult, error) {
	var (
		refs    []storage.ObjectRef
		objects = make(map[string]*ObjectSource)
	)
	for _, src := range sources {
		o, ok := src.(*ObjectSource)
		if !ok || o.localPath != "" {
			continue
		}
		refs = append(refs, storage.ObjectRef{Store: o.Store, Path: o.Path, Key: o.URI})
		objects[o.URI] = o
	}

	downloader := storage.NewBatchDownloader(concurrency, filepath.Join(workDir, "prefetch-"+uuid.New().String()))
	result, err := downloader.Download(ctx, refs)
	if err != nil {
		return nil, err
	}
	for uri, local := range result.LocalPaths {
		objects[uri].localPath = local
	}
	return result, nil
}
