package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ObjectRef names one object in one store.
type ObjectRef struct {
	Store ObjectStorage
	Path  string
	// Key identifies the object in results; usually the original URI
	Key string
}

// BatchDownloader coordinates parallel downloads from object storage.
// Downloaded files are kept in cacheDir and reused when present.
type BatchDownloader struct {
	concurrency int
	cacheDir    string
}

// BatchResult contains the outcome of a batch download operation.
type BatchResult struct {
	LocalPaths map[string]string
	Errors     map[string]error
	CacheHits  int
	Downloads  int
}

// NewBatchDownloader creates a new batch downloader.
// concurrency: maximum number of parallel downloads
// cacheDir: directory receiving downloaded files
func NewBatchDownloader(concurrency int, cacheDir string) *BatchDownloader {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchDownloader{
		concurrency: concurrency,
		cacheDir:    cacheDir,
	}
}

// Download fetches every object in parallel. Failed objects are reported in
// BatchResult.Errors keyed by ObjectRef.Key; the call itself only fails when
// the cache directory cannot be created.
func (b *BatchDownloader) Download(ctx context.Context, refs []ObjectRef) (*BatchResult, error) {
	result := &BatchResult{
		LocalPaths: make(map[string]string),
		Errors:     make(map[string]error),
	}
	if len(refs) == 0 {
		return result, nil
	}

	if err := os.MkdirAll(b.cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download dir: %w", err)
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, ref := range refs {
		local := b.LocalPath(i, ref)

		if _, err := os.Stat(local); err == nil {
			result.LocalPaths[ref.Key] = local
			result.CacheHits++
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[ref.Key] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(ref ObjectRef, local string) {
			defer sem.Release(1)
			defer wg.Done()

			// Only complete files are renamed into place.
			partial := local + ".partial"
			if err := ref.Store.Download(ctx, ref.Path, partial); err != nil {
				os.Remove(partial)
				mu.Lock()
				result.Errors[ref.Key] = err
				mu.Unlock()
				return
			}
			if err := os.Rename(partial, local); err != nil {
				mu.Lock()
				result.Errors[ref.Key] = fmt.Errorf("%w: %v", ErrDownloadFailed, err)
				mu.Unlock()
				return
			}

			mu.Lock()
			result.LocalPaths[ref.Key] = local
			result.Downloads++
			mu.Unlock()
		}(ref, local)
	}

	wg.Wait()

	return result, nil
}

// LocalPath returns the local filesystem path for the i-th object.
// The index prefix keeps same-named objects from different buckets apart.
func (b *BatchDownloader) LocalPath(i int, ref ObjectRef) string {
	name := filepath.Base(filepath.FromSlash(ref.Path))
	return filepath.Join(b.cacheDir, fmt.Sprintf("%03d_%s", i, name))
}
