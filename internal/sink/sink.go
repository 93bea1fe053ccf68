// Package sink writes canonical tables to their destination. Every sink is
// all-or-nothing: output is staged in a temporary file and only renamed
// into place once complete.
package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/crimestats/crimestats/internal/errors"
	"github.com/crimestats/crimestats/internal/storage"
	"github.com/crimestats/crimestats/pkg/types"
)

// Sink receives one table.
type Sink interface {
	// Name identifies the destination in logs and errors
	Name() string

	// Write replaces the destination with t
	Write(ctx context.Context, t types.Table) error
}

// Options configures sinks built by ForPath.
type Options struct {
	// DateFormat renders the Reported Date column in text outputs
	DateFormat types.DateFormat

	// Resolver maps s3:// outputs to object storage
	Resolver *storage.Resolver

	// WorkDir stages files before upload
	WorkDir string
}

// ForPath picks a sink by scheme and extension: .db and .sqlite write
// SQLite, .xlsx writes a workbook, anything else CSV (snappy framed when
// the name ends in .sz). s3:// paths are staged locally and uploaded.
func ForPath(ctx context.Context, path string, opts Options) (Sink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.NewConfigError(errors.CodeNoOutput, "no output destination supplied")
	}

	if !storage.IsRemote(path) {
		return forLocal(path, opts.DateFormat), nil
	}

	if opts.Resolver == nil {
		return nil, errors.NewConfigError(errors.CodeInvalidConfig,
			fmt.Sprintf("no object storage configured for %s", path))
	}
	store, key, err := opts.Resolver.Resolve(ctx, path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidConfig,
			fmt.Sprintf("cannot resolve %s", path), err)
	}
	return NewObjectSink(path, store, key, opts), nil
}

func forLocal(path string, df types.DateFormat) Sink {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite":
		return NewSQLiteSink(path)
	case ".xlsx":
		return NewXLSXSink(path, df)
	default:
		return NewCSVSink(path, df)
	}
}

// writeAtomic stages output in a temp file next to path, syncs it and
// renames it over path. The temp file is removed on any failure.
func writeAtomic(path string, fill func(f *os.File) error) error {
	tmp, err := stagePath(path)
	if err != nil {
		return err
	}

	f, err := os.Create(tmp)
	if err != nil {
		return writeFailed(path, err)
	}

	if err := fill(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return writeFailed(path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return writeFailed(path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return writeFailed(path, err)
	}
	return commit(tmp, path)
}

// stagePath returns a unique temp name in the directory of path.
func stagePath(path string) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", writeFailed(path, err)
	}
	return filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.New().String()[:8])), nil
}

func commit(tmp, path string) error {
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return writeFailed(path, err)
	}
	return nil
}

func writeFailed(path string, err error) error {
	if errors.GetCategory(err) != "" {
		return err
	}
	return errors.NewStorageError(errors.CodeWriteFailed, fmt.Sprintf("failed to write %s", path), err)
}
