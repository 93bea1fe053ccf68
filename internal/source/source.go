// Package source opens the tabular inputs consumed by the merger, the
// suburb filter and the dashboard loader.
package source

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/crimestats/crimestats/internal/codec"
	"github.com/crimestats/crimestats/internal/errors"
	"github.com/crimestats/crimestats/internal/storage"
	"github.com/crimestats/crimestats/pkg/types"
)

// Source is a named, openable resource yielding CSV records.
type Source interface {
	// Name identifies the source in logs and errors
	Name() string

	// Open returns the decoded byte stream of the source
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Error records a source that failed and was skipped.
type Error struct {
	Source string
	Err    error
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Identity identifies one version of a source.
type Identity struct {
	Name    string
	ModTime time.Time
	Size    int64
}

// Stater is implemented by sources that can report their identity
// without being read.
type Stater interface {
	Stat(ctx context.Context) (Identity, error)
}

// Stat returns the identity of src. Sources without a Stat method are
// identified by name alone.
func Stat(ctx context.Context, src Source) (Identity, error) {
	if s, ok := src.(Stater); ok {
		return s.Stat(ctx)
	}
	return Identity{Name: src.Name()}, nil
}

// FileSource reads a local file. Names ending in .sz are snappy framed.
type FileSource struct {
	Path string
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Name returns the file path.
func (f *FileSource) Name() string { return f.Path }

// Open opens the file for reading.
func (f *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, errors.NewSourceError(errors.CodeUnreadable,
			fmt.Sprintf("cannot open %s", f.Path), err)
	}
	return decompress(f.Path, file), nil
}

// Stat returns the file's modification time and size.
func (f *FileSource) Stat(ctx context.Context) (Identity, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return Identity{}, errors.NewSourceError(errors.CodeUnreadable,
			fmt.Sprintf("cannot stat %s", f.Path), err)
	}
	abs, err := filepath.Abs(f.Path)
	if err != nil {
		abs = f.Path
	}
	return Identity{Name: abs, ModTime: info.ModTime(), Size: info.Size()}, nil
}

// ObjectSource reads an object from object storage. The object is
// downloaded into WorkDir on first Open unless Prefetch already did so.
type ObjectSource struct {
	URI     string
	Store   storage.ObjectStorage
	Path    string
	WorkDir string

	localPath string
}

// NewObjectSource creates an ObjectSource for the object at path in store.
func NewObjectSource(uri string, store storage.ObjectStorage, path, workDir string) *ObjectSource {
	return &ObjectSource{URI: uri, Store: store, Path: path, WorkDir: workDir}
}

// Name returns the object URI.
func (o *ObjectSource) Name() string { return o.URI }

// Open downloads the object if needed and opens the local copy.
func (o *ObjectSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if o.localPath == "" {
		exists, err := o.Store.Exists(ctx, o.Path)
		if err != nil {
			return nil, errors.NewSourceError(errors.CodeUnreadable,
				fmt.Sprintf("cannot check %s", o.URI), err)
		}
		if !exists {
			return nil, errors.NewSourceError(errors.CodeUnreadable,
				fmt.Sprintf("%s does not exist", o.URI), storage.ErrObjectNotFound)
		}

		local := filepath.Join(o.WorkDir, uuid.New().String()+"_"+filepath.Base(o.Path))
		if err := o.Store.Download(ctx, o.Path, local); err != nil {
			return nil, errors.NewSourceError(errors.CodeUnreadable,
				fmt.Sprintf("cannot download %s", o.URI), err)
		}
		o.localPath = local
	}

	file, err := os.Open(o.localPath)
	if err != nil {
		return nil, errors.NewSourceError(errors.CodeUnreadable,
			fmt.Sprintf("cannot open downloaded copy of %s", o.URI), err)
	}
	return decompress(o.Path, file), nil
}

// Stat returns the object's modification time and size.
func (o *ObjectSource) Stat(ctx context.Context) (Identity, error) {
	info, err := o.Store.Stat(ctx, o.Path)
	if stderrors.Is(err, storage.ErrObjectNotFound) {
		return Identity{}, errors.NewStorageError(errors.CodeObjectNotFound,
			fmt.Sprintf("%s does not exist", o.URI), err)
	}
	if err != nil {
		return Identity{}, errors.NewSourceError(errors.CodeUnreadable,
			fmt.Sprintf("cannot stat %s", o.URI), err)
	}
	return Identity{Name: o.URI, ModTime: info.ModTime, Size: info.Size}, nil
}

// ReaderSource serves an in-memory payload.
type ReaderSource struct {
	Label string
	Data  []byte
}

// NewReaderSource creates a ReaderSource. Data is decompressed when label
// ends in .sz.
func NewReaderSource(label string, data []byte) *ReaderSource {
	return &ReaderSource{Label: label, Data: data}
}

// Name returns the label.
func (r *ReaderSource) Name() string { return r.Label }

// Open returns a reader over the payload.
func (r *ReaderSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return decompress(r.Label, io.NopCloser(bytes.NewReader(r.Data))), nil
}

// Decode opens src and reads its header. The caller must close the
// returned closer once done with the reader.
func Decode(ctx context.Context, src Source, df types.DateFormat) (*codec.Reader, io.Closer, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, nil, err
	}
	r, err := codec.NewReader(src.Name(), rc, df)
	if err != nil {
		rc.Close()
		return nil, nil, err
	}
	return r, rc, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

func decompress(name string, rc io.ReadCloser) io.ReadCloser {
	c := codec.ForName(name)
	if c == codec.None {
		return rc
	}
	return readCloser{Reader: c.WrapReader(rc), Closer: rc}
}
