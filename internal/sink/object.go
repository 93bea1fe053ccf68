package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/crimestats/crimestats/internal/errors"
	"github.com/crimestats/crimestats/internal/storage"
	"github.com/crimestats/crimestats/pkg/types"
)

// ObjectSink stages the table in a local file and uploads it to object
// storage. The format follows the object name as for local paths.
type ObjectSink struct {
	URI   string
	Store storage.ObjectStorage
	Path  string
	opts  Options
}

// NewObjectSink creates an ObjectSink for the object at path in store.
func NewObjectSink(uri string, store storage.ObjectStorage, path string, opts Options) *ObjectSink {
	return &ObjectSink{URI: uri, Store: store, Path: path, opts: opts}
}

// Name returns the object URI.
func (s *ObjectSink) Name() string { return s.URI }

// Write stages and uploads t. Nothing is uploaded if staging fails. When
// the upload fails and no object existed before, whatever the store kept of
// the attempt is deleted; an existing object is left alone.
func (s *ObjectSink) Write(ctx context.Context, t types.Table) error {
	workDir := s.opts.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	local := filepath.Join(workDir, fmt.Sprintf("upload_%s_%s", uuid.New().String()[:8], filepath.Base(s.Path)))
	defer os.Remove(local)

	if err := forLocal(local, s.opts.DateFormat).Write(ctx, t); err != nil {
		return err
	}

	existed, err := s.Store.Exists(ctx, s.Path)
	if err != nil {
		return errors.NewStorageError(errors.CodeUploadFailed, fmt.Sprintf("cannot check %s", s.URI), err)
	}

	if err := s.Store.Upload(ctx, local, s.Path); err != nil {
		uploadErr := errors.NewStorageError(errors.CodeUploadFailed, fmt.Sprintf("failed to upload %s", s.URI), err)
		if existed {
			return uploadErr
		}
		if delErr := s.Store.Delete(context.WithoutCancel(ctx), s.Path); delErr != nil {
			return uploadErr.WithDetails(map[string]interface{}{"cleanup_error": delErr.Error()})
		}
		return uploadErr
	}
	return nil
}
