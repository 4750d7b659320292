package core

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"
)

// DefaultCleanupTimeout bounds the cleaner when the request context is gone.
const DefaultCleanupTimeout = 30 * time.Second

// FileRemover deletes uploaded files. A missing file is not an error.
type FileRemover interface {
	Remove(path string) error
}

type osRemover struct{}

func (osRemover) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Cleaner releases everything a session created. It is safe to call any
// number of times.
type Cleaner struct {
	stager  *Stager
	files   FileRemover
	timeout time.Duration
}

// NewCleaner returns a Cleaner. A nil files removes paths with os.Remove.
func NewCleaner(stager *Stager, files FileRemover) *Cleaner {
	if files == nil {
		files = osRemover{}
	}
	return &Cleaner{stager: stager, files: files, timeout: DefaultCleanupTimeout}
}

// Clean removes the uploaded file and drops the staging pair. It runs on a
// context detached from ctx's cancellation so an aborted request still
// cleans up. Both steps are always attempted and their errors are joined.
func (c *Cleaner) Clean(ctx context.Context, s *Session) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	var errs []error
	if s.FilePath != "" {
		if err := c.files.Remove(s.FilePath); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Staging.Namespace != "" {
		if err := c.stager.DropStagingRelations(ctx, s.Staging); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
