// Package storage keeps uploaded CSV files on local disk for the duration of
// an import session.
package storage

import (
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-faster/errors"

	"github.com/JonMunkholm/geoimport/internal/core"
)

// DefaultMaxFileSize is the upload limit when none is configured (100MB).
const DefaultMaxFileSize = 100 << 20

// filePrefix marks files owned by Uploads so sweeps never touch anything else.
const filePrefix = "upload-"

// Uploads stores uploaded files under one directory.
type Uploads struct {
	dir     string
	maxSize int64
	now     func() time.Time
}

// New creates dir if needed and returns an Uploads rooted there.
func New(dir string, maxSize int64) (*Uploads, error) {
	if dir == "" {
		return nil, errors.New("upload directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, "resolve upload directory")
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, errors.Wrap(err, "create upload directory")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &Uploads{dir: abs, maxSize: maxSize, now: time.Now}, nil
}

// Dir returns the absolute upload directory.
func (u *Uploads) Dir() string { return u.dir }

// Save copies r into a new file and returns its path. name is the client
// file name; only its extension is used. Files that are not .csv, exceed
// the size limit or do not look like text are rejected with an
// UploadRejected error and nothing is left on disk.
func (u *Uploads) Save(name string, r io.Reader) (string, error) {
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		return "", core.NewImportError(core.KindUploadRejected, nil, "%q is not a .csv file", filepath.Base(name))
	}

	f, err := os.CreateTemp(u.dir, filePrefix+"*.csv")
	if err != nil {
		return "", errors.Wrap(err, "create upload file")
	}
	path := f.Name()

	reject := func(cause error, format string, args ...any) (string, error) {
		f.Close()
		os.Remove(path)
		return "", core.NewImportError(core.KindUploadRejected, cause, format, args...)
	}

	n, err := io.Copy(f, io.LimitReader(r, u.maxSize+1))
	if err != nil {
		return reject(err, "the upload could not be stored")
	}
	if n > u.maxSize {
		return reject(nil, "the file exceeds the %d MB limit", u.maxSize>>20)
	}
	if err := f.Close(); err != nil {
		return reject(err, "the upload could not be stored")
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return reject(err, "the upload could not be inspected")
	}
	if !isText(mt) {
		return reject(nil, "the file content is %s, not CSV text", mt.String())
	}

	slog.Debug("upload stored", "path", path, "bytes", n, "mime", mt.String())
	return path, nil
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") || m.Is("text/csv") {
			return true
		}
	}
	return false
}

// Import copies a local file into storage. The CLI uses it so the session
// cleaner can remove its copy without touching the original.
func (u *Uploads) Import(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", core.NewImportError(core.KindInvalidRequest, err, "the file %s cannot be opened", path)
	}
	defer f.Close()
	return u.Save(filepath.Base(path), f)
}

// Remove deletes a stored file. A missing file is not an error; paths
// outside the upload directory are refused.
func (u *Uploads) Remove(path string) error {
	if !u.owns(path) {
		return errors.Errorf("refusing to remove %s: not in %s", path, u.dir)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, "remove upload")
	}
	return nil
}

func (u *Uploads) owns(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == u.dir && strings.HasPrefix(filepath.Base(abs), filePrefix)
}

// SweepOlderThan removes stored files last modified more than age ago and
// returns how many were removed.
func (u *Uploads) SweepOlderThan(age time.Duration) (int, error) {
	entries, err := os.ReadDir(u.dir)
	if err != nil {
		return 0, errors.Wrap(err, "list upload directory")
	}
	cutoff := u.now().Add(-age)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(u.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("could not remove stale upload", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
