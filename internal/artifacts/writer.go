// Package artifacts lays a capture bundle out on disk under
// <root>/<YYYY>/<MM>/<timestamp>/ and registers the uuid pointer last.
package artifacts

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osvaldoandrade/captureq/internal/providers"
	"github.com/osvaldoandrade/captureq/pkg/domain"
)

// File names inside a capture directory. Readers depend on them.
const (
	FileUUID         = "uuid"
	FileMeta         = "meta"
	FileNoIndex      = "no_index"
	FileParent       = "parent"
	FileData         = "0.data"
	FileDataFilename = "0.data.filename"
	FileError        = "error.txt"
	FileHAR          = "0.har"
	FilePNG          = "0.png"
	FileHTML         = "0.html"
	FileLastRedirect = "0.last_redirect.txt"
	FileCookies      = "0.cookies.json"
)

const (
	dirTimeLayout  = "2006-01-02T15:04:05.000000"
	maxDirAttempts = 1000
)

// DirectoryIndex records where a capture's artifacts live.
type DirectoryIndex interface {
	RegisterDirectory(ctx context.Context, uuid, dir string) error
}

type Writer struct {
	sink   providers.FileSink
	index  DirectoryIndex
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Writer)

func WithClock(now func() time.Time) Option { return func(w *Writer) { w.now = now } }

func WithLogger(l *slog.Logger) Option { return func(w *Writer) { w.logger = l } }

func NewWriter(sink providers.FileSink, index DirectoryIndex, opts ...Option) *Writer {
	w := &Writer{sink: sink, index: index, now: time.Now, logger: slog.Default()}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Persist writes the bundle and returns the absolute capture directory.
// A bundle with neither a HAR nor a download leaves its directory on disk
// without a pointer and returns an error marked domain.ErrIncompleteCapture.
func (w *Writer) Persist(ctx context.Context, job *domain.CaptureJob, b *domain.Bundle) (string, error) {
	if b == nil {
		b = &domain.Bundle{}
	}
	rel, dir, err := w.createDir(ctx)
	if err != nil {
		return "", err
	}

	put := func(name string, data []byte) error {
		if err := w.sink.WriteFile(ctx, path.Join(rel, name), data); err != nil {
			return errors.Wrapf(err, "persist %s for %s", name, job.UUID)
		}
		return nil
	}

	if job.OS != "" || job.Browser != "" {
		meta := map[string]string{}
		if job.OS != "" {
			meta["os"] = job.OS
		}
		if job.Browser != "" {
			meta["browser"] = job.Browser
		}
		raw, _ := json.Marshal(meta)
		if err := put(FileMeta, raw); err != nil {
			return dir, err
		}
	}
	if err := put(FileUUID, []byte(job.UUID)); err != nil {
		return dir, err
	}
	if !job.Listing {
		if err := put(FileNoIndex, nil); err != nil {
			return dir, err
		}
	}
	if job.Parent != "" {
		if err := put(FileParent, []byte(job.Parent)); err != nil {
			return dir, err
		}
	}
	if b.DownloadedName != "" {
		if err := put(FileDataFilename, []byte(b.DownloadedName)); err != nil {
			return dir, err
		}
	}
	if len(b.DownloadedFile) > 0 {
		if err := put(FileData, b.DownloadedFile); err != nil {
			return dir, err
		}
	}
	if b.Error != "" {
		raw, _ := json.Marshal(b.Error)
		if err := put(FileError, raw); err != nil {
			return dir, err
		}
	}

	if !b.Usable() {
		msg := b.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return dir, errors.Mark(errors.New(msg), domain.ErrIncompleteCapture)
	}

	if len(b.HAR) > 0 {
		if err := put(FileHAR, b.HAR); err != nil {
			return dir, err
		}
	}
	if len(b.PNG) > 0 {
		if err := put(FilePNG, b.PNG); err != nil {
			return dir, err
		}
	}
	if b.HTML != "" {
		if err := put(FileHTML, []byte(b.HTML)); err != nil {
			return dir, err
		}
	}
	if b.LastRedirectedURL != "" {
		if err := put(FileLastRedirect, []byte(b.LastRedirectedURL)); err != nil {
			return dir, err
		}
	}
	if len(b.Cookies) > 0 {
		if err := put(FileCookies, b.Cookies); err != nil {
			return dir, err
		}
	}

	if err := w.index.RegisterDirectory(ctx, job.UUID, dir); err != nil {
		return dir, err
	}
	w.logger.Debug("capture persisted", "uuid", job.UUID, "dir", dir)
	return dir, nil
}

// createDir claims a fresh timestamped directory. Two captures finishing in
// the same microsecond get neighbouring timestamps.
func (w *Writer) createDir(ctx context.Context) (rel, abs string, err error) {
	ts := w.now()
	for i := 0; i < maxDirAttempts; i++ {
		rel = path.Join(ts.Format("2006"), ts.Format("01"), ts.Format(dirTimeLayout))
		abs, err = w.sink.CreateDir(ctx, rel)
		if err == nil {
			return rel, abs, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", errors.Wrap(err, "create capture directory")
		}
		ts = ts.Add(time.Microsecond)
	}
	return "", "", errors.Newf("no free capture directory after %d attempts", maxDirAttempts)
}
