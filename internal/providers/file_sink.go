package providers

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// FileSink is where capture artifacts land. Paths are relative to the sink root.
type FileSink interface {
	Root() string
	// CreateDir creates parents as needed but requires the leaf to be new;
	// an existing leaf yields an error satisfying errors.Is(err, os.ErrExist).
	CreateDir(ctx context.Context, rel string) (string, error)
	// WriteFile writes data durably; readers never observe a partial file.
	WriteFile(ctx context.Context, rel string, data []byte) error
}

type localFileSink struct {
	rootDir string
}

func NewLocalFileSink(rootDir string) FileSink {
	if abs, err := filepath.Abs(rootDir); err == nil {
		rootDir = abs
	}
	return &localFileSink{rootDir: rootDir}
}

func (s *localFileSink) Root() string { return s.rootDir }

func (s *localFileSink) CreateDir(ctx context.Context, rel string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst := filepath.Join(s.rootDir, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errors.Wrapf(err, "create parents of %s", rel)
	}
	if err := os.Mkdir(dst, 0o755); err != nil {
		return "", errors.Wrapf(err, "create %s", rel)
	}
	return dst, nil
}

func (s *localFileSink) WriteFile(ctx context.Context, rel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := filepath.Join(s.rootDir, rel)
	f, err := os.CreateTemp(filepath.Dir(dst), ".tmp-"+filepath.Base(dst)+"-*")
	if err != nil {
		return errors.Wrapf(err, "write %s", rel)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "write %s", rel)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "sync %s", rel)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "close %s", rel)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "chmod %s", rel)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "rename %s", rel)
	}
	return nil
}
