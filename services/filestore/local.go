package filestore

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/kazi/core"
)

var (
	ErrInvalidName = errors.New("invalid file name")

	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// LocalStore keeps files under a root directory on the local disk.
type LocalStore struct {
	root string
}

var _ core.FileStore = (*LocalStore)(nil)

func NewLocalStore(conf *core.Config) (*LocalStore, error) {
	root, err := filepath.Abs(conf.Media.Root)
	if err != nil {
		return nil, errors.Wrap(err, "resolving media root")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errors.Wrap(err, "creating media root")
	}
	return &LocalStore{root: root}, nil
}

// Save writes r to `dir/<uuid>-<filename>` and returns that name.
func (s *LocalStore) Save(ctx context.Context, dir, filename string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	base := sanitize(filename)
	if base == "" {
		return "", ErrInvalidName
	}
	name := path.Join(dir, uuid.NewString()+"-"+base)
	full, err := s.resolve(name)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", errors.Wrap(err, "creating directory")
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", errors.Wrap(err, "creating file")
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return "", errors.Wrap(err, "writing file")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(full)
		return "", errors.Wrap(err, "closing file")
	}
	return name, nil
}

func (s *LocalStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.NewNotFoundError("file not found")
		}
		return nil, errors.Wrap(err, "opening file")
	}
	return f, nil
}

func (s *LocalStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return core.NewNotFoundError("file not found")
		}
		return errors.Wrap(err, "deleting file")
	}
	return nil
}

// resolve maps a store name to a path under the root, rejecting anything that escapes it.
func (s *LocalStore) resolve(name string) (string, error) {
	if name == "" || strings.Contains(name, "\\") || path.IsAbs(name) {
		return "", ErrInvalidName
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidName
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func sanitize(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if len(base) > 100 {
		base = base[len(base)-100:]
	}
	return base
}
