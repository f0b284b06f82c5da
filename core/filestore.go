package core

import (
	"context"
	"io"
)

// FileStore persists uploaded files. Names returned by Save are relative to the store root.
type FileStore interface {
	Save(ctx context.Context, dir, filename string, r io.Reader) (string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
}
