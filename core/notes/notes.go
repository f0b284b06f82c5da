package notes

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/user"
)

const notesDir = "notes"

var ErrNotFound = core.NewNotFoundError("notes not found")

// Upload is a notes file shared by a User.
type Upload struct {
	ID           string    `json:"id"`
	UploadedByID string    `json:"uploaded_by"`
	File         string    `json:"file"`
	UploadedAt   time.Time `json:"uploaded_at"` // UTC
}

func (u Upload) String() string {
	return "Notes by " + u.UploadedByID
}

type QueryFilter struct {
	UploadedBy string `query:"uploaded_by"`
}

type (
	Repository interface {
		CreateUpload(ctx context.Context, up Upload) (Upload, error)
		QueryUploads(ctx context.Context, filter QueryFilter) ([]Upload, error)
		GetUpload(ctx context.Context, id string) (Upload, error)
		DeleteUpload(ctx context.Context, id string) error
	}

	Service interface {
		Upload(ctx context.Context, actor user.User, filename string, r io.Reader) (Upload, error)
		Query(ctx context.Context, actor user.User, filter QueryFilter) ([]Upload, error)
		Get(ctx context.Context, actor user.User, id string) (Upload, error)
		Delete(ctx context.Context, actor user.User, up Upload) error
		Open(ctx context.Context, up Upload) (io.ReadCloser, error)
	}

	service struct {
		repo  Repository
		store core.FileStore
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, store core.FileStore) Service {
	return &service{repo: repo, store: store}
}

// CanAccess reports whether `actor` may download or delete `up`.
func CanAccess(actor user.User, up Upload) bool {
	return actor.CanManageUsers() || up.UploadedByID == actor.ID
}

func (svc *service) Upload(ctx context.Context, actor user.User, filename string, r io.Reader) (Upload, error) {
	name, err := svc.store.Save(ctx, notesDir, filename, r)
	if err != nil {
		return Upload{}, errors.Wrap(err, "saving notes")
	}
	up, err := svc.repo.CreateUpload(ctx, Upload{
		UploadedByID: actor.ID,
		File:         name,
		UploadedAt:   user.NowFunc().UTC(),
	})
	if err != nil {
		_ = svc.store.Delete(ctx, name)
		return Upload{}, err
	}
	return up, nil
}

// Query lists the actor's own uploads. Managers see everyone's, optionally filtered by uploader.
func (svc *service) Query(ctx context.Context, actor user.User, filter QueryFilter) ([]Upload, error) {
	filter.UploadedBy = core.CleanString(filter.UploadedBy, true /* lower */)
	if !actor.CanManageUsers() {
		filter.UploadedBy = actor.ID
	}
	return svc.repo.QueryUploads(ctx, filter)
}

func (svc *service) Get(ctx context.Context, actor user.User, id string) (Upload, error) {
	up, err := svc.repo.GetUpload(ctx, id)
	if err != nil {
		return Upload{}, err
	}
	if !CanAccess(actor, up) {
		return Upload{}, ErrNotFound
	}
	return up, nil
}

func (svc *service) Delete(ctx context.Context, actor user.User, up Upload) error {
	if !CanAccess(actor, up) {
		return core.ErrPermissionDenied
	}
	if err := svc.repo.DeleteUpload(ctx, up.ID); err != nil {
		return err
	}
	if err := svc.store.Delete(ctx, up.File); err != nil && !core.IsNotFound(err) {
		return errors.Wrap(err, "deleting stored notes")
	}
	return nil
}

func (svc *service) Open(ctx context.Context, up Upload) (io.ReadCloser, error) {
	return svc.store.Open(ctx, up.File)
}
