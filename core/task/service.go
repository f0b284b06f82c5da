package task

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/user"
)

const (
	attachmentsDir = "task_attachments"
	filesDir       = "task_files"
)

var (
	// errors
	ErrNotFound     = core.NewNotFoundError("task not found")
	ErrFileNotFound = core.NewNotFoundError("file not found")
)

type (
	Repository interface {
		CreateTask(ctx context.Context, t Task) (Task, error)
		QueryTasks(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Task, error)
		GetTask(ctx context.Context, id string) (Task, error)
		UpdateTask(ctx context.Context, t Task) (Task, error)
		DeleteTask(ctx context.Context, id string) error

		CreateTaskFile(ctx context.Context, f TaskFile) (TaskFile, error)
		QueryTaskFiles(ctx context.Context, taskID string) ([]TaskFile, error)
		GetTaskFile(ctx context.Context, taskID, id string) (TaskFile, error)
		DeleteTaskFile(ctx context.Context, id string) error
	}

	// UserGetter finds the Users tasks are assigned to.
	UserGetter interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	Service interface {
		Create(ctx context.Context, actor user.User, nt NewTask) (Task, error)
		Query(ctx context.Context, actor user.User, filter *QueryFilter, ordering []core.DBOrdering) ([]Task, error)
		Get(ctx context.Context, actor user.User, id string) (Task, error)
		Update(ctx context.Context, actor user.User, t Task, ut UpdateTask) (Task, error)
		Delete(ctx context.Context, actor user.User, t Task) error

		SetAttachment(ctx context.Context, actor user.User, t Task, filename string, r io.Reader) (Task, error)
		RemoveAttachment(ctx context.Context, actor user.User, t Task) (Task, error)

		AddFile(ctx context.Context, actor user.User, t Task, filename string, r io.Reader) (TaskFile, error)
		Files(ctx context.Context, actor user.User, t Task) ([]TaskFile, error)
		GetFile(ctx context.Context, actor user.User, t Task, fileID string) (TaskFile, error)
		DeleteFile(ctx context.Context, actor user.User, t Task, f TaskFile) error

		OpenFile(ctx context.Context, name string) (io.ReadCloser, error)
	}

	service struct {
		repo  Repository
		users UserGetter
		store core.FileStore
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, users UserGetter, store core.FileStore) Service {
	return &service{repo: repo, users: users, store: store}
}

// CanView reports whether `actor` may see `t`.
func CanView(actor user.User, t Task) bool {
	return actor.CanViewAllTasks() || t.CreatedByID == actor.ID || t.IsAssignedTo(actor.ID)
}

// CanEdit reports whether `actor` may modify every field of `t`, or delete it.
func CanEdit(actor user.User, t Task) bool {
	return actor.CanViewAllTasks() || t.CreatedByID == actor.ID
}

func (svc *service) checkAssignee(ctx context.Context, actor user.User, assigneeID string) error {
	assignee, err := svc.users.GetByID(ctx, assigneeID)
	if err != nil {
		if core.IsNotFound(err) {
			return core.NewValidationError(nil, core.FieldError{Field: "assigned_to", Error: "user not found"})
		}
		return errors.Wrap(err, "getting assignee")
	}
	if !actor.CanAssignTo(assignee) {
		return core.NewValidationError(nil, core.FieldError{Field: "assigned_to", Error: "you cannot assign tasks to this user"})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, actor user.User, nt NewTask) (Task, error) {
	if !actor.CanCreateTasks() {
		return Task{}, core.ErrPermissionDenied
	}
	if nt.AssignedTo != "" {
		if err := svc.checkAssignee(ctx, actor, nt.AssignedTo); err != nil {
			return Task{}, err
		}
	}

	status := nt.Status
	if status == "" {
		status = DefaultStatus
	}
	t := Task{
		Title:        nt.Title,
		Description:  null.NewString(nt.Description, nt.Description != ""),
		AssignedToID: null.NewString(nt.AssignedTo, nt.AssignedTo != ""),
		CreatedByID:  actor.ID,
		Status:       status,
		DueDate:      nt.dueDate,
		TaskType:     null.NewString(nt.TaskType, nt.TaskType != ""),
		CreatedAt:    user.NowFunc().UTC(),
	}
	return svc.repo.CreateTask(ctx, t)
}

func (svc *service) Query(ctx context.Context, actor user.User, filter *QueryFilter, ordering []core.DBOrdering) ([]Task, error) {
	if filter == nil {
		filter = &QueryFilter{}
	}
	filter.visibleTo = ""
	if !actor.CanViewAllTasks() {
		filter.visibleTo = actor.ID
	}
	return svc.repo.QueryTasks(ctx, filter, core.SafeOrderings(ordering, OrderingFields))
}

func (svc *service) Get(ctx context.Context, actor user.User, id string) (Task, error) {
	t, err := svc.repo.GetTask(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if !CanView(actor, t) {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (svc *service) Update(ctx context.Context, actor user.User, t Task, ut UpdateTask) (Task, error) {
	if !CanEdit(actor, t) {
		// the assignee may only move the task along
		if !(t.IsAssignedTo(actor.ID) && ut.OnlyStatus()) {
			return Task{}, core.ErrPermissionDenied
		}
	}

	if ut.Title != nil {
		t.Title = *ut.Title
	}
	if ut.Description != nil {
		t.Description = null.NewString(*ut.Description, *ut.Description != "")
	}
	if ut.AssignedTo != nil && *ut.AssignedTo != t.AssignedToID.String {
		if *ut.AssignedTo != "" {
			if err := svc.checkAssignee(ctx, actor, *ut.AssignedTo); err != nil {
				return Task{}, err
			}
		}
		t.AssignedToID = null.NewString(*ut.AssignedTo, *ut.AssignedTo != "")
	}
	if ut.Status != nil {
		t.Status = *ut.Status
	}
	if ut.DueDate != nil {
		t.DueDate = ut.dueDate
	}
	if ut.TaskType != nil {
		t.TaskType = null.NewString(*ut.TaskType, *ut.TaskType != "")
	}
	return svc.repo.UpdateTask(ctx, t)
}

func (svc *service) Delete(ctx context.Context, actor user.User, t Task) error {
	if !CanEdit(actor, t) {
		return core.ErrPermissionDenied
	}

	files, err := svc.repo.QueryTaskFiles(ctx, t.ID)
	if err != nil {
		return errors.Wrap(err, "querying task files")
	}
	if err = svc.repo.DeleteTask(ctx, t.ID); err != nil {
		return err
	}

	names := make([]string, 0, len(files)+1)
	if t.Attachment.Valid {
		names = append(names, t.Attachment.String)
	}
	for _, f := range files {
		names = append(names, f.File)
	}
	return svc.removeStored(ctx, names...)
}

func (svc *service) SetAttachment(ctx context.Context, actor user.User, t Task, filename string, r io.Reader) (Task, error) {
	if !CanEdit(actor, t) {
		return Task{}, core.ErrPermissionDenied
	}

	name, err := svc.store.Save(ctx, attachmentsDir, filename, r)
	if err != nil {
		return Task{}, errors.Wrap(err, "saving attachment")
	}
	prev := t.Attachment
	t.Attachment = null.StringFrom(name)
	if t, err = svc.repo.UpdateTask(ctx, t); err != nil {
		_ = svc.store.Delete(ctx, name)
		return Task{}, err
	}

	if prev.Valid {
		if err = svc.removeStored(ctx, prev.String); err != nil {
			return Task{}, err
		}
	}
	return t, nil
}

func (svc *service) RemoveAttachment(ctx context.Context, actor user.User, t Task) (Task, error) {
	if !CanEdit(actor, t) {
		return Task{}, core.ErrPermissionDenied
	}
	if !t.Attachment.Valid {
		return t, nil
	}

	name := t.Attachment.String
	t.Attachment = null.String{}
	t, err := svc.repo.UpdateTask(ctx, t)
	if err != nil {
		return Task{}, err
	}
	return t, svc.removeStored(ctx, name)
}

func (svc *service) AddFile(ctx context.Context, actor user.User, t Task, filename string, r io.Reader) (TaskFile, error) {
	if !CanView(actor, t) {
		return TaskFile{}, core.ErrPermissionDenied
	}

	name, err := svc.store.Save(ctx, filesDir, filename, r)
	if err != nil {
		return TaskFile{}, errors.Wrap(err, "saving task file")
	}
	f, err := svc.repo.CreateTaskFile(ctx, TaskFile{TaskID: t.ID, File: name, UploadedAt: user.NowFunc().UTC()})
	if err != nil {
		_ = svc.store.Delete(ctx, name)
		return TaskFile{}, err
	}
	return f, nil
}

func (svc *service) Files(ctx context.Context, actor user.User, t Task) ([]TaskFile, error) {
	if !CanView(actor, t) {
		return nil, ErrNotFound
	}
	return svc.repo.QueryTaskFiles(ctx, t.ID)
}

func (svc *service) GetFile(ctx context.Context, actor user.User, t Task, fileID string) (TaskFile, error) {
	if !CanView(actor, t) {
		return TaskFile{}, ErrNotFound
	}
	return svc.repo.GetTaskFile(ctx, t.ID, fileID)
}

func (svc *service) DeleteFile(ctx context.Context, actor user.User, t Task, f TaskFile) error {
	if !CanEdit(actor, t) {
		return core.ErrPermissionDenied
	}
	if f.TaskID != t.ID {
		return ErrFileNotFound
	}
	if err := svc.repo.DeleteTaskFile(ctx, f.ID); err != nil {
		return err
	}
	return svc.removeStored(ctx, f.File)
}

func (svc *service) OpenFile(ctx context.Context, name string) (io.ReadCloser, error) {
	return svc.store.Open(ctx, name)
}

// removeStored deletes stored files. Files already gone are ignored.
func (svc *service) removeStored(ctx context.Context, names ...string) error {
	for _, name := range names {
		if err := svc.store.Delete(ctx, name); err != nil && !core.IsNotFound(err) {
			return errors.Wrapf(err, "deleting stored file %s", name)
		}
	}
	return nil
}
