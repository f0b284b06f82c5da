package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/task"
)

const (
	taskColumns = `id, title, description, assigned_to, created_by, status, due_date, task_type, attachment, created_at`

	taskFileColumns = `id, task_id, file, uploaded_at`
)

type taskRow struct {
	ID          string      `db:"id"`
	Title       string      `db:"title"`
	Description null.String `db:"description"`
	AssignedTo  null.String `db:"assigned_to"`
	CreatedBy   string      `db:"created_by"`
	Status      task.Status `db:"status"`
	DueDate     null.Time   `db:"due_date"`
	TaskType    null.String `db:"task_type"`
	Attachment  null.String `db:"attachment"`
	CreatedAt   time.Time   `db:"created_at"`
}

func toTaskRow(t task.Task) taskRow {
	return taskRow{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		AssignedTo:  t.AssignedToID,
		CreatedBy:   t.CreatedByID,
		Status:      t.Status,
		DueDate:     t.DueDate,
		TaskType:    t.TaskType,
		Attachment:  t.Attachment,
		CreatedAt:   t.CreatedAt.UTC(),
	}
}

func (row taskRow) toTask() task.Task {
	t := task.Task{
		ID:           row.ID,
		Title:        row.Title,
		Description:  row.Description,
		AssignedToID: row.AssignedTo,
		CreatedByID:  row.CreatedBy,
		Status:       row.Status,
		DueDate:      row.DueDate,
		TaskType:     row.TaskType,
		Attachment:   row.Attachment,
		CreatedAt:    row.CreatedAt.UTC(),
	}
	if t.DueDate.Valid {
		d := t.DueDate.Time
		t.DueDate.Time = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t
}

type taskFileRow struct {
	ID         string    `db:"id"`
	TaskID     string    `db:"task_id"`
	File       string    `db:"file"`
	UploadedAt time.Time `db:"uploaded_at"`
}

func (row taskFileRow) toTaskFile() task.TaskFile {
	return task.TaskFile{ID: row.ID, TaskID: row.TaskID, File: row.File, UploadedAt: row.UploadedAt.UTC()}
}

type taskRepository struct {
	db sqlx.ExtContext
}

var _ task.Repository = (*taskRepository)(nil) // interface compliance check

func NewTaskRepository(db sqlx.ExtContext) task.Repository {
	return &taskRepository{db: db}
}

// trapForeignKeyErr maps unknown user references to a validation error.
func trapForeignKeyErr(err error, msg string) error {
	if pqErr, ok := pqError(err); ok && pqErr.Code == pqForeignKeyViolation {
		return errUnknownUser
	}
	return errors.Wrap(err, msg)
}

func (repo *taskRepository) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	t.ID = uuid.New().String()
	q := `INSERT INTO task (` + taskColumns + `) VALUES (
		:id, :title, :description, :assigned_to, :created_by, :status, :due_date, :task_type, :attachment, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.db, q, toTaskRow(t)); err != nil {
		return task.Task{}, trapForeignKeyErr(err, "inserting task")
	}
	return t, nil
}

func (repo *taskRepository) QueryTasks(ctx context.Context, filter *task.QueryFilter, ordering []core.DBOrdering) ([]task.Task, error) {
	w := &where{}
	if filter != nil {
		if uid := filter.VisibleTo(); uid != "" {
			if !isUUID(uid) {
				return []task.Task{}, nil
			}
			w.add("(created_by = ? OR assigned_to = ?)", uid, uid)
		}
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("(title ILIKE ? OR description ILIKE ?)", val, val)
		}
		if statuses := filter.StatusValues(); len(statuses) > 0 {
			w.add("status IN (?)", statuses)
		}
		if filter.AssignedTo != "" {
			if !isUUID(filter.AssignedTo) {
				return []task.Task{}, nil
			}
			w.add("assigned_to = ?", filter.AssignedTo)
		}
		if filter.CreatedBy != "" {
			if !isUUID(filter.CreatedBy) {
				return []task.Task{}, nil
			}
			w.add("created_by = ?", filter.CreatedBy)
		}
		if filter.TaskType != "" {
			w.add("task_type ILIKE ?", filter.TaskType)
		}
		if from := filter.DueFromDate(); from.Valid {
			w.add("due_date >= ?", from.Time)
		}
		if to := filter.DueToDate(); to.Valid {
			w.add("due_date <= ?", to.Time)
		}
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: false}}
	}

	q, args, err := w.build(repo.db, `SELECT `+taskColumns+` FROM task`, ordering)
	if err != nil {
		return nil, err
	}
	var rows []taskRow
	if err = sqlx.SelectContext(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying tasks")
	}

	tasks := make([]task.Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, row.toTask())
	}
	return tasks, nil
}

func (repo *taskRepository) GetTask(ctx context.Context, id string) (task.Task, error) {
	if !isUUID(id) {
		return task.Task{}, task.ErrNotFound
	}
	var row taskRow
	q := repo.db.Rebind(`SELECT ` + taskColumns + ` FROM task WHERE id = ?`)
	if err := sqlx.GetContext(ctx, repo.db, &row, q, id); err != nil {
		return task.Task{}, trapNoRowsErr(err, task.ErrNotFound, "finding task")
	}
	return row.toTask(), nil
}

func (repo *taskRepository) UpdateTask(ctx context.Context, t task.Task) (task.Task, error) {
	q := `UPDATE task SET
		title = :title, description = :description, assigned_to = :assigned_to, status = :status,
		due_date = :due_date, task_type = :task_type, attachment = :attachment
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.db, q, toTaskRow(t))
	if err != nil {
		return task.Task{}, trapForeignKeyErr(err, "updating task")
	}
	if err = checkAffected(res, task.ErrNotFound); err != nil {
		return task.Task{}, err
	}
	return t, nil
}

func (repo *taskRepository) DeleteTask(ctx context.Context, id string) error {
	if !isUUID(id) {
		return task.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind(`DELETE FROM task WHERE id = ?`), id)
	if err != nil {
		return errors.Wrap(err, "deleting task")
	}
	return checkAffected(res, task.ErrNotFound)
}

func (repo *taskRepository) CreateTaskFile(ctx context.Context, f task.TaskFile) (task.TaskFile, error) {
	f.ID = uuid.New().String()
	q := `INSERT INTO task_file (` + taskFileColumns + `) VALUES (:id, :task_id, :file, :uploaded_at)`
	row := taskFileRow{ID: f.ID, TaskID: f.TaskID, File: f.File, UploadedAt: f.UploadedAt.UTC()}
	if _, err := sqlx.NamedExecContext(ctx, repo.db, q, row); err != nil {
		if pqErr, ok := pqError(err); ok && pqErr.Code == pqForeignKeyViolation {
			return task.TaskFile{}, task.ErrNotFound
		}
		return task.TaskFile{}, errors.Wrap(err, "inserting task file")
	}
	return f, nil
}

func (repo *taskRepository) QueryTaskFiles(ctx context.Context, taskID string) ([]task.TaskFile, error) {
	files := make([]task.TaskFile, 0)
	if !isUUID(taskID) {
		return files, nil
	}
	var rows []taskFileRow
	q := repo.db.Rebind(`SELECT ` + taskFileColumns + ` FROM task_file WHERE task_id = ? ORDER BY uploaded_at`)
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, taskID); err != nil {
		return nil, errors.Wrap(err, "querying task files")
	}
	for _, row := range rows {
		files = append(files, row.toTaskFile())
	}
	return files, nil
}

func (repo *taskRepository) GetTaskFile(ctx context.Context, taskID, id string) (task.TaskFile, error) {
	if !isUUID(taskID) || !isUUID(id) {
		return task.TaskFile{}, task.ErrFileNotFound
	}
	var row taskFileRow
	q := repo.db.Rebind(`SELECT ` + taskFileColumns + ` FROM task_file WHERE task_id = ? AND id = ?`)
	if err := sqlx.GetContext(ctx, repo.db, &row, q, taskID, id); err != nil {
		return task.TaskFile{}, trapNoRowsErr(err, task.ErrFileNotFound, "finding task file")
	}
	return row.toTaskFile(), nil
}

func (repo *taskRepository) DeleteTaskFile(ctx context.Context, id string) error {
	if !isUUID(id) {
		return task.ErrFileNotFound
	}
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind(`DELETE FROM task_file WHERE id = ?`), id)
	if err != nil {
		return errors.Wrap(err, "deleting task file")
	}
	return checkAffected(res, task.ErrFileNotFound)
}
