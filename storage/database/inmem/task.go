package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/task"
)

type taskRepository struct {
	db *DB
}

var _ task.Repository = (*taskRepository)(nil) // interface compliance check

func NewTaskRepository(db *DB) task.Repository {
	return &taskRepository{db: db}
}

func (repo *taskRepository) CreateTask(_ context.Context, t task.Task) (task.Task, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.users[t.CreatedByID]; !ok {
		return task.Task{}, errUnknownUser
	}
	if t.AssignedToID.Valid {
		if _, ok := repo.db.users[t.AssignedToID.String]; !ok {
			return task.Task{}, errUnknownUser
		}
	}

	t.ID = uuid.New().String()
	repo.db.tasks[t.ID] = &t
	return t, nil
}

func (repo *taskRepository) QueryTasks(_ context.Context, filter *task.QueryFilter, ordering []core.DBOrdering) ([]task.Task, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	tasks := make([]task.Task, 0, len(repo.db.tasks))
	for _, t := range repo.db.tasks {
		if filter == nil || matchTask(*t, filter) {
			tasks = append(tasks, *t)
		}
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: false}}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return orderedLess(ordering, func(field string) int { return compareTasks(tasks[i], tasks[j], field) })
	})
	return tasks, nil
}

func matchTask(t task.Task, filter *task.QueryFilter) bool {
	if uid := filter.VisibleTo(); uid != "" && t.CreatedByID != uid && !t.IsAssignedTo(uid) {
		return false
	}
	if filter.Search != "" && !(containsFold(t.Title, filter.Search) || containsFold(t.Description.String, filter.Search)) {
		return false
	}
	if statuses := filter.StatusValues(); len(statuses) > 0 {
		found := false
		for _, s := range statuses {
			if t.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.AssignedTo != "" && !t.IsAssignedTo(filter.AssignedTo) {
		return false
	}
	if filter.CreatedBy != "" && t.CreatedByID != filter.CreatedBy {
		return false
	}
	if filter.TaskType != "" && !strings.EqualFold(t.TaskType.String, filter.TaskType) {
		return false
	}
	if from := filter.DueFromDate(); from.Valid && (!t.DueDate.Valid || t.DueDate.Time.Before(from.Time)) {
		return false
	}
	if to := filter.DueToDate(); to.Valid && (!t.DueDate.Valid || t.DueDate.Time.After(to.Time)) {
		return false
	}
	return true
}

func compareTasks(a, b task.Task, field string) int {
	switch field {
	case "title":
		return strings.Compare(a.Title, b.Title)
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	case "due_date":
		return compareTime(a.DueDate.Time, b.DueDate.Time)
	case "created_at":
		return compareTime(a.CreatedAt, b.CreatedAt)
	}
	return 0
}

func (repo *taskRepository) GetTask(_ context.Context, id string) (task.Task, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if t, ok := repo.db.tasks[id]; ok {
		return *t, nil
	}
	return task.Task{}, task.ErrNotFound
}

func (repo *taskRepository) UpdateTask(_ context.Context, t task.Task) (task.Task, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.tasks[t.ID]; !ok {
		return task.Task{}, task.ErrNotFound
	}
	if t.AssignedToID.Valid {
		if _, ok := repo.db.users[t.AssignedToID.String]; !ok {
			return task.Task{}, errUnknownUser
		}
	}
	repo.db.tasks[t.ID] = &t
	return t, nil
}

func (repo *taskRepository) DeleteTask(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.tasks[id]; !ok {
		return task.ErrNotFound
	}
	repo.db.deleteTask(id)
	return nil
}

func (repo *taskRepository) CreateTaskFile(_ context.Context, f task.TaskFile) (task.TaskFile, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.tasks[f.TaskID]; !ok {
		return task.TaskFile{}, task.ErrNotFound
	}
	f.ID = uuid.New().String()
	repo.db.taskFiles[f.ID] = &f
	return f, nil
}

func (repo *taskRepository) QueryTaskFiles(_ context.Context, taskID string) ([]task.TaskFile, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	files := make([]task.TaskFile, 0)
	for _, f := range repo.db.taskFiles {
		if f.TaskID == taskID {
			files = append(files, *f)
		}
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].UploadedAt.Before(files[j].UploadedAt) })
	return files, nil
}

func (repo *taskRepository) GetTaskFile(_ context.Context, taskID, id string) (task.TaskFile, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if f, ok := repo.db.taskFiles[id]; ok && f.TaskID == taskID {
		return *f, nil
	}
	return task.TaskFile{}, task.ErrFileNotFound
}

func (repo *taskRepository) DeleteTaskFile(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.taskFiles[id]; !ok {
		return task.ErrFileNotFound
	}
	delete(repo.db.taskFiles, id)
	return nil
}
