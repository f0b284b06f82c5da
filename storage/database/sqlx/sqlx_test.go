package sqlxrepos_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/notes"
	"github.com/trezcool/kazi/core/task"
	"github.com/trezcool/kazi/core/user"
	"github.com/trezcool/kazi/storage/database/sqlx"
	"github.com/trezcool/kazi/tests"
)

func TestUserRepository(t *testing.T) {
	db := testutil.PrepareDB(t)
	repo := sqlxrepos.NewUserRepository(db)
	ctx := context.Background()

	bob := testutil.CreateUser(t, repo, "Bob", "bob", "bob@kazi.test", "Xk2!mq9#Lz", user.RoleTeacher, true)
	noEmail := testutil.CreateUser(t, repo, "Ann", "ann", "", "", user.RoleStudent, true)

	t.Run("uniqueness", func(t *testing.T) {
		assert.Equal(t, user.ErrUsernameExists, repo.CheckUsernameUniqueness(ctx, "bob", "x@kazi.test"))
		assert.Equal(t, user.ErrEmailExists, repo.CheckUsernameUniqueness(ctx, "x", "bob@kazi.test"))
		assert.NoError(t, repo.CheckUsernameUniqueness(ctx, "bob", "bob@kazi.test", bob))
		// empty emails are stored as NULL and never collide
		assert.NoError(t, repo.CheckUsernameUniqueness(ctx, "someone", ""))

		_, err := repo.CreateUser(ctx, user.User{Username: "bob", Role: user.RoleStudent, CreatedAt: time.Now(), UpdatedAt: time.Now()})
		assert.Equal(t, user.ErrUsernameExists, err)
	})

	t.Run("get", func(t *testing.T) {
		got, err := repo.GetUser(ctx, user.GetFilter{UsernameOrEmail: "bob@kazi.test"})
		require.NoError(t, err)
		assert.Equal(t, bob.ID, got.ID)
		assert.Equal(t, user.RoleTeacher, got.Role)
		assert.NoError(t, got.CheckPassword("Xk2!mq9#Lz"))

		got, err = repo.GetUser(ctx, user.GetFilter{ID: noEmail.ID})
		require.NoError(t, err)
		assert.Equal(t, "", got.Email)

		_, err = repo.GetUser(ctx, user.GetFilter{ID: "not-a-uuid"})
		assert.Equal(t, user.ErrNotFound, err)
	})

	t.Run("query", func(t *testing.T) {
		filter := &user.QueryFilter{Roles: []string{"teacher"}}
		require.NoError(t, filter.Clean())
		users, err := repo.QueryUsers(ctx, filter, []core.DBOrdering{{Field: "username", Ascending: true}})
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, bob.ID, users[0].ID)
	})

	t.Run("otp", func(t *testing.T) {
		issuedAt := time.Now()
		usr := bob
		usr.SetOTP("123456", issuedAt)
		require.NoError(t, repo.SaveOTP(ctx, usr))

		// regular updates leave the OTP alone
		usr.Name = "Bobby"
		_, err := repo.UpdateUser(ctx, usr)
		require.NoError(t, err)

		stored, err := repo.GetUser(ctx, user.GetFilter{ID: bob.ID})
		require.NoError(t, err)
		require.True(t, stored.HasOTP())
		assert.True(t, stored.OTPCreatedAt.Time.Equal(usr.OTPCreatedAt.Time))

		ok, err := repo.ConsumeOTP(ctx, bob.ID, "000000", stored.OTPCreatedAt.Time)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.ConsumeOTP(ctx, bob.ID, "123456", stored.OTPCreatedAt.Time)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.ConsumeOTP(ctx, bob.ID, "123456", stored.OTPCreatedAt.Time)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestTaskAndNotesRepositories(t *testing.T) {
	db := testutil.PrepareDB(t)
	usrRepo := sqlxrepos.NewUserRepository(db)
	taskRepo := sqlxrepos.NewTaskRepository(db)
	notesRepo := sqlxrepos.NewNotesRepository(db)
	ctx := context.Background()

	teacher := testutil.CreateUser(t, usrRepo, "Tom", "tom", "tom@kazi.test", "", user.RoleTeacher, true)
	student := testutil.CreateUser(t, usrRepo, "Sam", "sam", "sam@kazi.test", "", user.RoleStudent, true)
	due := time.Date(2021, time.June, 1, 0, 0, 0, 0, time.UTC)

	created, err := taskRepo.CreateTask(ctx, task.Task{
		Title:        "Essay",
		AssignedToID: null.StringFrom(student.ID),
		CreatedByID:  teacher.ID,
		Status:       task.StatusPending,
		DueDate:      null.TimeFrom(due),
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)

	got, err := taskRepo.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.DueDate.Time.Equal(due))
	assert.Equal(t, task.StatusPending, got.Status)

	got.Status = task.StatusInProgress
	_, err = taskRepo.UpdateTask(ctx, got)
	require.NoError(t, err)

	filter := &task.QueryFilter{Statuses: []string{"in progress"}, DueFrom: "2021-05-01", DueTo: "2021-06-30"}
	require.NoError(t, filter.Clean())
	tasks, err := taskRepo.QueryTasks(ctx, filter, nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, created.ID, tasks[0].ID)

	f, err := taskRepo.CreateTaskFile(ctx, task.TaskFile{TaskID: created.ID, File: "task_files/a.pdf", UploadedAt: time.Now()})
	require.NoError(t, err)
	gotFile, err := taskRepo.GetTaskFile(ctx, created.ID, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "task_files/a.pdf", gotFile.File)

	_, err = notesRepo.CreateUpload(ctx, notes.Upload{UploadedByID: student.ID, File: "notes/n.pdf", UploadedAt: time.Now()})
	require.NoError(t, err)

	// deleting the assignee unassigns the task & deletes their notes
	_, err = usrRepo.DeleteUsersByID(ctx, student.ID)
	require.NoError(t, err)
	got, err = taskRepo.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, got.AssignedToID.Valid)
	ups, err := notesRepo.QueryUploads(ctx, notes.QueryFilter{})
	require.NoError(t, err)
	assert.Empty(t, ups)

	// deleting the creator deletes the task & its files
	_, err = usrRepo.DeleteUsersByID(ctx, teacher.ID)
	require.NoError(t, err)
	_, err = taskRepo.GetTask(ctx, created.ID)
	assert.Equal(t, task.ErrNotFound, err)
	files, err := taskRepo.QueryTaskFiles(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
}
