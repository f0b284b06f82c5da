package notes_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/notes"
	"github.com/trezcool/kazi/core/user"
	"github.com/trezcool/kazi/services/filestore"
	inmemdb "github.com/trezcool/kazi/storage/database/inmem"
)

func TestService(t *testing.T) {
	ctx := context.Background()
	conf := core.NewTestConfig()
	conf.Media.Root = t.TempDir()
	store, err := filestore.NewLocalStore(conf)
	require.NoError(t, err)

	db := inmemdb.Open()
	users := inmemdb.NewUserRepository(db)
	svc := notes.NewService(inmemdb.NewNotesRepository(db), store)

	createUser := func(uname string, role user.Role) user.User {
		now := time.Now().UTC()
		usr, err := users.CreateUser(ctx, user.User{
			Name: uname, Username: uname, Email: uname + "@kazi.test", Role: role, IsActive: true, CreatedAt: now, UpdatedAt: now,
		})
		require.NoError(t, err)
		return usr
	}
	admin := createUser("admin", user.RoleAdmin)
	bob := createUser("bob", user.RoleStudent)
	ann := createUser("ann", user.RoleTeacher)

	bobs, err := svc.Upload(ctx, bob, "chapter 1.pdf", strings.NewReader("notes"))
	require.NoError(t, err)
	assert.Equal(t, bob.ID, bobs.UploadedByID)
	assert.True(t, strings.HasPrefix(bobs.File, "notes/"))

	anns, err := svc.Upload(ctx, ann, "slides.pptx", strings.NewReader("slides"))
	require.NoError(t, err)

	t.Run("query", func(t *testing.T) {
		ups, err := svc.Query(ctx, bob, notes.QueryFilter{})
		require.NoError(t, err)
		require.Len(t, ups, 1)
		assert.Equal(t, bobs.ID, ups[0].ID)

		// uploader filter is ignored for non managers
		ups, err = svc.Query(ctx, bob, notes.QueryFilter{UploadedBy: ann.ID})
		require.NoError(t, err)
		require.Len(t, ups, 1)
		assert.Equal(t, bobs.ID, ups[0].ID)

		ups, err = svc.Query(ctx, admin, notes.QueryFilter{})
		require.NoError(t, err)
		assert.Len(t, ups, 2)

		ups, err = svc.Query(ctx, admin, notes.QueryFilter{UploadedBy: ann.ID})
		require.NoError(t, err)
		require.Len(t, ups, 1)
		assert.Equal(t, anns.ID, ups[0].ID)
	})

	t.Run("get and open", func(t *testing.T) {
		_, err := svc.Get(ctx, bob, anns.ID)
		assert.True(t, core.IsNotFound(err))

		up, err := svc.Get(ctx, admin, bobs.ID)
		require.NoError(t, err)
		rc, err := svc.Open(ctx, up)
		require.NoError(t, err)
		defer rc.Close()
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "notes", string(content))
	})

	t.Run("delete", func(t *testing.T) {
		assert.Equal(t, core.ErrPermissionDenied, svc.Delete(ctx, bob, anns))

		require.NoError(t, svc.Delete(ctx, bob, bobs))
		_, err := svc.Get(ctx, bob, bobs.ID)
		assert.True(t, core.IsNotFound(err))
		_, err = svc.Open(ctx, bobs)
		assert.True(t, core.IsNotFound(err))

		require.NoError(t, svc.Delete(ctx, admin, anns))
	})
}
