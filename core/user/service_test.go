package user_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/user"
	appfs "github.com/trezcool/kazi/fs"
	emailsvc "github.com/trezcool/kazi/services/email"
	"github.com/trezcool/kazi/services/ratelimit"
	inmemdb "github.com/trezcool/kazi/storage/database/inmem"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type testEnv struct {
	conf  *core.Config
	repo  user.Repository
	mail  *emailsvc.ConsoleServiceMock
	svc   user.Service
	redis *miniredis.Miniredis
}

func setup(t *testing.T) testEnv {
	t.Helper()
	core.ParseEmailTemplates(appfs.FS, nopLogger{}, true)

	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	conf := core.NewTestConfig()
	repo := inmemdb.NewUserRepository(inmemdb.Open())
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	return testEnv{
		conf:  conf,
		repo:  repo,
		mail:  mailSvc,
		svc:   user.NewService(repo, mailSvc, ratelimit.NewRedisLimiter(rdb), conf),
		redis: s,
	}
}

func (env testEnv) createUser(t *testing.T, uname string, role user.Role) user.User {
	t.Helper()
	usr, err := env.svc.Create(context.Background(), user.NewUser{
		Name:     uname,
		Username: uname,
		Email:    uname + "@kazi.test",
		Password: "Pa$$w0rd!",
		Role:     role,
	})
	require.NoError(t, err)
	return usr
}

func (env testEnv) refetch(t *testing.T, usr user.User) user.User {
	t.Helper()
	usr, err := env.svc.GetByID(context.Background(), usr.ID)
	require.NoError(t, err)
	return usr
}

func TestService_Create(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	usr := env.createUser(t, "bob", "")
	assert.Equal(t, user.DefaultRole, usr.Role)
	assert.True(t, usr.IsActive)
	assert.NoError(t, usr.CheckPassword("Pa$$w0rd!"))
	assert.False(t, usr.HasOTP())

	err := env.svc.CheckUniqueness("bob", "")
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "username", vErr.Fields[0].Field)

	assert.NoError(t, env.svc.CheckUniqueness("bob", "bob@kazi.test", usr))

	got, err := env.svc.GetByUsernameOrEmail(ctx, " BOB@kazi.test ")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)

	_, err = env.svc.GetByID(ctx, "missing")
	assert.True(t, core.IsNotFound(err))
}

func TestService_OTP(t *testing.T) {
	ctx := context.Background()

	t.Run("issue and verify", func(t *testing.T) {
		env := setup(t)
		usr := env.createUser(t, "bob", user.RoleStudent)

		issued, err := env.svc.IssueOTP(ctx, usr)
		require.NoError(t, err)
		require.True(t, issued.HasOTP())
		assert.Len(t, issued.OTP.String, env.conf.OTP.Length)

		msg, ok := env.mail.LastMessage()
		require.True(t, ok)
		assert.Equal(t, "bob@kazi.test", msg.To[0].Address)
		assert.Contains(t, msg.TextContent, issued.OTP.String)
		assert.Contains(t, msg.TextContent, "5 minutes")

		stored := env.refetch(t, usr)
		assert.Equal(t, issued.OTP, stored.OTP)

		loggedIn, err := env.svc.VerifyOTP(ctx, stored, issued.OTP.String)
		require.NoError(t, err)
		assert.False(t, loggedIn.HasOTP())
		assert.True(t, loggedIn.LastLogin.Valid)

		stored = env.refetch(t, usr)
		assert.False(t, stored.HasOTP())
		assert.True(t, stored.LastLogin.Valid)
	})

	t.Run("codes are single use", func(t *testing.T) {
		env := setup(t)
		usr := env.createUser(t, "bob", user.RoleStudent)

		issued, err := env.svc.IssueOTP(ctx, usr)
		require.NoError(t, err)
		_, err = env.svc.VerifyOTP(ctx, issued, issued.OTP.String)
		require.NoError(t, err)

		// stale copy still holding the code
		_, err = env.svc.VerifyOTP(ctx, issued, issued.OTP.String)
		assert.Equal(t, user.ErrOTPMismatch, err)

		_, err = env.svc.VerifyOTP(ctx, env.refetch(t, usr), issued.OTP.String)
		assert.Equal(t, user.ErrOTPNotIssued, err)
	})

	t.Run("new code replaces the old one", func(t *testing.T) {
		env := setup(t)
		usr := env.createUser(t, "bob", user.RoleStudent)

		first, err := env.svc.SetOTP(ctx, usr, "111111")
		require.NoError(t, err)
		_, err = env.svc.SetOTP(ctx, first, "222222")
		require.NoError(t, err)

		_, err = env.svc.VerifyOTP(ctx, env.refetch(t, usr), "111111")
		assert.Equal(t, user.ErrOTPMismatch, err)
		_, err = env.svc.VerifyOTP(ctx, env.refetch(t, usr), "222222")
		assert.NoError(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		env := setup(t)
		usr := env.createUser(t, "bob", user.RoleStudent)

		issuedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		restore := user.MockNow(issuedAt)
		defer restore()
		_, err := env.svc.SetOTP(ctx, usr, "123456")
		require.NoError(t, err)

		user.MockNow(issuedAt.Add(5*time.Minute + time.Second))
		_, err = env.svc.VerifyOTP(ctx, env.refetch(t, usr), "123456")
		assert.Equal(t, user.ErrOTPExpired, err)

		user.MockNow(issuedAt.Add(5 * time.Minute))
		_, err = env.svc.VerifyOTP(ctx, env.refetch(t, usr), "123456")
		assert.NoError(t, err)
	})

	t.Run("too many attempts burn the code", func(t *testing.T) {
		env := setup(t)
		usr := env.createUser(t, "bob", user.RoleStudent)

		_, err := env.svc.SetOTP(ctx, usr, "123456")
		require.NoError(t, err)

		for i := 0; i < env.conf.OTP.MaxAttempts; i++ {
			_, err = env.svc.VerifyOTP(ctx, env.refetch(t, usr), "000000")
			require.Equal(t, user.ErrOTPMismatch, err)
		}
		_, err = env.svc.VerifyOTP(ctx, env.refetch(t, usr), "123456")
		assert.Equal(t, user.ErrOTPAttemptsExceeded, err)

		stored := env.refetch(t, usr)
		assert.False(t, stored.HasOTP())
		_, err = env.svc.VerifyOTP(ctx, stored, "123456")
		assert.Equal(t, user.ErrOTPNotIssued, err)

		// a new code gets a new budget
		_, err = env.svc.SetOTP(ctx, stored, "654321")
		require.NoError(t, err)
		_, err = env.svc.VerifyOTP(ctx, env.refetch(t, usr), "654321")
		assert.NoError(t, err)
	})

	t.Run("burning a stale code keeps the newer one", func(t *testing.T) {
		env := setup(t)
		usr := env.createUser(t, "bob", user.RoleStudent)

		_, err := env.svc.SetOTP(ctx, usr, "123456")
		require.NoError(t, err)
		stale := env.refetch(t, usr)
		for i := 0; i < env.conf.OTP.MaxAttempts; i++ {
			_, err = env.svc.VerifyOTP(ctx, stale, "000000")
			require.Equal(t, user.ErrOTPMismatch, err)
		}

		// a new code lands before its attempts budget is reset
		fresh := env.refetch(t, usr)
		fresh.SetOTP("654321", user.NowFunc().Add(time.Second))
		require.NoError(t, env.repo.SaveOTP(ctx, fresh))

		_, err = env.svc.VerifyOTP(ctx, stale, "123456")
		assert.Equal(t, user.ErrOTPAttemptsExceeded, err)

		stored := env.refetch(t, usr)
		require.True(t, stored.HasOTP())
		assert.Equal(t, "654321", stored.OTP.String)
	})

	t.Run("no email", func(t *testing.T) {
		env := setup(t)
		usr, err := env.svc.Create(ctx, user.NewUser{Name: "Ann", Username: "annie", Password: "Pa$$w0rd!"})
		require.NoError(t, err)

		_, err = env.svc.IssueOTP(ctx, usr)
		var vErr *core.ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.Empty(t, env.mail.SentMessages())
	})
}

func TestService_PasswordReset(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	usr := env.createUser(t, "bob", user.RoleTeacher)

	assert.True(t, core.IsNotFound(env.svc.RequestPasswordReset(ctx, "nobody@kazi.test")))

	require.NoError(t, env.svc.RequestPasswordReset(ctx, "bob@kazi.test"))
	msg, ok := env.mail.LastMessage()
	require.True(t, ok)
	data := msg.TemplateData.(map[string]interface{})
	uid, token := data["UID"].(string), data["Token"].(string)
	assert.Equal(t, user.EncodeUID(usr), uid)

	invalid := func(field string, err error) {
		t.Helper()
		var vErr *core.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, field, vErr.Fields[0].Field)
	}
	invalid("uid", env.svc.ResetPassword(ctx, user.ResetUserPassword{UID: "???", Token: token, Password: "N3w-Pa$$"}))
	invalid("token", env.svc.ResetPassword(ctx, user.ResetUserPassword{UID: uid, Token: "bad-token", Password: "N3w-Pa$$"}))

	require.NoError(t, env.svc.ResetPassword(ctx, user.ResetUserPassword{UID: uid, Token: token, Password: "N3w-Pa$$"}))
	assert.NoError(t, env.refetch(t, usr).CheckPassword("N3w-Pa$$"))

	// tokens die with the password they were made for
	invalid("token", env.svc.ResetPassword(ctx, user.ResetUserPassword{UID: uid, Token: token, Password: "0ther-Pa$$"}))

	inactive := env.createUser(t, "ann", user.RoleStudent)
	falsy := false
	_, err := env.svc.Update(ctx, inactive, user.UpdateUser{Name: inactive.Name, Username: inactive.Username, Email: inactive.Email, IsActive: &falsy})
	require.NoError(t, err)
	assert.True(t, core.IsNotFound(env.svc.RequestPasswordReset(ctx, "ann@kazi.test")))
}
