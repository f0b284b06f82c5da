package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/kazi/apps/api/echo"
	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/notes"
	"github.com/trezcool/kazi/core/task"
	"github.com/trezcool/kazi/core/user"
	appfs "github.com/trezcool/kazi/fs"
	emailsvc "github.com/trezcool/kazi/services/email"
	"github.com/trezcool/kazi/services/filestore"
	"github.com/trezcool/kazi/services/ratelimit"
	inmemdb "github.com/trezcool/kazi/storage/database/inmem"
	testutil "github.com/trezcool/kazi/tests"
)

const testPassword = "Pa$$w0rd!"

var (
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
	errNotFound     = httpErr{Error: "not found"}
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type testEnv struct {
	app     *echoapi.Server
	conf    *core.Config
	usrRepo user.Repository
	mail    *emailsvc.ConsoleServiceMock
	redis   *miniredis.Miniredis
}

func setup(t *testing.T, configure ...func(conf *core.Config)) testEnv {
	t.Helper()

	conf := core.NewTestConfig()
	conf.Media.Root = t.TempDir()
	for _, fn := range configure {
		fn(conf)
	}

	core.ParseEmailTemplates(appfs.FS, nopLogger{}, true)
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	task.InitValidators(validate, translator)

	// rate limiting & OTP attempts
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	limiter := ratelimit.NewRedisLimiter(rdb)

	store, err := filestore.NewLocalStore(conf)
	require.NoError(t, err)

	// set up DB & repos
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	usrSvc := user.NewService(usrRepo, mailSvc, limiter, conf)

	// set up server
	app := echoapi.NewServer(echoapi.ServerDeps{
		Conf:       conf,
		Logger:     nopLogger{},
		Validate:   validate,
		Translator: translator,
		Limiter:    limiter,
		UserSvc:    usrSvc,
		TaskSvc:    task.NewService(inmemdb.NewTaskRepository(db), usrSvc, store),
		NotesSvc:   notes.NewService(inmemdb.NewNotesRepository(db), store),
	})
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	return testEnv{app: app, conf: conf, usrRepo: usrRepo, mail: mailSvc, redis: mr}
}

func (env testEnv) createUser(t *testing.T, uname string, role user.Role, isActive bool, createdAt ...time.Time) user.User {
	t.Helper()
	return testutil.CreateUser(t, env.usrRepo, uname, uname, uname+"@kazi.test", testPassword, role, isActive, createdAt...)
}

func (env testEnv) refetch(t *testing.T, usr user.User) user.User {
	t.Helper()
	usr, err := env.usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
	require.NoError(t, err)
	return usr
}

// serve runs the request through the app & returns the recorded response.
func (env testEnv) serve(req *http.Request, rec *httptest.ResponseRecorder) *httptest.ResponseRecorder {
	env.app.ServeHTTP(rec, req)
	return rec
}

// login runs the password + OTP flow for `usr` and returns their JWT.
func (env testEnv) login(t *testing.T, usr user.User) string {
	t.Helper()

	rec := env.serve(newRequest(http.MethodPost, "/v1/users/login", marchallObj(t, echoapi.LoginRequest{
		Username: usr.Username,
		Password: testPassword,
	})))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	code := env.refetch(t, usr).OTP.String
	rec = env.serve(newRequest(http.MethodPost, "/v1/users/login/verify", marchallObj(t, echoapi.VerifyLoginRequest{
		Username: usr.Username,
		OTP:      code,
	})))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp echoapi.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

// newUploadRequest builds a multipart request carrying `content` in the "file" field.
func newUploadRequest(t *testing.T, method, path, token, filename, content string) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}

func getToken(t *testing.T, usr user.User, conf *core.Config) string {
	claims := echoapi.GetUserClaims(usr, conf)
	token, err := echoapi.GenerateToken(claims, conf.SecretKey)
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList(): %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, "code")
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
