package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/kazi/apps/api/echo"
	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/notes"
	"github.com/trezcool/kazi/core/task"
	"github.com/trezcool/kazi/core/user"
	emailsvc "github.com/trezcool/kazi/services/email"
	"github.com/trezcool/kazi/services/filestore"
	logsvc "github.com/trezcool/kazi/services/logger"
	"github.com/trezcool/kazi/services/ratelimit"
	"github.com/trezcool/kazi/storage/database"
	inmemdb "github.com/trezcool/kazi/storage/database/inmem"
	sqlxdb "github.com/trezcool/kazi/storage/database/sqlx"
)

const engineMemory = "memory"

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Repositories are backed by Postgres, or by memory when DB_ENGINE=memory.
type Repositories struct {
	dig.Out
	Users user.Repository
	Tasks task.Repository
	Notes notes.Repository
}

type serverParams struct {
	dig.In
	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator
	Limiter    core.Limiter
	UserSvc    user.Service
	TaskSvc    task.Service
	NotesSvc   notes.Service
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

// newDB returns a nil *sqlx.DB with the memory engine.
func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	if conf.Database.Engine == engineMemory {
		loggerParam.Logger.Warn("using the in-memory database: data will not survive a restart")
		return nil
	}

	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db.DB, "up"); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newRepositories(conf *core.Config, db *sqlx.DB) Repositories {
	if conf.Database.Engine == engineMemory {
		mem := inmemdb.Open()
		return Repositories{
			Users: inmemdb.NewUserRepository(mem),
			Tasks: inmemdb.NewTaskRepository(mem),
			Notes: inmemdb.NewNotesRepository(mem),
		}
	}
	return Repositories{
		Users: sqlxdb.NewUserRepository(db),
		Tasks: sqlxdb.NewTaskRepository(db),
		Notes: sqlxdb.NewNotesRepository(db),
	}
}

// newRedisClient returns nil when REDIS_ADDR is not set: rate limiting is then disabled.
func newRedisClient(conf *core.Config, logger core.Logger) *redis.Client {
	rdb, err := ratelimit.NewRedisClient(context.Background(), conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
	}
	if rdb == nil {
		logger.Warn("REDIS_ADDR not set: rate limiting is disabled")
	}
	return rdb
}

func newLimiter(rdb *redis.Client) core.Limiter {
	return ratelimit.NewRedisLimiter(rdb)
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	out := log.New(os.Stdout, "MAIL : ", log.LstdFlags)
	return emailsvc.New(out, logger, conf)
}

func newTaskService(repo task.Repository, usrSvc user.Service, store core.FileStore) task.Service {
	return task.NewService(repo, usrSvc, store)
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:       p.Conf,
		Logger:     p.Logger,
		Validate:   p.Validate,
		Translator: p.Translator,
		Limiter:    p.Limiter,
		UserSvc:    p.UserSvc,
		TaskSvc:    p.TaskSvc,
		NotesSvc:   p.NotesSvc,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newRepositories))
	must(c.Provide(newRedisClient))
	must(c.Provide(newLimiter))
	must(c.Provide(filestore.NewLocalStore, dig.As(new(core.FileStore))))
	must(c.Provide(newEmailService))
	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(user.NewService))
	must(c.Provide(newTaskService))
	must(c.Provide(notes.NewService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
