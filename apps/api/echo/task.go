package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/task"
	"github.com/trezcool/kazi/core/user"
	"github.com/trezcool/kazi/services/metrics"
)

const uploadBodyLimit = "20M"

var errTaskNotFoundInCtx = errors.New("task object not found in echo.Context")

type taskApi struct {
	svc      task.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerTaskAPI(g *echo.Group, deps ServerDeps, jwt, auth echo.MiddlewareFunc) {
	api := taskApi{
		svc:      deps.TaskSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}
	upload := middleware.BodyLimit(uploadBodyLimit)

	tg := g.Group("/tasks", jwt, auth)
	tg.GET("", api.query)
	tg.POST("", api.create)

	// detail endpoints
	dg := tg.Group("/:id", api.taskMiddleware)
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)

	dg.PUT("/attachment", api.setAttachment, upload)
	dg.DELETE("/attachment", api.removeAttachment)
	dg.GET("/attachment/download", api.downloadAttachment)

	dg.GET("/files", api.queryFiles)
	dg.POST("/files", api.addFile, upload)
	dg.GET("/files/:fileID/download", api.downloadFile)
	dg.DELETE("/files/:fileID", api.destroyFile)
}

// Handlers

func (api *taskApi) query(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	filter, err := bindTaskFilter(ctx)
	if err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	tasks, err := api.svc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying tasks")
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	return ctx.JSON(http.StatusOK, tasks)
}

func (api *taskApi) create(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	if !actor.CanCreateTasks() {
		return errHttpForbidden
	}

	var data task.NewTask
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTask")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	t, err := api.svc.Create(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating task")
	}
	return ctx.JSON(http.StatusCreated, t)
}

func (api *taskApi) retrieve(ctx echo.Context) error {
	t, err := ctxTask(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *taskApi) update(ctx echo.Context) error {
	actor, t, err := api.actorAndTask(ctx)
	if err != nil {
		return err
	}

	var data task.UpdateTask
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateTask")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	t, err = api.svc.Update(ctx.Request().Context(), actor, t, data)
	if err != nil {
		return errors.Wrap(err, "updating task")
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *taskApi) destroy(ctx echo.Context) error {
	actor, t, err := api.actorAndTask(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), actor, t); err != nil {
		return errors.Wrap(err, "deleting task")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *taskApi) setAttachment(ctx echo.Context) error {
	actor, t, err := api.actorAndTask(ctx)
	if err != nil {
		return err
	}
	if !task.CanEdit(actor, t) {
		return errHttpForbidden
	}

	file, err := formFile(ctx)
	if err != nil {
		return err
	}
	defer file.Close()

	t, err = api.svc.SetAttachment(ctx.Request().Context(), actor, t, file.Filename, file)
	if err != nil {
		return errors.Wrap(err, "setting attachment")
	}
	metrics.Uploads.WithLabelValues("task_attachment").Inc()
	return ctx.JSON(http.StatusOK, t)
}

func (api *taskApi) removeAttachment(ctx echo.Context) error {
	actor, t, err := api.actorAndTask(ctx)
	if err != nil {
		return err
	}
	t, err = api.svc.RemoveAttachment(ctx.Request().Context(), actor, t)
	if err != nil {
		return errors.Wrap(err, "removing attachment")
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *taskApi) downloadAttachment(ctx echo.Context) error {
	t, err := ctxTask(ctx)
	if err != nil {
		return err
	}
	if !t.Attachment.Valid {
		return errHttpNotFound
	}
	return serveStored(ctx, t.Attachment.String, api.svc.OpenFile)
}

func (api *taskApi) queryFiles(ctx echo.Context) error {
	actor, t, err := api.actorAndTask(ctx)
	if err != nil {
		return err
	}
	files, err := api.svc.Files(ctx.Request().Context(), actor, t)
	if err != nil {
		return errors.Wrap(err, "querying task files")
	}
	if files == nil {
		files = []task.TaskFile{}
	}
	return ctx.JSON(http.StatusOK, files)
}

func (api *taskApi) addFile(ctx echo.Context) error {
	actor, t, err := api.actorAndTask(ctx)
	if err != nil {
		return err
	}

	file, err := formFile(ctx)
	if err != nil {
		return err
	}
	defer file.Close()

	f, err := api.svc.AddFile(ctx.Request().Context(), actor, t, file.Filename, file)
	if err != nil {
		return errors.Wrap(err, "adding task file")
	}
	metrics.Uploads.WithLabelValues("task_file").Inc()
	return ctx.JSON(http.StatusCreated, f)
}

func (api *taskApi) downloadFile(ctx echo.Context) error {
	actor, t, err := api.actorAndTask(ctx)
	if err != nil {
		return err
	}
	f, err := api.svc.GetFile(ctx.Request().Context(), actor, t, ctx.Param("fileID"))
	if err != nil {
		return errors.Wrap(err, "getting task file")
	}
	return serveStored(ctx, f.File, api.svc.OpenFile)
}

func (api *taskApi) destroyFile(ctx echo.Context) error {
	actor, t, err := api.actorAndTask(ctx)
	if err != nil {
		return err
	}
	f, err := api.svc.GetFile(ctx.Request().Context(), actor, t, ctx.Param("fileID"))
	if err != nil {
		return errors.Wrap(err, "getting task file")
	}
	if err = api.svc.DeleteFile(ctx.Request().Context(), actor, t, f); err != nil {
		return errors.Wrap(err, "deleting task file")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// taskMiddleware puts the Task of the `:id` path param in the context as "object",
// if the authenticated User can see it.
func (api *taskApi) taskMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		actor, err := getContextUser(ctx, api.usrSvc)
		if err != nil {
			return err
		}
		t, err := api.svc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
		if err != nil {
			if core.IsNotFound(err) {
				return errHttpNotFound
			}
			return errors.Wrap(err, "getting task")
		}
		ctx.Set("object", t)
		return next(ctx)
	}
}

func (api *taskApi) actorAndTask(ctx echo.Context) (user.User, task.Task, error) {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return user.User{}, task.Task{}, err
	}
	t, err := ctxTask(ctx)
	return actor, t, err
}

func ctxTask(ctx echo.Context) (task.Task, error) {
	t, ok := ctx.Get("object").(task.Task)
	if !ok {
		return task.Task{}, errors.Wrap(errTaskNotFoundInCtx, "retrieving object from context")
	}
	return t, nil
}
