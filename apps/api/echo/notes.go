package echoapi

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/notes"
	"github.com/trezcool/kazi/core/user"
	"github.com/trezcool/kazi/services/metrics"
)

type notesApi struct {
	svc    notes.Service
	usrSvc user.Service
}

func registerNotesAPI(g *echo.Group, deps ServerDeps, jwt, auth echo.MiddlewareFunc) {
	api := notesApi{svc: deps.NotesSvc, usrSvc: deps.UserSvc}

	ng := g.Group("/notes", jwt, auth)
	ng.GET("", api.query)
	ng.POST("", api.upload, middleware.BodyLimit(uploadBodyLimit))
	ng.GET("/:id/download", api.download)
	ng.DELETE("/:id", api.destroy)
}

// Handlers

func (api *notesApi) query(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	ups, err := api.svc.Query(ctx.Request().Context(), actor, bindNotesFilter(ctx))
	if err != nil {
		return errors.Wrap(err, "querying notes")
	}
	if ups == nil {
		ups = []notes.Upload{}
	}
	return ctx.JSON(http.StatusOK, ups)
}

func (api *notesApi) upload(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	file, err := formFile(ctx)
	if err != nil {
		return err
	}
	defer file.Close()

	up, err := api.svc.Upload(ctx.Request().Context(), actor, file.Filename, file)
	if err != nil {
		return errors.Wrap(err, "uploading notes")
	}
	metrics.Uploads.WithLabelValues("notes").Inc()
	return ctx.JSON(http.StatusCreated, up)
}

func (api *notesApi) download(ctx echo.Context) error {
	_, up, err := api.actorAndUpload(ctx)
	if err != nil {
		return err
	}
	return serveStored(ctx, up.File, func(c context.Context, _ string) (io.ReadCloser, error) {
		return api.svc.Open(c, up)
	})
}

func (api *notesApi) destroy(ctx echo.Context) error {
	actor, up, err := api.actorAndUpload(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), actor, up); err != nil {
		return errors.Wrap(err, "deleting notes")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *notesApi) actorAndUpload(ctx echo.Context) (user.User, notes.Upload, error) {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return user.User{}, notes.Upload{}, err
	}
	up, err := api.svc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		if core.IsNotFound(err) {
			return user.User{}, notes.Upload{}, errHttpNotFound
		}
		return user.User{}, notes.Upload{}, errors.Wrap(err, "getting notes")
	}
	return actor, up, nil
}
