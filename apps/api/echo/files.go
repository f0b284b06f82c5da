package echoapi

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kazi/core"
)

const uploadField = "file"

type uploadedFile struct {
	multipart.File
	Filename string
}

// formFile opens the file uploaded in the "file" field of a multipart form.
func formFile(ctx echo.Context) (*uploadedFile, error) {
	fh, err := ctx.FormFile(uploadField)
	if err != nil {
		if err == http.ErrMissingFile || err == http.ErrNotMultipart {
			return nil, core.NewValidationError(nil, core.FieldError{Field: uploadField, Error: "this field is required"})
		}
		return nil, errors.Wrap(err, "reading uploaded file")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, errors.Wrap(err, "opening uploaded file")
	}
	return &uploadedFile{File: f, Filename: fh.Filename}, nil
}

type openFunc func(ctx context.Context, name string) (io.ReadCloser, error)

// serveStored streams a stored file as an attachment.
func serveStored(ctx echo.Context, name string, open openFunc) error {
	rc, err := open(ctx.Request().Context(), name)
	if err != nil {
		if core.IsNotFound(err) {
			return errHttpNotFound
		}
		return errors.Wrap(err, "opening stored file")
	}
	defer rc.Close()

	filename := displayName(name)
	contentType := mime.TypeByExtension(path.Ext(filename))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return ctx.Stream(http.StatusOK, contentType, rc)
}

// displayName drops the directory & the unique prefix the file store adds to stored names.
func displayName(name string) string {
	base := path.Base(name)
	const prefixLen = 36 + 1 // uuid + "-"
	if len(base) > prefixLen && base[prefixLen-1] == '-' {
		if _, err := uuid.Parse(base[:prefixLen-1]); err == nil {
			return base[prefixLen:]
		}
	}
	return base
}
