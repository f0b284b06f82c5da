package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/kazi/core/notes"
)

const notesColumns = `id, uploaded_by, file, uploaded_at`

type notesRow struct {
	ID         string    `db:"id"`
	UploadedBy string    `db:"uploaded_by"`
	File       string    `db:"file"`
	UploadedAt time.Time `db:"uploaded_at"`
}

func (row notesRow) toUpload() notes.Upload {
	return notes.Upload{ID: row.ID, UploadedByID: row.UploadedBy, File: row.File, UploadedAt: row.UploadedAt.UTC()}
}

type notesRepository struct {
	db sqlx.ExtContext
}

var _ notes.Repository = (*notesRepository)(nil) // interface compliance check

func NewNotesRepository(db sqlx.ExtContext) notes.Repository {
	return &notesRepository{db: db}
}

func (repo *notesRepository) CreateUpload(ctx context.Context, up notes.Upload) (notes.Upload, error) {
	up.ID = uuid.New().String()
	q := `INSERT INTO notes_upload (` + notesColumns + `) VALUES (:id, :uploaded_by, :file, :uploaded_at)`
	row := notesRow{ID: up.ID, UploadedBy: up.UploadedByID, File: up.File, UploadedAt: up.UploadedAt.UTC()}
	if _, err := sqlx.NamedExecContext(ctx, repo.db, q, row); err != nil {
		return notes.Upload{}, trapForeignKeyErr(err, "inserting notes")
	}
	return up, nil
}

func (repo *notesRepository) QueryUploads(ctx context.Context, filter notes.QueryFilter) ([]notes.Upload, error) {
	ups := make([]notes.Upload, 0)
	w := &where{}
	if filter.UploadedBy != "" {
		if !isUUID(filter.UploadedBy) {
			return ups, nil
		}
		w.add("uploaded_by = ?", filter.UploadedBy)
	}

	q, args, err := w.build(repo.db, `SELECT `+notesColumns+` FROM notes_upload`, nil)
	if err != nil {
		return nil, err
	}
	var rows []notesRow
	if err = sqlx.SelectContext(ctx, repo.db, &rows, q+" ORDER BY uploaded_at DESC", args...); err != nil {
		return nil, errors.Wrap(err, "querying notes")
	}
	for _, row := range rows {
		ups = append(ups, row.toUpload())
	}
	return ups, nil
}

func (repo *notesRepository) GetUpload(ctx context.Context, id string) (notes.Upload, error) {
	if !isUUID(id) {
		return notes.Upload{}, notes.ErrNotFound
	}
	var row notesRow
	q := repo.db.Rebind(`SELECT ` + notesColumns + ` FROM notes_upload WHERE id = ?`)
	if err := sqlx.GetContext(ctx, repo.db, &row, q, id); err != nil {
		return notes.Upload{}, trapNoRowsErr(err, notes.ErrNotFound, "finding notes")
	}
	return row.toUpload(), nil
}

func (repo *notesRepository) DeleteUpload(ctx context.Context, id string) error {
	if !isUUID(id) {
		return notes.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind(`DELETE FROM notes_upload WHERE id = ?`), id)
	if err != nil {
		return errors.Wrap(err, "deleting notes")
	}
	return checkAffected(res, notes.ErrNotFound)
}
