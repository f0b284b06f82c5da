package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/kazi/core/notes"
)

type notesRepository struct {
	db *DB
}

var _ notes.Repository = (*notesRepository)(nil) // interface compliance check

func NewNotesRepository(db *DB) notes.Repository {
	return &notesRepository{db: db}
}

func (repo *notesRepository) CreateUpload(_ context.Context, up notes.Upload) (notes.Upload, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.users[up.UploadedByID]; !ok {
		return notes.Upload{}, errUnknownUser
	}
	up.ID = uuid.New().String()
	repo.db.notes[up.ID] = &up
	return up, nil
}

func (repo *notesRepository) QueryUploads(_ context.Context, filter notes.QueryFilter) ([]notes.Upload, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	ups := make([]notes.Upload, 0)
	for _, up := range repo.db.notes {
		if filter.UploadedBy == "" || up.UploadedByID == filter.UploadedBy {
			ups = append(ups, *up)
		}
	}
	sort.SliceStable(ups, func(i, j int) bool { return ups[i].UploadedAt.After(ups[j].UploadedAt) })
	return ups, nil
}

func (repo *notesRepository) GetUpload(_ context.Context, id string) (notes.Upload, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if up, ok := repo.db.notes[id]; ok {
		return *up, nil
	}
	return notes.Upload{}, notes.ErrNotFound
}

func (repo *notesRepository) DeleteUpload(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.notes[id]; !ok {
		return notes.ErrNotFound
	}
	delete(repo.db.notes, id)
	return nil
}
