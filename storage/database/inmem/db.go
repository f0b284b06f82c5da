package inmemdb

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/notes"
	"github.com/trezcool/kazi/core/task"
	"github.com/trezcool/kazi/core/user"
)

var (
	errOTPPair     = errors.New("otp and otp_created_at must both be set or both be null")
	errUnknownUser = errors.New("foreign key violation: unknown user")
)

// DB is an in-memory database. It keeps the foreign key semantics of the SQL schema:
// deleting a User deletes the Tasks they created and their notes, and unassigns their Tasks.
type DB struct {
	sync.RWMutex
	users     map[string]*user.User
	tasks     map[string]*task.Task
	taskFiles map[string]*task.TaskFile
	notes     map[string]*notes.Upload
}

func Open() *DB {
	return &DB{
		users:     make(map[string]*user.User),
		tasks:     make(map[string]*task.Task),
		taskFiles: make(map[string]*task.TaskFile),
		notes:     make(map[string]*notes.Upload),
	}
}

// Reset empties all tables.
func (db *DB) Reset() {
	db.Lock()
	defer db.Unlock()
	db.users = make(map[string]*user.User)
	db.tasks = make(map[string]*task.Task)
	db.taskFiles = make(map[string]*task.TaskFile)
	db.notes = make(map[string]*notes.Upload)
}

// deleteTask must be called with the write lock held.
func (db *DB) deleteTask(id string) {
	delete(db.tasks, id)
	for fid, f := range db.taskFiles {
		if f.TaskID == id {
			delete(db.taskFiles, fid)
		}
	}
}

// deleteUser must be called with the write lock held.
func (db *DB) deleteUser(id string) bool {
	if _, ok := db.users[id]; !ok {
		return false
	}
	delete(db.users, id)

	for tid, t := range db.tasks {
		if t.CreatedByID == id {
			db.deleteTask(tid)
			continue
		}
		if t.IsAssignedTo(id) {
			t.AssignedToID.Valid = false
			t.AssignedToID.String = ""
		}
	}
	for nid, n := range db.notes {
		if n.UploadedByID == id {
			delete(db.notes, nid)
		}
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// orderedLess reports whether a sorts before b. `cmp` compares a & b on a field:
// negative if a < b, positive if a > b. Unknown fields compare equal.
func orderedLess(ordering []core.DBOrdering, cmp func(field string) int) bool {
	for _, ord := range ordering {
		c := cmp(ord.Field)
		if c == 0 {
			continue
		}
		if ord.Ascending {
			return c < 0
		}
		return c > 0
	}
	return false
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}
