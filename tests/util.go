package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/trezcool/kazi/core/user"
	"github.com/trezcool/kazi/storage/database"
)

// TestDBURLEnv names the env var holding the Postgres URL used by database tests.
const TestDBURLEnv = "TEST_DATABASE_URL"

// PrepareDB opens & migrates the test database. The test is skipped when no database is configured.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()

	url := os.Getenv(TestDBURLEnv)
	if url == "" {
		t.Skipf("%s not set: skipping database test", TestDBURLEnv)
	}
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		t.Fatalf("PrepareDB(): %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db.DB, "up"); err != nil {
		t.Fatalf("PrepareDB(): %v", err)
	}
	ResetDB(t, db)
	return db
}

// ResetDB deletes all rows. Tasks, files & notes go with their users.
func ResetDB(t *testing.T, db *sqlx.DB) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), `DELETE FROM "user"`); err != nil {
		t.Fatalf("ResetDB(): %v", err)
	}
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	role user.Role,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC().Truncate(time.Microsecond)
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC().Truncate(time.Microsecond)
	}
	if role == "" {
		role = user.DefaultRole
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Role:      role,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser(): %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	return usr
}
