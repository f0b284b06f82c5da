package main

import (
	"github.com/pkg/errors"

	"github.com/trezcool/kazi/storage/database"
)

var (
	migrateFunc = database.Migrate // mockable

	errNoDatabase = errors.New("no database to migrate")
)

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoDatabase
	}
	return migrateFunc(cli.db, args[0], args[1:]...)
}
