package sqlxrepos

import (
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/kazi/core"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

var errUnknownUser = core.NewValidationError(nil, core.FieldError{Field: "user", Error: "user not found"})

// where accumulates the conditions of a WHERE clause, using `?` bind vars.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

// build appends the WHERE & ORDER BY clauses to `query`, expands slice args and rebinds for `db`.
func (w *where) build(db sqlx.ExtContext, query string, ordering []core.DBOrdering) (string, []interface{}, error) {
	if len(w.conds) > 0 {
		query += " WHERE " + strings.Join(w.conds, " AND ")
	}
	if len(ordering) > 0 {
		orderList := make([]string, 0, len(ordering))
		for _, ord := range ordering {
			orderList = append(orderList, ord.String())
		}
		query += " ORDER BY " + strings.Join(orderList, ", ")
	}

	q, args, err := sqlx.In(query, w.args...)
	if err != nil {
		return "", nil, errors.Wrap(err, "expanding query args")
	}
	return db.Rebind(q), args, nil
}

// isUUID avoids sending malformed IDs to postgres, which would fail the whole query.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// trapNoRowsErr maps "no rows" err to `notFound`
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func pqError(err error) (*pq.Error, bool) {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	return pqErr, ok
}

func checkAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "getting affected rows")
	}
	if n == 0 {
		return notFound
	}
	return nil
}
